package repository

import (
	"context"
	"ticketing/src/models/scopes"

	"gorm.io/gorm"
)

// CRUD is a generic store for entities without domain behaviour of their own.
// Callbacks run inside the create transaction.
type CRUD[T any] struct {
	repo         *Repository
	name         string
	BeforeCreate func(ctx context.Context, tx *gorm.DB, entity *T) error
	AfterCreate  func(ctx context.Context, tx *gorm.DB, entity *T) error
}

func NewCRUD[T any](repo *Repository, name string) *CRUD[T] {
	return &CRUD[T]{repo: repo, name: name}
}

func (c *CRUD[T]) Create(ctx context.Context, entity *T) error {
	return c.repo.WithTx(ctx, func(ctx context.Context) error {
		tx := c.repo.conn(ctx)
		if c.BeforeCreate != nil {
			if err := c.BeforeCreate(ctx, tx, entity); err != nil {
				return err
			}
		}
		if err := tx.Create(entity).Error; err != nil {
			return err
		}
		if c.AfterCreate != nil {
			return c.AfterCreate(ctx, tx, entity)
		}
		return nil
	})
}

func (c *CRUD[T]) Get(ctx context.Context, id uint, preloads ...string) (*T, error) {
	var entity T
	q := c.repo.conn(ctx)
	for _, p := range preloads {
		q = q.Preload(p)
	}
	if err := q.Scopes(scopes.WithID(id)).First(&entity).Error; err != nil {
		return nil, notFound(err, c.name)
	}
	return &entity, nil
}

// List applies conds as successive Where clauses: each entry is a query
// string followed by its arguments.
func (c *CRUD[T]) List(ctx context.Context, page, size int, conds ...[]any) ([]T, error) {
	var out []T
	q := c.repo.conn(ctx)
	for _, cond := range conds {
		if len(cond) == 0 {
			continue
		}
		q = q.Where(cond[0], cond[1:]...)
	}
	err := q.Scopes(scopes.Paginate(page, size)).Order("id DESC").Find(&out).Error
	return out, err
}

func (c *CRUD[T]) Update(ctx context.Context, id uint, fields map[string]any) error {
	var entity T
	res := c.repo.conn(ctx).Model(&entity).Scopes(scopes.WithID(id)).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, c.name)
	}
	return nil
}

func (c *CRUD[T]) Delete(ctx context.Context, id uint) error {
	var entity T
	res := c.repo.conn(ctx).Scopes(scopes.WithID(id)).Delete(&entity)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, c.name)
	}
	return nil
}
