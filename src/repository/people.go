package repository

import (
	"context"
	"ticketing/src/models"
	"ticketing/src/models/scopes"

	"gorm.io/gorm/clause"
)

func (r *Repository) GetPerson(ctx context.Context, id uint) (*models.Person, error) {
	var p models.Person
	if err := r.conn(ctx).Scopes(scopes.WithID(id)).First(&p).Error; err != nil {
		return nil, notFound(err, "person")
	}
	return &p, nil
}

func (r *Repository) FindPersonByPhone(ctx context.Context, phone string) (*models.Person, error) {
	var p models.Person
	if err := r.conn(ctx).Where("phone = ?", phone).First(&p).Error; err != nil {
		return nil, notFound(err, "person")
	}
	return &p, nil
}

// CreatePerson inserts p unless the phone is taken, then returns the stored row.
func (r *Repository) CreatePerson(ctx context.Context, p *models.Person) (*models.Person, error) {
	if err := r.conn(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "phone"}}, DoNothing: true}).
		Create(p).
		Error; err != nil {
		return nil, err
	}
	return r.FindPersonByPhone(ctx, p.Phone)
}
