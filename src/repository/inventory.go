package repository

import (
	"context"
	"ticketing/src/models"
	"ticketing/src/models/scopes"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (r *Repository) ListTicketTypes(ctx context.Context, ids []uint) ([]models.TicketType, error) {
	var tts []models.TicketType
	err := r.conn(ctx).
		Scopes(scopes.WithIDs(ids...)).
		Where("active = ?", true).
		Preload("Event").
		Find(&tts).
		Error
	return tts, err
}

func (r *Repository) LockTicketType(ctx context.Context, id uint) (*models.TicketType, error) {
	var tt models.TicketType
	if err := r.conn(ctx).Scopes(scopes.ForUpdate, scopes.WithID(id)).First(&tt).Error; err != nil {
		return nil, notFound(err, "ticket type")
	}
	return &tt, nil
}

// UpdateStock applies delta atomically; the stock CHECK rejects negative results.
func (r *Repository) UpdateStock(ctx context.Context, id uint, delta int) error {
	return r.conn(ctx).
		Model(&models.TicketType{}).
		Scopes(scopes.WithID(id)).
		Update("stock", gorm.Expr("stock + ?", delta)).
		Error
}

func (r *Repository) CreateReservation(ctx context.Context, res *models.Reservation) error {
	return r.conn(ctx).Create(res).Error
}

func (r *Repository) LockOpenReservations(ctx context.Context, paymentID uuid.UUID) ([]models.Reservation, error) {
	var rs []models.Reservation
	err := r.conn(ctx).
		Scopes(scopes.ForUpdate).
		Where("payment_id = ? AND released = ?", paymentID, false).
		Order("id").
		Find(&rs).
		Error
	return rs, err
}

func (r *Repository) MarkReservationReleased(ctx context.Context, id uint) error {
	return r.conn(ctx).
		Model(&models.Reservation{}).
		Scopes(scopes.WithID(id)).
		Update("released", true).
		Error
}
