package repository

import (
	"context"
	"ticketing/src/models"
	"ticketing/src/models/scopes"

	"github.com/google/uuid"
)

func (r *Repository) FindTicketTypePromos(ctx context.Context, code string, ticketTypeIDs []uint) ([]models.TicketTypePromo, error) {
	var ps []models.TicketTypePromo
	err := r.conn(ctx).
		Where("name = ? AND ticket_type_id IN (?)", code, ticketTypeIDs).
		Order("id").
		Find(&ps).
		Error
	return ps, err
}

func (r *Repository) FindEventPromos(ctx context.Context, code string, eventID uint) ([]models.EventPromo, error) {
	var ps []models.EventPromo
	err := r.conn(ctx).
		Where("name = ? AND event_id = ?", code, eventID).
		Order("id").
		Find(&ps).
		Error
	return ps, err
}

func (r *Repository) LockTicketTypePromo(ctx context.Context, id uint) (*models.TicketTypePromo, error) {
	var p models.TicketTypePromo
	if err := r.conn(ctx).Scopes(scopes.ForUpdate, scopes.WithID(id)).First(&p).Error; err != nil {
		return nil, notFound(err, "promo")
	}
	return &p, nil
}

func (r *Repository) LockEventPromo(ctx context.Context, id uint) (*models.EventPromo, error) {
	var p models.EventPromo
	if err := r.conn(ctx).Scopes(scopes.ForUpdate, scopes.WithID(id)).First(&p).Error; err != nil {
		return nil, notFound(err, "promo")
	}
	return &p, nil
}

func (r *Repository) SetTicketTypePromoUseLimit(ctx context.Context, id uint, useLimit int) error {
	return r.conn(ctx).Model(&models.TicketTypePromo{}).Scopes(scopes.WithID(id)).Update("use_limit", useLimit).Error
}

func (r *Repository) SetEventPromoUseLimit(ctx context.Context, id uint, useLimit int) error {
	return r.conn(ctx).Model(&models.EventPromo{}).Scopes(scopes.WithID(id)).Update("use_limit", useLimit).Error
}

func (r *Repository) CreatePromoRedemption(ctx context.Context, red *models.PromoRedemption) error {
	return r.conn(ctx).Create(red).Error
}

// FindOpenPromoRedemption locks the unrestored redemption of a payment, if any.
func (r *Repository) FindOpenPromoRedemption(ctx context.Context, paymentID uuid.UUID) (*models.PromoRedemption, error) {
	var reds []models.PromoRedemption
	if err := r.conn(ctx).
		Scopes(scopes.ForUpdate).
		Where("payment_id = ? AND restored = ?", paymentID, false).
		Limit(1).
		Find(&reds).
		Error; err != nil {
		return nil, err
	}
	if len(reds) == 0 {
		return nil, nil
	}
	return &reds[0], nil
}

func (r *Repository) MarkPromoRedemptionRestored(ctx context.Context, id uint) error {
	return r.conn(ctx).Model(&models.PromoRedemption{}).Scopes(scopes.WithID(id)).Update("restored", true).Error
}
