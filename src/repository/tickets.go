package repository

import (
	"context"
	"errors"
	"fmt"
	"ticketing/src/models"
	"ticketing/src/models/scopes"
	"ticketing/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (r *Repository) CountTickets(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	var n int64
	err := r.conn(ctx).Model(&models.Ticket{}).Where("payment_id = ?", paymentID).Count(&n).Error
	return n, err
}

func (r *Repository) CountTicketsForLine(ctx context.Context, paymentID uuid.UUID, ticketTypeID uint) (int64, error) {
	var n int64
	err := r.conn(ctx).
		Model(&models.Ticket{}).
		Where("payment_id = ? AND ticket_type_id = ?", paymentID, ticketTypeID).
		Count(&n).
		Error
	return n, err
}

func (r *Repository) ListTickets(ctx context.Context, paymentID uuid.UUID) ([]models.Ticket, error) {
	var ts []models.Ticket
	err := r.conn(ctx).Where("payment_id = ?", paymentID).Order("id").Find(&ts).Error
	return ts, err
}

// CreateTicket inserts t under a savepoint so a signature collision leaves
// the surrounding transaction usable.
func (r *Repository) CreateTicket(ctx context.Context, t *models.Ticket) error {
	tx := r.conn(ctx)
	sp := fmt.Sprintf("ticket_%s", uuid.NewString()[:8])
	if err := tx.SavePoint(sp).Error; err != nil {
		return err
	}
	err := tx.Omit("TicketType", "Payment", "Person").Create(t).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		if rbErr := tx.RollbackTo(sp).Error; rbErr != nil {
			return rbErr
		}
		return types.ErrDuplicateSignature
	}
	return err
}

func (r *Repository) LockTicket(ctx context.Context, id uint) (*models.Ticket, error) {
	var t models.Ticket
	if err := r.conn(ctx).Scopes(scopes.ForUpdate, scopes.WithID(id)).First(&t).Error; err != nil {
		return nil, notFound(err, "ticket")
	}
	t.TicketType = &models.TicketType{}
	if err := r.conn(ctx).Scopes(scopes.WithID(t.TicketTypeID)).First(t.TicketType).Error; err != nil {
		return nil, err
	}
	t.Payment = &models.Payment{}
	if err := r.conn(ctx).Where("id = ?", t.PaymentID).First(t.Payment).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) SaveTicketUses(ctx context.Context, id uint, uses int) error {
	return r.conn(ctx).Model(&models.Ticket{}).Scopes(scopes.WithID(id)).Update("uses", uses).Error
}

func (r *Repository) CreateScan(ctx context.Context, scan *models.TicketScan) error {
	return r.conn(ctx).Create(scan).Error
}

// FindTicketsBySignature returns at most two matches, enough to detect ambiguity.
func (r *Repository) FindTicketsBySignature(ctx context.Context, sig string) ([]models.Ticket, error) {
	var ts []models.Ticket
	err := r.conn(ctx).
		Preload("TicketType.Event").
		Where("signature = ?", sig).
		Limit(2).
		Find(&ts).
		Error
	return ts, err
}

func (r *Repository) GetTicket(ctx context.Context, id uint) (*models.Ticket, error) {
	var t models.Ticket
	if err := r.conn(ctx).
		Preload("TicketType.Event").
		Preload("Person").
		Scopes(scopes.WithID(id)).
		First(&t).
		Error; err != nil {
		return nil, notFound(err, "ticket")
	}
	return &t, nil
}

func (r *Repository) MarkTicketSent(ctx context.Context, id uint) error {
	return r.conn(ctx).Model(&models.Ticket{}).Scopes(scopes.WithID(id)).Update("sent", true).Error
}
