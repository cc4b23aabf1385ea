package repository

import (
	"context"
	"ticketing/src/models"
	"ticketing/src/models/scopes"
	"ticketing/src/types"
	"time"

	"github.com/google/uuid"
)

func (r *Repository) CreatePayment(ctx context.Context, p *models.Payment) error {
	return r.conn(ctx).Omit("Person", "Lines", "Tickets").Create(p).Error
}

func (r *Repository) CreatePaymentLines(ctx context.Context, lines []models.PaymentLine) error {
	if len(lines) == 0 {
		return nil
	}
	return r.conn(ctx).Omit("TicketType").Create(&lines).Error
}

func (r *Repository) LockPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	if err := r.conn(ctx).Scopes(scopes.ForUpdate).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err, "payment")
	}
	return &p, nil
}

func (r *Repository) LockPaymentBySession(ctx context.Context, provider types.Provider, sessionID string) (*models.Payment, error) {
	var p models.Payment
	if err := r.conn(ctx).
		Scopes(scopes.ForUpdate).
		Where("made_through = ? AND provider_session_id = ?", provider, sessionID).
		First(&p).
		Error; err != nil {
		return nil, notFound(err, "payment")
	}
	return &p, nil
}

func (r *Repository) SavePayment(ctx context.Context, p *models.Payment) error {
	return r.conn(ctx).Omit("Person", "Lines", "Tickets").Save(p).Error
}

func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	if err := r.conn(ctx).
		Preload("Lines.TicketType").
		Preload("Tickets").
		Where("id = ?", id).
		First(&p).
		Error; err != nil {
		return nil, notFound(err, "payment")
	}
	return &p, nil
}

func (r *Repository) ListPaymentLines(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentLine, error) {
	var lines []models.PaymentLine
	err := r.conn(ctx).
		Preload("TicketType.Event").
		Where("payment_id = ?", paymentID).
		Order("id").
		Find(&lines).
		Error
	return lines, err
}

func (r *Repository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.conn(ctx).
		Model(&models.Payment{}).
		Scopes(scopes.WithPaymentState(types.PAYMENT_PENDING), scopes.CreatedBefore(before)).
		Order("created_at").
		Limit(limit).
		Pluck("id", &ids).
		Error
	return ids, err
}

// ListReconcilable returns pending payments the provider has a session for,
// and underpaid payments awaiting a settled amount.
func (r *Repository) ListReconcilable(ctx context.Context, limit int) ([]models.Payment, error) {
	var ps []models.Payment
	err := r.conn(ctx).
		Where("(state = ? AND provider_session_id IS NOT NULL) OR (state = ? AND provider_transaction_id IS NOT NULL)",
			types.PAYMENT_PENDING, types.PAYMENT_UNDERPAID).
		Order("created_at").
		Limit(limit).
		Find(&ps).
		Error
	return ps, err
}

func (r *Repository) ListConfirmedWithoutTickets(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.conn(ctx).
		Model(&models.Payment{}).
		Where("state IN (?)", []types.PaymentState{types.PAYMENT_PAID, types.PAYMENT_OVERPAID}).
		Where("NOT EXISTS (SELECT 1 FROM tickets WHERE tickets.payment_id = payments.id)").
		Limit(limit).
		Pluck("id", &ids).
		Error
	return ids, err
}

type PaymentFilter struct {
	State    types.PaymentState
	Provider types.Provider
	PersonID *uint
	Verified *bool
	From     *time.Time
	To       *time.Time
	Page     int
	Size     int
}

func (r *Repository) ListPayments(ctx context.Context, f PaymentFilter) ([]models.Payment, error) {
	q := r.conn(ctx).Model(&models.Payment{})
	if f.State != "" {
		q = q.Scopes(scopes.WithPaymentState(f.State))
	}
	if f.Provider != "" {
		q = q.Where("made_through = ?", f.Provider)
	}
	if f.PersonID != nil {
		q = q.Where("person_id = ?", *f.PersonID)
	}
	if f.Verified != nil {
		q = q.Where("verified = ?", *f.Verified)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", f.To.AddDate(0, 0, 1))
	}
	var ps []models.Payment
	err := q.Scopes(scopes.Paginate(f.Page, f.Size)).Order("created_at DESC").Find(&ps).Error
	return ps, err
}

func (r *Repository) LogTransaction(ctx context.Context, entry *models.PaymentTransactionLog) error {
	return r.conn(ctx).Create(entry).Error
}

func (r *Repository) CreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	return r.conn(ctx).Create(intent).Error
}

func (r *Repository) LockIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.conn(ctx).Scopes(scopes.ForUpdate).Where("id = ?", id).First(&intent).Error; err != nil {
		return nil, notFound(err, "payment intent")
	}
	if err := r.conn(ctx).Where("intent_id = ?", id).Order("id").Find(&intent.Lines).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *Repository) SaveIntent(ctx context.Context, intent *models.PaymentIntent) error {
	return r.conn(ctx).Omit("Lines").Save(intent).Error
}

// PartnerOwnerForPayment resolves the owner of the partner whose event a payment is for.
func (r *Repository) PartnerOwnerForPayment(ctx context.Context, paymentID uuid.UUID) (*models.Person, error) {
	var owner models.Person
	err := r.conn(ctx).
		Table("people").
		Select("people.*").
		Joins("JOIN partners ON partners.owner_id = people.id").
		Joins("JOIN events ON events.partner_id = partners.id").
		Joins("JOIN ticket_types ON ticket_types.event_id = events.id").
		Joins("JOIN payment_lines ON payment_lines.ticket_type_id = ticket_types.id").
		Where("payment_lines.payment_id = ?", paymentID).
		Limit(1).
		Scan(&owner).
		Error
	if err != nil {
		return nil, err
	}
	if owner.ID == 0 {
		return nil, types.ErrNotFound("partner owner")
	}
	return &owner, nil
}
