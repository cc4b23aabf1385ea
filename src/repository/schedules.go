package repository

import (
	"context"
	"ticketing/src/models"
	"ticketing/src/models/scopes"
	"ticketing/src/types"
	"time"

	"gorm.io/gorm/clause"
)

// ListReminderTargets returns one row per (person, event) holding confirmed
// tickets for events starting in [from, to), limited to opted-in people.
func (r *Repository) ListReminderTargets(ctx context.Context, from, to time.Time) ([]models.ReminderTarget, error) {
	var targets []models.ReminderTarget
	err := r.conn(ctx).
		Table("tickets").
		Select(`DISTINCT people.id AS person_id, people.phone, people.name,
			events.id AS event_id, events.name AS event_name,
			to_char(events.date, 'YYYY-MM-DD HH24:MI') AS event_date, events.partner_id`).
		Joins("JOIN payments ON payments.id = tickets.payment_id").
		Joins("JOIN people ON people.id = tickets.person_id").
		Joins("JOIN ticket_types ON ticket_types.id = tickets.ticket_type_id").
		Joins("JOIN events ON events.id = ticket_types.event_id").
		Joins(`JOIN opt_ins ON opt_ins.person_id = people.id AND opt_ins.partner_id = events.partner_id
			AND (opt_ins.event_id IS NULL OR opt_ins.event_id = events.id) AND opt_ins.channel = ? AND opt_ins.deleted_at IS NULL`, types.CHANNEL_SMS).
		Where("payments.state IN (?)", []types.PaymentState{types.PAYMENT_PAID, types.PAYMENT_OVERPAID}).
		Where("events.date >= ? AND events.date < ?", from, to).
		Where("tickets.deleted_at IS NULL").
		Order("events.partner_id, people.id").
		Scan(&targets).
		Error
	return targets, err
}

func (r *Repository) MarkReminded(ctx context.Context, personID, eventID uint) (bool, error) {
	res := r.conn(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.EventReminder{PersonID: personID, EventID: eventID})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) LockPartner(ctx context.Context, id uint) (*models.Partner, error) {
	var p models.Partner
	if err := r.conn(ctx).Scopes(scopes.ForUpdate, scopes.WithID(id)).First(&p).Error; err != nil {
		return nil, notFound(err, "partner")
	}
	return &p, nil
}

func (r *Repository) SetPartnerCredits(ctx context.Context, id uint, credits int) error {
	return r.conn(ctx).Model(&models.Partner{}).Scopes(scopes.WithID(id)).Update("sms_credits", credits).Error
}

func (r *Repository) ListDuePromotions(ctx context.Context, day time.Time) ([]models.PartnerPromotion, error) {
	var ps []models.PartnerPromotion
	err := r.conn(ctx).
		Scopes(scopes.ForUpdateSkipLocked).
		Where("verified = ? AND next_run = ?", true, day.Format(time.DateOnly)).
		Order("id").
		Find(&ps).
		Error
	return ps, err
}

func (r *Repository) ListOptedInPeople(ctx context.Context, partnerID uint, channel types.Channel) ([]models.Person, error) {
	var people []models.Person
	err := r.conn(ctx).
		Distinct("people.*").
		Joins("JOIN opt_ins ON opt_ins.person_id = people.id AND opt_ins.deleted_at IS NULL").
		Where("opt_ins.partner_id = ? AND opt_ins.channel = ?", partnerID, channel).
		Order("people.id").
		Find(&people).
		Error
	return people, err
}

func (r *Repository) SavePromotion(ctx context.Context, p *models.PartnerPromotion) error {
	return r.conn(ctx).Save(p).Error
}
