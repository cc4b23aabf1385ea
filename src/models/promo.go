package models

import (
	"ticketing/src/types"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PromoFields struct {
	PartnerID uint            `gorm:"not null;uniqueIndex:idx_partner_code,priority:1" json:"partner_id"`
	Name      string          `gorm:"not null;size:64;uniqueIndex:idx_partner_code,priority:2" json:"name"`
	Rate      decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"rate"`
	Expiry    time.Time       `gorm:"type:date;not null" json:"expiry"`
	UseLimit  int             `gorm:"not null;check:use_limit >= 0" json:"use_limit"`
}

// ValidOn reports whether the promo can still be redeemed on the given day.
func (p PromoFields) ValidOn(day time.Time) bool {
	return !p.Expired(day) && p.UseLimit > 0
}

func (p PromoFields) Expired(day time.Time) bool {
	y, m, d := day.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	ey, em, ed := p.Expiry.Date()
	expiry := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return expiry.Before(today)
}

type EventPromo struct {
	ID      uint `gorm:"primarykey" json:"id"`
	EventID uint `gorm:"not null;index" json:"event_id"`
	PromoFields

	types.Timestamps
}

type TicketTypePromo struct {
	ID           uint `gorm:"primarykey" json:"id"`
	TicketTypeID uint `gorm:"not null;index" json:"ticket_type_id"`
	PromoFields

	types.Timestamps
}

// PromoRedemption records the single use-limit unit a Payment consumed.
type PromoRedemption struct {
	ID        uint            `gorm:"primarykey" json:"id"`
	PaymentID uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null" json:"payment_id"`
	PromoKind types.PromoKind `gorm:"size:16;not null" json:"promo_kind"`
	PromoID   uint            `gorm:"not null" json:"promo_id"`
	Restored  bool            `json:"restored"`

	types.Timestamps
}
