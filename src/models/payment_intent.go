package models

import (
	"ticketing/src/types"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentIntent struct {
	ID          uuid.UUID       `gorm:"primarykey;type:uuid" json:"id"`
	PersonID    uint            `gorm:"not null" json:"person_id"`
	Amount      decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	PromoCode   *string         `json:"promo,omitempty"`
	CallbackURL string          `json:"callback_url,omitempty"`
	RedirectTo  string          `json:"redirect_to"`
	ConsumedAt  *time.Time      `json:"consumed_at,omitempty"`
	PaymentID   *uuid.UUID      `gorm:"type:uuid" json:"payment_id,omitempty"`

	Lines []PaymentIntentLine `gorm:"foreignKey:IntentID" json:"lines,omitempty"`

	types.Timestamps
}

type PaymentIntentLine struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	IntentID     uuid.UUID `gorm:"type:uuid;not null;index" json:"intent_id"`
	TicketTypeID uint      `gorm:"not null" json:"ticket_type_id"`
	Quantity     int       `gorm:"not null" json:"quantity"`
}
