package models

import (
	"ticketing/src/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Payment struct {
	ID                    uuid.UUID          `gorm:"primarykey;type:uuid" json:"id"`
	Number                string             `gorm:"uniqueIndex;size:32;not null" json:"number"`
	PersonID              uint               `gorm:"not null;index" json:"person_id"`
	Subtotal              decimal.Decimal    `gorm:"type:numeric(14,2);not null" json:"subtotal"`
	Discount              decimal.Decimal    `gorm:"type:numeric(14,2);not null" json:"discount"`
	Amount                decimal.Decimal    `gorm:"type:numeric(14,2);not null" json:"amount"`
	MadeThrough           types.Provider     `gorm:"size:16;not null" json:"made_through"`
	ProviderSessionID     *string            `gorm:"index" json:"provider_session_id,omitempty"`
	ProviderTransactionID *string            `gorm:"index" json:"provider_transaction_id,omitempty"`
	State                 types.PaymentState `gorm:"size:16;not null;index" json:"state"`
	Verified              bool               `json:"verified"`
	Reconciled            bool               `json:"reconciled"`
	PromoCode             *string            `json:"promo,omitempty"`
	RedirectTo            *string            `gorm:"-" json:"redirect_to,omitempty"`

	Person  *Person       `json:"person,omitempty"`
	Lines   []PaymentLine `json:"lines,omitempty"`
	Tickets []Ticket      `json:"tickets,omitempty"`

	types.Timestamps
}

// ProviderReference is what the provider knows this payment by.
func (p *Payment) ProviderReference() string {
	if p.ProviderSessionID != nil {
		return *p.ProviderSessionID
	}
	if p.ProviderTransactionID != nil {
		return *p.ProviderTransactionID
	}
	return ""
}

type PaymentLine struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	PaymentID    uuid.UUID `gorm:"type:uuid;not null;index" json:"payment_id"`
	TicketTypeID uint      `gorm:"not null" json:"ticket_type_id"`
	Quantity     int       `gorm:"not null;check:quantity > 0" json:"quantity"`
	UnitPrice    int64     `gorm:"not null" json:"unit_price"`

	TicketType *TicketType `json:"ticket_type,omitempty"`
}
