package models

import (
	"ticketing/src/types"

	"github.com/google/uuid"
)

// Reservation is the stock ledger entry pairing a reserve with its Payment.
type Reservation struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	PaymentID    uuid.UUID `gorm:"type:uuid;not null;index" json:"payment_id"`
	TicketTypeID uint      `gorm:"not null" json:"ticket_type_id"`
	Quantity     int       `gorm:"not null" json:"quantity"`
	Released     bool      `gorm:"index" json:"released"`

	types.Timestamps
}
