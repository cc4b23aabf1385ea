package models

import (
	"ticketing/src/types"

	"github.com/google/uuid"
)

type Ticket struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	TicketTypeID uint      `gorm:"not null;index" json:"ticket_type_id"`
	PaymentID    uuid.UUID `gorm:"type:uuid;not null;index" json:"payment_id"`
	PersonID     uint      `gorm:"not null;index" json:"person_id"`
	Signature    string    `gorm:"uniqueIndex;size:64;not null" json:"signature"`
	Uses         int       `gorm:"not null;check:uses >= 0" json:"uses"`
	Sent         bool      `json:"sent"`

	TicketType *TicketType `json:"ticket_type,omitempty"`
	Payment    *Payment    `json:"payment,omitempty"`
	Person     *Person     `json:"person,omitempty"`

	types.Timestamps
}

// TicketScan is the append-only audit of every redemption attempt.
type TicketScan struct {
	ID       uint   `gorm:"primarykey" json:"id"`
	AgentID  uint   `gorm:"not null;index" json:"agent_id"`
	TicketID uint   `gorm:"not null;index" json:"ticket_id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`

	types.Timestamps
}
