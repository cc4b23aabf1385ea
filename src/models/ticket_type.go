package models

import "ticketing/src/types"

// TicketType is a priced, stock-limited admission class of an Event.
// Price is a whole amount in the configured currency.
type TicketType struct {
	ID       uint   `gorm:"primarykey" json:"id"`
	EventID  uint   `gorm:"not null;index" json:"event_id"`
	Name     string `json:"name"`
	Price    int64  `gorm:"not null;check:price >= 0" json:"price"`
	Stock    int    `gorm:"not null;check:stock >= 0" json:"stock"`
	UseLimit int    `gorm:"not null;check:use_limit > 0" json:"use_limit"`
	Active   bool   `gorm:"index" json:"active"`
	Visible  bool   `json:"visible"`

	Event *Event `json:"event,omitempty"`

	types.Timestamps
}
