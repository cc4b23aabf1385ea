package models

import (
	"ticketing/src/types"
	"time"
)

type Event struct {
	ID          uint             `gorm:"primarykey" json:"id"`
	PartnerID   uint             `gorm:"not null;index" json:"partner_id"`
	Name        string           `json:"name"`
	EventNumber string           `gorm:"uniqueIndex;size:160" json:"event_number"`
	Date        time.Time        `gorm:"index" json:"date"`
	Location    string           `json:"location"`
	Description string           `json:"description,omitempty"`
	State       types.EventState `gorm:"size:16;not null" json:"state"`
	PosterURI   string           `json:"poster_uri,omitempty"`
	Category    string           `json:"category,omitempty"`
	Visible     bool             `json:"visible"`

	Partner     *Partner     `json:"partner,omitempty"`
	TicketTypes []TicketType `json:"ticket_types,omitempty"`

	types.Timestamps
}
