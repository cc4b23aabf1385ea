package models

import (
	"ticketing/src/types"
	"time"
)

type Notification struct {
	ID          uint          `gorm:"primarykey" json:"id"`
	PersonID    *uint         `gorm:"index" json:"person_id,omitempty"`
	JobID       *uint         `gorm:"index" json:"job_id,omitempty"`
	Channel     types.Channel `gorm:"size:8;not null" json:"channel"`
	Message     string        `json:"message"`
	ArtifactRef string        `json:"artifact_ref,omitempty"`
	Sent        bool          `gorm:"index" json:"sent"`

	types.Timestamps
}

// OptIn records consent to reminders and promotions from a partner, or one of its events.
type OptIn struct {
	ID        uint          `gorm:"primarykey" json:"id"`
	PersonID  uint          `gorm:"not null;index" json:"person_id"`
	PartnerID uint          `gorm:"not null;index" json:"partner_id"`
	EventID   *uint         `gorm:"index" json:"event_id,omitempty"`
	Channel   types.Channel `gorm:"size:8;not null" json:"channel"`

	types.Timestamps
}

// EventReminder marks the reminder SMS for (person, event) as spent.
type EventReminder struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	PersonID  uint      `gorm:"not null;uniqueIndex:idx_event_reminders_person_event" json:"person_id"`
	EventID   uint      `gorm:"not null;uniqueIndex:idx_event_reminders_person_event" json:"event_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type PartnerPromotion struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	PartnerID    uint       `gorm:"not null;index" json:"partner_id"`
	Message      string     `gorm:"not null" json:"message"`
	Verified     bool       `json:"verified"`
	NextRun      *time.Time `gorm:"type:date;index" json:"next_run,omitempty"`
	LastRun      *time.Time `gorm:"type:date" json:"last_run,omitempty"`
	IntervalDays int        `json:"interval_days"`

	types.Timestamps
}

// ReminderTarget is one (person, event) pair due a reminder.
type ReminderTarget struct {
	PersonID  uint
	Phone     string
	Name      string
	EventID   uint
	EventName string
	EventDate string
	PartnerID uint
}
