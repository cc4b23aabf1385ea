package models

import (
	"ticketing/src/types"
	"time"
)

// JobTask is a durable unit of background work. Rows are claimed with
// SKIP LOCKED so several workers can drain the same queue.
type JobTask struct {
	ID          uint            `gorm:"primarykey" json:"id"`
	Queue       string          `gorm:"size:32;not null;index:idx_job_due,priority:1" json:"queue"`
	Kind        types.JobKind   `gorm:"size:32;not null" json:"kind"`
	Payload     types.JSONB     `gorm:"type:jsonb" json:"payload"`
	Status      types.JobStatus `gorm:"size:16;not null;default:'pending';index:idx_job_due,priority:2" json:"status"`
	Attempts    int             `gorm:"not null" json:"attempts"`
	MaxAttempts int             `gorm:"not null;default:5" json:"max_attempts"`
	NextRunAt   time.Time       `gorm:"not null;index:idx_job_due,priority:3" json:"next_run_at"`
	LastError   string          `json:"last_error,omitempty"`
	LockedUntil *time.Time      `json:"-"`

	types.Timestamps
}

func (j *JobTask) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
