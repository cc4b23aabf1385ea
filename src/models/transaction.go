package models

import (
	"ticketing/src/types"

	"github.com/google/uuid"
)

// PaymentTransactionLog is the operator-facing record of callbacks and
// anomalies that did not fit the normal payment flow.
type PaymentTransactionLog struct {
	ID        uint                     `gorm:"primarykey" json:"id"`
	PaymentID *uuid.UUID               `gorm:"type:uuid;index" json:"payment_id,omitempty"`
	Provider  types.Provider           `gorm:"size:16" json:"provider,omitempty"`
	Kind      types.TransactionLogKind `gorm:"size:32;not null;index" json:"kind"`
	Message   string                   `json:"message"`
	Payload   types.JSONB              `gorm:"type:jsonb" json:"payload,omitempty"`

	types.Timestamps
}
