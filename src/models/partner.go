package models

import "ticketing/src/types"

type Partner struct {
	ID          uint         `gorm:"primarykey" json:"id"`
	Name        string       `json:"name"`
	OwnerID     uint         `gorm:"not null;index" json:"owner_id"`
	BankingInfo *types.JSONB `gorm:"type:jsonb" json:"-"`
	SMSCredits  int          `gorm:"not null;check:sms_credits >= 0" json:"sms_credits"`

	Owner *Person `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`

	types.Timestamps
}
