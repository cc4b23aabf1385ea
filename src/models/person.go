package models

import "ticketing/src/types"

// Person is a buyer, partner owner or promo recipient, unique by phone.
type Person struct {
	ID            uint   `gorm:"primarykey" json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Phone         string `gorm:"uniqueIndex;size:32;not null" json:"phone"`
	OTPCiphertext string `json:"-"`
	SMSOptIn      bool   `json:"sms_opt_in"`

	types.Timestamps
}
