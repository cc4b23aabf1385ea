package types

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case nil:
		return nil
	default:
		return errors.New("type assertion to []byte failed")
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

type EventState string

const (
	EVENT_PRE_REVIEW EventState = "PRE_REVIEW"
	EVENT_ACTIVE     EventState = "ACTIVE"
	EVENT_PRE_CLOSED EventState = "PRE_CLOSED"
	EVENT_CLOSED     EventState = "CLOSED"
)

type PaymentState string

const (
	PAYMENT_PENDING   PaymentState = "PENDING"
	PAYMENT_PAID      PaymentState = "PAID"
	PAYMENT_UNDERPAID PaymentState = "UNDERPAID"
	PAYMENT_OVERPAID  PaymentState = "OVERPAID"
	PAYMENT_FAILED    PaymentState = "FAILED"
	PAYMENT_EXPIRED   PaymentState = "EXPIRED"
)

// Confirmed reports whether tickets may exist for a payment in this state.
func (s PaymentState) Confirmed() bool {
	return s == PAYMENT_PAID || s == PAYMENT_OVERPAID
}

func (s PaymentState) Terminal() bool {
	return s != PAYMENT_PENDING
}

type Provider string

const (
	MPESA Provider = "MPESA"
	BANK  Provider = "BANK"
)

func (p Provider) Valid() bool {
	return p == MPESA || p == BANK
}

type PromoKind string

const (
	PROMO_EVENT       PromoKind = "event"
	PROMO_TICKET_TYPE PromoKind = "ticket_type"
)

type Channel string

const (
	CHANNEL_EMAIL Channel = "EMAIL"
	CHANNEL_SMS   Channel = "SMS"
	CHANNEL_PUSH  Channel = "PUSH"
)

type JobStatus string

const (
	JOB_PENDING JobStatus = "pending"
	JOB_RUNNING JobStatus = "running"
	JOB_DONE    JobStatus = "done"
	JOB_FAILED  JobStatus = "failed"
)

type JobKind string

const (
	JOB_TICKET_EMAIL   JobKind = "ticket_email"
	JOB_REMINDER_SMS   JobKind = "reminder_sms"
	JOB_PROMO_SMS      JobKind = "promo_sms"
	JOB_SMS            JobKind = "sms"
	JOB_RECONCILE_MAIL JobKind = "reconcile_email"
)

const (
	MAIN_QUEUE          = "main_queue"
	NOTIFICATIONS_QUEUE = "notifications_queue"
)

type TransactionLogKind string

const (
	TXLOG_DUPLICATE_CALLBACK TransactionLogKind = "duplicate_callback"
	TXLOG_LATE_CALLBACK      TransactionLogKind = "late_callback"
	TXLOG_UNKNOWN_PAYMENT    TransactionLogKind = "unknown_payment"
	TXLOG_AMOUNT_MISMATCH    TransactionLogKind = "amount_mismatch"
	TXLOG_PROVIDER_FAILURE   TransactionLogKind = "provider_failure"
	TXLOG_AMBIGUOUS_TICKET   TransactionLogKind = "ambiguous_signature"
	TXLOG_RECONCILED         TransactionLogKind = "reconciled"
)

type CartItem struct {
	ID     uint `json:"id" binding:"required"`
	Amount int  `json:"amount" binding:"required,min=1"`
}

type PersonDescriptor struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"omitempty,email"`
	Phone string `json:"phone" binding:"required,msisdn"`
}

type CreatePaymentRequestBody struct {
	MadeThrough Provider          `json:"made_through" binding:"required,provider"`
	Person      *PersonDescriptor `json:"person,omitempty" binding:"required_without=PersonID,omitempty"`
	PersonID    *uint             `json:"person_id,omitempty" binding:"required_without=Person,omitempty"`
	TicketTypes []CartItem        `json:"ticket_types" binding:"required,min=1,dive"`
	Promo       string            `json:"promo,omitempty"`
}

type CreatePaymentIntentRequestBody struct {
	Person      *PersonDescriptor `json:"person,omitempty" binding:"required_without=PersonID,omitempty"`
	PersonID    *uint             `json:"person_id,omitempty" binding:"required_without=Person,omitempty"`
	TicketTypes []CartItem        `json:"ticket_types" binding:"required,min=1,dive"`
	Promo       string            `json:"promo,omitempty"`
	CallbackURL string            `json:"callback_url" binding:"omitempty,url"`
}

type PayIntentRequestBody struct {
	MadeThrough Provider `json:"made_through" binding:"required,provider"`
}

type IssueTicketRequestBody struct {
	PaymentID    string `json:"payment_id" binding:"required,uuid"`
	TicketTypeID uint   `json:"ticket_type_id" binding:"required"`
}

type CreateEventRequestBody struct {
	PartnerID   uint   `json:"partner_id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Date        string `json:"date" binding:"required" time_format:"2006-01-02 15:04:05 -07:00"`
	Location    string `json:"location" binding:"required"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	PosterURI   string `json:"poster_uri,omitempty"`
}

type CreateTicketTypeRequestBody struct {
	EventID  uint   `json:"event_id" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Price    int64  `json:"price" binding:"min=0"`
	Stock    int    `json:"stock" binding:"min=0"`
	UseLimit int    `json:"use_limit" binding:"required,min=1"`
}

type CreatePromoRequestBody struct {
	PartnerID uint    `json:"partner_id" binding:"required"`
	TargetID  uint    `json:"target_id" binding:"required"`
	Name      string  `json:"name" binding:"required"`
	Rate      float64 `json:"rate" binding:"required,gt=0,lte=100"`
	Expiry    string  `json:"expiry" binding:"required" time_format:"2006-01-02"`
	UseLimit  int     `json:"use_limit" binding:"required,min=1"`
}

type SimpleRequestParams struct {
	ID uint `uri:"id" binding:"required"`
}

type UUIDRequestParams struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type VerifyOTPRequest struct {
	OTP string `json:"otp" binding:"required,numeric,len=6"`
}

type RedeemURIParams struct {
	TicketID uint `uri:"ticket_id" binding:"required"`
}

type SignatureURIParams struct {
	Signature string `uri:"sig" binding:"required,hexadecimal"`
}

// Handler consumes one queue message. A nil return acknowledges it.
type Handler func(ctx context.Context, payload string) error
