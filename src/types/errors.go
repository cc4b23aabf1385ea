package types

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	InvalidTicketType      ErrorKind = "InvalidTicketType"
	TicketTypeSoldOut      ErrorKind = "TicketTypeSoldOut"
	TicketTypeInsufficient ErrorKind = "TicketTypeInsufficient"
	MultiEventCart         ErrorKind = "MultiEventCart"
	PromoNotFound          ErrorKind = "PromoNotFound"
	PromoExpired           ErrorKind = "PromoExpired"
	PromoExhausted         ErrorKind = "PromoExhausted"
	InvalidTicket          ErrorKind = "InvalidTicket"
	UnpaidTicket           ErrorKind = "UnpaidTicket"
	AlreadyRedeemed        ErrorKind = "AlreadyRedeemed"
	AmbiguousSignature     ErrorKind = "AmbiguousSignature"
	ProviderUnavailable    ErrorKind = "ProviderUnavailable"
	PersonNotFound         ErrorKind = "PersonNotFound"
	PaymentNotFound        ErrorKind = "PaymentNotFound"
	IntentNotFound         ErrorKind = "IntentNotFound"
	IntentConsumed         ErrorKind = "IntentConsumed"
	InvalidCallback        ErrorKind = "InvalidCallback"
	NotFound               ErrorKind = "NotFound"
	TicketsIssued          ErrorKind = "TicketsIssued"
	NotConfirmed           ErrorKind = "NotConfirmed"
	JobNotRetryable        ErrorKind = "JobNotRetryable"
)

// ErrDuplicateSignature is returned by stores when a ticket signature collides.
var ErrDuplicateSignature = errors.New("ticket signature already exists")

// AppError is a domain failure carrying the HTTP status it surfaces as.
type AppError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Details map[string]any
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches on Kind so errors.Is(err, ErrSoldOut) works across instances.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewAppError(kind ErrorKind, status int, message string) *AppError {
	return &AppError{Kind: kind, Status: status, Message: message}
}

func (e *AppError) With(key string, value any) *AppError {
	details := map[string]any{}
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &AppError{Kind: e.Kind, Status: e.Status, Message: e.Message, Details: details}
}

func ErrInvalidTicketType(id uint) *AppError {
	return NewAppError(InvalidTicketType, http.StatusBadRequest, fmt.Sprintf("ticket type %d is unknown or inactive", id)).With("ticket_type_id", id)
}

func ErrSoldOut(name string) *AppError {
	return NewAppError(TicketTypeSoldOut, http.StatusBadRequest, fmt.Sprintf("%s is sold out", name)).With("ticket_type", name)
}

func ErrInsufficient(name string, available int) *AppError {
	return NewAppError(TicketTypeInsufficient, http.StatusBadRequest, fmt.Sprintf("only %d of %s left", available, name)).
		With("ticket_type", name).
		With("available", available)
}

func ErrMultiEventCart() *AppError {
	return NewAppError(MultiEventCart, http.StatusBadRequest, "multi-event cart is not supported")
}

func ErrPromoNotFound(code string) *AppError {
	return NewAppError(PromoNotFound, http.StatusNotFound, fmt.Sprintf("promo %q does not apply", code))
}

func ErrPromoExpired(code string) *AppError {
	return NewAppError(PromoExpired, http.StatusBadRequest, fmt.Sprintf("promo %q has expired", code))
}

func ErrPromoExhausted(code string) *AppError {
	return NewAppError(PromoExhausted, http.StatusBadRequest, fmt.Sprintf("promo %q has no uses left", code))
}

func ErrInvalidTicket(id uint) *AppError {
	return NewAppError(InvalidTicket, http.StatusNotFound, fmt.Sprintf("ticket %d does not exist", id))
}

func ErrUnpaidTicket() *AppError {
	return NewAppError(UnpaidTicket, http.StatusForbidden, "ticket payment is not confirmed")
}

func ErrAlreadyRedeemed(uses int) *AppError {
	return NewAppError(AlreadyRedeemed, http.StatusForbidden, "ticket has no uses left").With("uses", uses)
}

func ErrAmbiguousSignature(sig string) *AppError {
	return NewAppError(AmbiguousSignature, http.StatusInternalServerError, fmt.Sprintf("signature %s matches more than one ticket", sig))
}

func ErrProviderUnavailable(provider Provider, cause error) *AppError {
	return NewAppError(ProviderUnavailable, http.StatusBadGateway, fmt.Sprintf("%s: %s", provider, cause.Error()))
}

func ErrPersonNotFound(id uint) *AppError {
	return NewAppError(PersonNotFound, http.StatusBadRequest, fmt.Sprintf("person %d does not exist", id))
}

func ErrPaymentNotFound(ref string) *AppError {
	return NewAppError(PaymentNotFound, http.StatusNotFound, fmt.Sprintf("payment %s does not exist", ref))
}

func ErrIntentNotFound(id string) *AppError {
	return NewAppError(IntentNotFound, http.StatusNotFound, fmt.Sprintf("payment intent %s does not exist", id))
}

func ErrIntentConsumed(id string) *AppError {
	return NewAppError(IntentConsumed, http.StatusConflict, fmt.Sprintf("payment intent %s was already used", id))
}

func ErrInvalidCallback(cause error) *AppError {
	return NewAppError(InvalidCallback, http.StatusBadRequest, cause.Error())
}

func ErrNotFound(what string) *AppError {
	return NewAppError(NotFound, http.StatusNotFound, fmt.Sprintf("%s not found", what))
}

func ErrTicketsIssued(ticketTypeID uint) *AppError {
	return NewAppError(TicketsIssued, http.StatusConflict, "every ticket for this line is already issued").With("ticket_type_id", ticketTypeID)
}

func ErrNotConfirmed(state PaymentState) *AppError {
	return NewAppError(NotConfirmed, http.StatusConflict, fmt.Sprintf("payment is %s", state)).With("state", state)
}

func ErrJobNotRetryable(id uint, status JobStatus) *AppError {
	return NewAppError(JobNotRetryable, http.StatusConflict, fmt.Sprintf("job %d is %s, only failed jobs can be retried", id, status))
}

// AsAppError unwraps err into an AppError, if it is one.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Kind == kind
}
