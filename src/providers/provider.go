// Package providers adapts external payment providers to a single contract:
// start a payment, authenticate its callback and look up its status.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"ticketing/src/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrRejected marks a definitive refusal by the provider, as opposed to an
// I/O failure whose outcome is unknown.
var ErrRejected = errors.New("payment rejected by provider")

type InitiateRequest struct {
	PaymentID   uuid.UUID
	Number      string
	Amount      decimal.Decimal
	Phone       string
	Email       string
	Description string
}

type Session struct {
	SessionID   string
	RedirectURL string
}

// Callback is a provider notification reduced to what the payment state
// machine needs. PaymentID is set when the provider echoes it back;
// otherwise SessionID identifies the payment.
type Callback struct {
	PaymentID      *uuid.UUID
	SessionID      string
	TransactionID  string
	Succeeded      bool
	Pending        bool
	ObservedAmount decimal.Decimal
	AmountKnown    bool
	Reason         string
	Raw            types.JSONB
}

type SearchRequest struct {
	PaymentID uuid.UUID
	Reference string
}

type Provider interface {
	Name() types.Provider
	Initiate(ctx context.Context, req InitiateRequest) (*Session, error)
	// VerifyCallback returns (nil, nil) for notifications that carry no
	// payment outcome.
	VerifyCallback(ctx context.Context, body []byte, header http.Header) (*Callback, error)
	// Search returns (nil, nil) while the provider still reports the payment as in flight.
	Search(ctx context.Context, req SearchRequest) (*Callback, error)
}

type Registry struct {
	providers map[types.Provider]Provider
}

func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: map[types.Provider]Provider{}}
	for _, p := range ps {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name types.Provider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("payment provider %q is not configured", name)
	}
	return p, nil
}

// Detect picks the provider a raw callback belongs to.
func (r *Registry) Detect(hint string, header http.Header) (Provider, error) {
	if hint != "" {
		return r.Get(types.Provider(hint))
	}
	if header.Get("Stripe-Signature") != "" {
		return r.Get(types.BANK)
	}
	return r.Get(types.MPESA)
}
