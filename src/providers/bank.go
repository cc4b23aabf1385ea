package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"ticketing/src/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

type BankConfig struct {
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
}

// Bank settles card and bank payments through Stripe Checkout.
type Bank struct {
	sc  *stripe.Client
	cfg BankConfig
}

func NewBank(sc *stripe.Client, cfg BankConfig) *Bank {
	return &Bank{sc: sc, cfg: cfg}
}

func (b *Bank) Name() types.Provider { return types.BANK }

func (b *Bank) Initiate(ctx context.Context, r InitiateRequest) (*Session, error) {
	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(b.cfg.SuccessURL),
		CancelURL:         stripe.String(b.cfg.CancelURL),
		ClientReferenceID: stripe.String(r.PaymentID.String()),
		Metadata: map[string]string{
			"payment_id": r.PaymentID.String(),
			"number":     r.Number,
		},
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency:   stripe.String(b.cfg.Currency),
					UnitAmount: stripe.Int64(r.Amount.Shift(2).Round(0).IntPart()),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(r.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if r.Email != "" {
		params.CustomerEmail = stripe.String(r.Email)
	}
	cs, err := b.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 {
			return nil, fmt.Errorf("%w: %s", ErrRejected, stripeErr.Msg)
		}
		return nil, err
	}
	return &Session{SessionID: cs.ID, RedirectURL: cs.URL}, nil
}

func (b *Bank) VerifyCallback(_ context.Context, body []byte, header http.Header) (*Callback, error) {
	event, err := webhook.ConstructEvent(body, header.Get("Stripe-Signature"), b.cfg.WebhookSecret)
	if err != nil {
		return nil, err
	}

	switch event.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
	default:
		return nil, nil
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, err
	}
	cb := sessionCallback(&cs)
	switch event.Type {
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		cb.Succeeded, cb.Pending = false, false
		cb.Reason = string(event.Type)
	}
	raw := types.JSONB{}
	_ = json.Unmarshal(body, &raw)
	cb.Raw = raw
	return cb, nil
}

func (b *Bank) Search(ctx context.Context, r SearchRequest) (*Callback, error) {
	cs, err := b.sc.V1CheckoutSessions.Retrieve(ctx, r.Reference, &stripe.CheckoutSessionRetrieveParams{})
	if err != nil {
		return nil, err
	}
	if cs.Status == stripe.CheckoutSessionStatusOpen {
		return nil, nil
	}
	cb := sessionCallback(cs)
	if cb.Pending {
		return nil, nil
	}
	if cb.PaymentID == nil {
		id := r.PaymentID
		cb.PaymentID = &id
	}
	return cb, nil
}

func sessionCallback(cs *stripe.CheckoutSession) *Callback {
	cb := &Callback{SessionID: cs.ID}
	ref := cs.ClientReferenceID
	if ref == "" {
		ref = cs.Metadata["payment_id"]
	}
	if id, err := uuid.Parse(ref); err == nil {
		cb.PaymentID = &id
	}

	switch {
	case cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		cb.Succeeded = true
		cb.AmountKnown = true
		cb.ObservedAmount = decimal.New(cs.AmountTotal, -2)
		cb.TransactionID = cs.ID
		if cs.PaymentIntent != nil && cs.PaymentIntent.ID != "" {
			cb.TransactionID = cs.PaymentIntent.ID
		}
	case cs.Status == stripe.CheckoutSessionStatusComplete:
		cb.Pending = true
	default:
		cb.Reason = string(cs.Status)
	}
	return cb
}
