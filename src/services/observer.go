package services

import (
	"context"
	"log"
	"slices"
	"sync"
	"ticketing/src/models"
	"ticketing/src/types"
)

// PaymentEvent describes a committed payment state change.
type PaymentEvent struct {
	Payment models.Payment
	From    types.PaymentState
	To      types.PaymentState
	Tickets []models.Ticket
}

type PaymentListener func(ctx context.Context, ev PaymentEvent)

type subscription struct {
	states []types.PaymentState
	fn     PaymentListener
}

// PaymentObserver fans committed payment transitions out to listeners.
// Listeners run synchronously in subscription order.
type PaymentObserver struct {
	mu   sync.RWMutex
	subs []subscription
}

func NewPaymentObserver() *PaymentObserver {
	return &PaymentObserver{}
}

// Subscribe registers fn for the given target states, or for every transition when none are given.
func (o *PaymentObserver) Subscribe(fn PaymentListener, states ...types.PaymentState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs = append(o.subs, subscription{states: states, fn: fn})
}

func (o *PaymentObserver) Publish(ctx context.Context, ev PaymentEvent) {
	o.mu.RLock()
	subs := slices.Clone(o.subs)
	o.mu.RUnlock()

	for _, s := range subs {
		if len(s.states) > 0 && !slices.Contains(s.states, ev.To) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[Observer] Listener panicked on %s -> %s: %v\n", ev.From, ev.To, r)
				}
			}()
			s.fn(ctx, ev)
		}()
	}
}
