package services

import (
	"context"
	"ticketing/src/metrics"
	"ticketing/src/providers"
	"ticketing/src/types"
	"ticketing/src/utils"
	"time"
)

// Channels are the outbound adapters of the core. Artifacts, Waker and
// Cache may be nil.
type Channels struct {
	Email     EmailSender
	SMS       SMSSender
	Artifacts ArtifactStore
	Waker     QueueWaker
	Cache     SignatureCache
}

type Options struct {
	OTPKey          []byte
	SigningKey      []byte
	Location        *time.Location
	PaymentTTL      time.Duration
	ProviderTimeout time.Duration
	BreakerTrips    int
	BreakerCooldown time.Duration
	CheckoutHost    string
	Jobs            DispatcherConfig
	// Clock overrides time.Now everywhere in the core.
	Clock func() time.Time
}

// Core is the wired ticketing core: order, payment and ticket lifecycles.
type Core struct {
	Observer   *PaymentObserver
	Inventory  *InventoryGuard
	Promos     *PromoEngine
	Cart       *CartValidator
	Dispatcher *Dispatcher
	Tickets    *Materializer
	Payments   *PaymentService
	Redemption *RedemptionAuthority
	Campaigns  *Campaigns
}

func NewCore(store Store, registry *providers.Registry, ch Channels, opts Options) (*Core, error) {
	signer, err := utils.NewTicketSigner(opts.SigningKey)
	if err != nil {
		return nil, err
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	c := &Core{Observer: NewPaymentObserver()}
	c.Inventory = NewInventoryGuard(store)
	c.Promos = NewPromoEngine(store, opts.Location)
	c.Promos.now = now
	c.Cart = NewCartValidator(store, c.Promos, opts.OTPKey)
	c.Dispatcher = NewDispatcher(store, ch.Email, ch.SMS, ch.Artifacts, ch.Waker, opts.Jobs)
	c.Dispatcher.now = now
	c.Tickets = NewMaterializer(store, signer, c.Dispatcher)

	payOpts := []PaymentOption{WithCheckoutHost(opts.CheckoutHost), WithPaymentClock(now)}
	if opts.PaymentTTL > 0 {
		payOpts = append(payOpts, WithPaymentTTL(opts.PaymentTTL))
	}
	if opts.ProviderTimeout > 0 {
		payOpts = append(payOpts, WithProviderTimeout(opts.ProviderTimeout))
	}
	payOpts = append(payOpts, WithProviderBreaker(opts.BreakerTrips, opts.BreakerCooldown))
	c.Payments = NewPaymentService(store, c.Cart, c.Inventory, c.Promos, c.Tickets, registry, c.Observer, c.Dispatcher, payOpts...)
	c.Redemption = NewRedemptionAuthority(store, ch.Cache)
	c.Campaigns = NewCampaigns(store, c.Dispatcher, opts.Location)
	c.Campaigns.now = now

	// ticket email jobs were written with the confirming transaction
	c.Observer.Subscribe(func(ctx context.Context, ev PaymentEvent) {
		if len(ev.Tickets) > 0 {
			c.Dispatcher.Wake(ctx, types.MAIN_QUEUE, 0)
		}
	}, types.PAYMENT_PAID, types.PAYMENT_OVERPAID)
	c.Observer.Subscribe(func(ctx context.Context, ev PaymentEvent) {
		metrics.ConfirmedRevenue.WithLabelValues(string(ev.Payment.MadeThrough)).Add(ev.Payment.Amount.InexactFloat64())
	}, types.PAYMENT_PAID, types.PAYMENT_OVERPAID)
	return c, nil
}
