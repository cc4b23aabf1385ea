package services

import (
	"context"
	"ticketing/src/models"
	"ticketing/src/types"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PricedLine is one validated cart line.
type PricedLine struct {
	TicketTypeID uint
	Name         string
	Quantity     int
	UnitPrice    int64
}

func (l PricedLine) Total() decimal.Decimal {
	return decimal.NewFromInt(l.UnitPrice).Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// PromoQuote is a promo code resolved against a cart.
type PromoQuote struct {
	Code         string
	Kind         types.PromoKind
	PromoID      uint
	Rate         decimal.Decimal
	TicketTypeID uint
	EventID      uint
}

type PromoEngine struct {
	store Store
	now   func() time.Time
	loc   *time.Location
}

func NewPromoEngine(store Store, loc *time.Location) *PromoEngine {
	if loc == nil {
		loc = time.UTC
	}
	return &PromoEngine{store: store, now: time.Now, loc: loc}
}

func (e *PromoEngine) today() time.Time {
	return e.now().In(e.loc)
}

// Quote resolves code for a single-event cart. Ticket type promos win over
// event promos.
func (e *PromoEngine) Quote(ctx context.Context, code string, eventID uint, lines []PricedLine) (*PromoQuote, error) {
	today := e.today()
	ids := make([]uint, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.TicketTypeID)
	}

	var expired, exhausted bool
	check := func(p models.PromoFields) bool {
		switch {
		case p.Expired(today):
			expired = true
		case p.UseLimit <= 0:
			exhausted = true
		default:
			return true
		}
		return false
	}

	ttPromos, err := e.store.FindTicketTypePromos(ctx, code, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range ttPromos {
		if check(p.PromoFields) {
			return &PromoQuote{Code: code, Kind: types.PROMO_TICKET_TYPE, PromoID: p.ID, Rate: p.Rate, TicketTypeID: p.TicketTypeID, EventID: eventID}, nil
		}
	}

	evPromos, err := e.store.FindEventPromos(ctx, code, eventID)
	if err != nil {
		return nil, err
	}
	for _, p := range evPromos {
		if check(p.PromoFields) {
			return &PromoQuote{Code: code, Kind: types.PROMO_EVENT, PromoID: p.ID, Rate: p.Rate, EventID: eventID}, nil
		}
	}

	switch {
	case exhausted:
		return nil, types.ErrPromoExhausted(code)
	case expired:
		return nil, types.ErrPromoExpired(code)
	}
	return nil, types.ErrPromoNotFound(code)
}

// Discount applies the quoted rate and rounds half-up to cents. The result never exceeds the subtotal.
func (e *PromoEngine) Discount(q *PromoQuote, lines []PricedLine) decimal.Decimal {
	if q == nil {
		return decimal.Zero
	}
	subtotal := decimal.Zero
	base := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Total())
		if q.Kind == types.PROMO_TICKET_TYPE && l.TicketTypeID == q.TicketTypeID {
			base = base.Add(l.Total())
		}
	}
	if q.Kind == types.PROMO_EVENT {
		base = subtotal
	}
	discount := base.Mul(q.Rate).Div(hundred).Round(2)
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	return discount
}

// Commit consumes one use of the quoted promo for paymentID.
func (e *PromoEngine) Commit(ctx context.Context, paymentID uuid.UUID, q *PromoQuote) error {
	switch q.Kind {
	case types.PROMO_TICKET_TYPE:
		p, err := e.store.LockTicketTypePromo(ctx, q.PromoID)
		if err != nil {
			return err
		}
		if p.UseLimit <= 0 {
			return types.ErrPromoExhausted(q.Code)
		}
		if err := e.store.SetTicketTypePromoUseLimit(ctx, p.ID, p.UseLimit-1); err != nil {
			return err
		}
	default:
		p, err := e.store.LockEventPromo(ctx, q.PromoID)
		if err != nil {
			return err
		}
		if p.UseLimit <= 0 {
			return types.ErrPromoExhausted(q.Code)
		}
		if err := e.store.SetEventPromoUseLimit(ctx, p.ID, p.UseLimit-1); err != nil {
			return err
		}
	}
	return e.store.CreatePromoRedemption(ctx, &models.PromoRedemption{
		PaymentID: paymentID,
		PromoKind: q.Kind,
		PromoID:   q.PromoID,
	})
}

// Restore gives back the use a payment consumed, at most once.
func (e *PromoEngine) Restore(ctx context.Context, paymentID uuid.UUID) error {
	red, err := e.store.FindOpenPromoRedemption(ctx, paymentID)
	if err != nil || red == nil {
		return err
	}
	switch red.PromoKind {
	case types.PROMO_TICKET_TYPE:
		p, err := e.store.LockTicketTypePromo(ctx, red.PromoID)
		if err != nil {
			return err
		}
		if err := e.store.SetTicketTypePromoUseLimit(ctx, p.ID, p.UseLimit+1); err != nil {
			return err
		}
	default:
		p, err := e.store.LockEventPromo(ctx, red.PromoID)
		if err != nil {
			return err
		}
		if err := e.store.SetEventPromoUseLimit(ctx, p.ID, p.UseLimit+1); err != nil {
			return err
		}
	}
	return e.store.MarkPromoRedemptionRestored(ctx, red.ID)
}
