package services

import (
	"context"
	"crypto/subtle"
	"log"
	"ticketing/src/models"
	"ticketing/src/types"
	"ticketing/src/utils"

	"github.com/shopspring/decimal"
)

type Cart struct {
	Items    []types.CartItem
	PersonID *uint
	Person   *types.PersonDescriptor
	Promo    string
}

// ValidatedCart is everything payment creation needs from a cart.
type ValidatedCart struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Amount   decimal.Decimal
	Person   *models.Person
	EventID  uint
	Lines    []PricedLine
	Promo    *PromoQuote
}

type CartValidator struct {
	store  Store
	promos *PromoEngine
	otpKey []byte
}

func NewCartValidator(store Store, promos *PromoEngine, otpKey []byte) *CartValidator {
	return &CartValidator{store: store, promos: promos, otpKey: otpKey}
}

// Validate must run inside the caller's transaction; it may create a Person.
func (v *CartValidator) Validate(ctx context.Context, cart Cart) (*ValidatedCart, error) {
	lines, err := v.resolveLines(ctx, cart.Items)
	if err != nil {
		return nil, err
	}
	vc := &ValidatedCart{Lines: lines.lines, EventID: lines.eventID, Subtotal: decimal.Zero}
	for _, l := range vc.Lines {
		vc.Subtotal = vc.Subtotal.Add(l.Total())
	}

	person, err := v.resolvePerson(ctx, cart)
	if err != nil {
		return nil, err
	}
	vc.Person = person

	vc.Discount = decimal.Zero
	if cart.Promo != "" {
		quote, err := v.promos.Quote(ctx, cart.Promo, vc.EventID, vc.Lines)
		if err != nil {
			return nil, err
		}
		vc.Promo = quote
		vc.Discount = v.promos.Discount(quote, vc.Lines)
	}
	vc.Amount = vc.Subtotal.Sub(vc.Discount)
	return vc, nil
}

type resolvedLines struct {
	lines   []PricedLine
	eventID uint
}

func (v *CartValidator) resolveLines(ctx context.Context, items []types.CartItem) (*resolvedLines, error) {
	if len(items) == 0 {
		return nil, types.ErrInvalidTicketType(0)
	}
	// repeated ids are merged, keeping first-seen order
	order := []uint{}
	qty := map[uint]int{}
	for _, it := range items {
		if _, ok := qty[it.ID]; !ok {
			order = append(order, it.ID)
		}
		qty[it.ID] += it.Amount
	}

	tts, err := v.store.ListTicketTypes(ctx, order)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]models.TicketType, len(tts))
	for _, tt := range tts {
		byID[tt.ID] = tt
	}

	res := &resolvedLines{}
	for i, id := range order {
		tt, ok := byID[id]
		if !ok {
			return nil, types.ErrInvalidTicketType(id)
		}
		if i == 0 {
			res.eventID = tt.EventID
		} else if tt.EventID != res.eventID {
			return nil, types.ErrMultiEventCart()
		}
		res.lines = append(res.lines, PricedLine{TicketTypeID: tt.ID, Name: tt.Name, Quantity: qty[id], UnitPrice: tt.Price})
	}
	// stock is re-checked under lock when reserving
	for _, l := range res.lines {
		tt := byID[l.TicketTypeID]
		if tt.Stock == 0 {
			return nil, types.ErrSoldOut(tt.Name)
		}
		if tt.Stock < l.Quantity {
			return nil, types.ErrInsufficient(tt.Name, tt.Stock)
		}
	}
	return res, nil
}

func (v *CartValidator) resolvePerson(ctx context.Context, cart Cart) (*models.Person, error) {
	if cart.PersonID != nil {
		p, err := v.store.GetPerson(ctx, *cart.PersonID)
		if isNotFound(err) {
			return nil, types.ErrPersonNotFound(*cart.PersonID)
		}
		return p, err
	}
	if cart.Person == nil {
		return nil, types.ErrPersonNotFound(0)
	}

	p, err := v.store.FindPersonByPhone(ctx, cart.Person.Phone)
	if err == nil {
		return p, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	otp, err := utils.GenerateOTP(6)
	if err != nil {
		return nil, err
	}
	sealed, err := utils.EncryptMessage(v.otpKey, otp)
	if err != nil {
		log.Printf("[Cart] Error sealing one-time password: %s\n", err.Error())
		return nil, err
	}
	return v.store.CreatePerson(ctx, &models.Person{
		Name:          cart.Person.Name,
		Email:         cart.Person.Email,
		Phone:         cart.Person.Phone,
		OTPCiphertext: sealed,
	})
}

// VerifyOTP checks code against the one-time password sealed for the person.
func (v *CartValidator) VerifyOTP(ctx context.Context, personID uint, code string) (bool, error) {
	p, err := v.store.GetPerson(ctx, personID)
	if isNotFound(err) {
		return false, types.ErrPersonNotFound(personID)
	}
	if err != nil {
		return false, err
	}
	if p.OTPCiphertext == "" {
		return false, nil
	}
	otp, err := utils.DecryptMessage(v.otpKey, p.OTPCiphertext)
	if err != nil {
		log.Printf("[Cart] Error opening one-time password for person %d: %s\n", personID, err.Error())
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(*otp), []byte(code)) == 1, nil
}
