package services

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"ticketing/src/models"
	"ticketing/src/providers"
	"ticketing/src/types"
	"ticketing/src/utils"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type PaymentServiceTestSuite struct {
	suite.Suite
	w *world
}

func (s *PaymentServiceTestSuite) SetupTest() {
	s.w = newWorld(s.T())
}

func (s *PaymentServiceTestSuite) TestPaidCartIssuesOneTicketPerUnit() {
	w := s.w
	p := w.create(s.T(), types.MPESA, w.cart(item(w.ttA, 2), item(w.ttB, 1)))
	s.True(p.Amount.Equal(decimal.NewFromInt(450)))
	s.Equal(types.PAYMENT_PENDING, p.State)
	s.NotNil(p.RedirectTo)
	s.Equal(8, w.store.stock(w.ttA.ID))
	s.Equal(4, w.store.stock(w.ttB.ID))

	w.pay(s.T(), p)

	saved := w.store.payment(p.ID)
	s.Equal(types.PAYMENT_PAID, saved.State)
	s.True(saved.Verified)
	tickets := w.store.allTickets()
	s.Len(tickets, 3)
	seen := map[string]bool{}
	for _, t := range tickets {
		s.Len(t.Signature, 32)
		s.False(seen[t.Signature])
		seen[t.Signature] = true
	}
	// stock stays consumed once paid
	s.Equal(8, w.store.stock(w.ttA.ID))
	s.Equal(4, w.store.stock(w.ttB.ID))
	s.Len(w.store.allJobs(), 3)
	s.NotEmpty(w.waker.wakes)
}

func (s *PaymentServiceTestSuite) TestPromoHalvesAmountAndConsumesOneUse() {
	w := s.w
	promo := w.store.addTicketTypePromo(models.TicketTypePromo{
		TicketTypeID: w.ttA.ID,
		PromoFields:  models.PromoFields{PartnerID: w.partner.ID, Name: "HALF", Rate: decimal.NewFromInt(50), Expiry: w.clock.Now().AddDate(0, 0, 3), UseLimit: 4},
	})
	cart := w.cart(item(w.ttA, 1))
	cart.Promo = "HALF"
	p := w.create(s.T(), types.MPESA, cart)

	s.True(p.Amount.Equal(decimal.NewFromInt(50)))
	s.True(p.Discount.Equal(decimal.NewFromInt(50)))
	s.Equal(3, w.store.ttPromo(promo.ID).UseLimit)
}

func (s *PaymentServiceTestSuite) TestFailedPaymentRestoresPromoAndStock() {
	w := s.w
	promo := w.store.addEventPromo(models.EventPromo{
		EventID:     w.event.ID,
		PromoFields: models.PromoFields{PartnerID: w.partner.ID, Name: "EARLY", Rate: decimal.NewFromInt(10), Expiry: w.clock.Now(), UseLimit: 1},
	})
	cart := w.cart(item(w.ttB, 2))
	cart.Promo = "EARLY"
	p := w.create(s.T(), types.MPESA, cart)
	s.Equal(0, w.store.eventPromo(promo.ID).UseLimit)

	s.NoError(w.callback(fakeCallback{PaymentID: p.ID.String(), OK: false}))

	s.Equal(types.PAYMENT_FAILED, w.store.payment(p.ID).State)
	s.Equal(1, w.store.eventPromo(promo.ID).UseLimit)
	s.Equal(5, w.store.stock(w.ttB.ID))
	s.Empty(w.store.allTickets())
	s.Contains(w.store.logKinds(), types.TXLOG_PROVIDER_FAILURE)
}

func (s *PaymentServiceTestSuite) TestConcurrentBuyersForLastTicket() {
	w := s.w
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = w.core.Payments.Create(context.Background(), CreatePaymentInput{Cart: w.cart(item(w.ttC, 1)), MadeThrough: types.MPESA})
		}()
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			s.True(types.IsKind(err, types.TicketTypeSoldOut), err.Error())
		}
	}
	s.Equal(1, failures)
	s.Equal(0, w.store.stock(w.ttC.ID))
}

func (s *PaymentServiceTestSuite) TestSweeperExpiresAndLateCallbackIsIgnored() {
	w := s.w
	p := w.create(s.T(), types.MPESA, w.cart(item(w.ttA, 3)))
	s.Equal(7, w.store.stock(w.ttA.ID))

	n, err := w.core.Payments.ExpireStale(context.Background())
	s.NoError(err)
	s.Zero(n)

	w.clock.Advance(31 * time.Minute)
	n, err = w.core.Payments.ExpireStale(context.Background())
	s.NoError(err)
	s.Equal(1, n)
	s.Equal(types.PAYMENT_EXPIRED, w.store.payment(p.ID).State)
	s.Equal(10, w.store.stock(w.ttA.ID))

	w.pay(s.T(), p)
	s.Equal(types.PAYMENT_EXPIRED, w.store.payment(p.ID).State)
	s.Empty(w.store.allTickets())
	s.Contains(w.store.logKinds(), types.TXLOG_LATE_CALLBACK)
}

func (s *PaymentServiceTestSuite) TestMultiEventCartReservesNothing() {
	w := s.w
	_, err := w.core.Payments.Create(context.Background(), CreatePaymentInput{
		Cart:        w.cart(item(w.ttA, 1), item(w.ttOther, 1)),
		MadeThrough: types.MPESA,
	})
	s.True(types.IsKind(err, types.MultiEventCart))
	s.Equal(10, w.store.stock(w.ttA.ID))
	s.Equal(5, w.store.stock(w.ttOther.ID))
}

func (s *PaymentServiceTestSuite) TestInsufficientStockNamesWhatIsLeft() {
	w := s.w
	_, err := w.core.Payments.Create(context.Background(), CreatePaymentInput{Cart: w.cart(item(w.ttB, 6)), MadeThrough: types.MPESA})
	appErr, ok := types.AsAppError(err)
	s.Require().True(ok)
	s.Equal(types.TicketTypeInsufficient, appErr.Kind)
	s.Equal(5, appErr.Details["available"])
}

func (s *PaymentServiceTestSuite) TestDuplicateCallbackIsNoop() {
	w := s.w
	p := w.create(s.T(), types.MPESA, w.cart(item(w.ttA, 2)))
	w.pay(s.T(), p)
	w.pay(s.T(), p)

	s.Len(w.store.allTickets(), 2)
	s.Contains(w.store.logKinds(), types.TXLOG_DUPLICATE_CALLBACK)
}

func (s *PaymentServiceTestSuite) TestCallbackBySessionID() {
	w := s.w
	p := w.create(s.T(), types.MPESA, w.cart(item(w.ttA, 1)))
	s.Require().NotNil(p.ProviderSessionID)
	s.NoError(w.callback(fakeCallback{SessionID: *p.ProviderSessionID, OK: true}))
	s.Equal(types.PAYMENT_PAID, w.store.payment(p.ID).State)
}

func (s *PaymentServiceTestSuite) TestAmountMismatch() {
	w := s.w
	under := w.create(s.T(), types.MPESA, w.cart(item(w.ttA, 2)))
	over := w.create(s.T(), types.MPESA, w.cart(item(w.ttB, 1)))

	s.NoError(w.callback(fakeCallback{PaymentID: under.ID.String(), OK: true, Amount: "150"}))
	s.NoError(w.callback(fakeCallback{PaymentID: over.ID.String(), OK: true, Amount: "300"}))

	s.Equal(types.PAYMENT_UNDERPAID, w.store.payment(under.ID).State)
	s.Equal(types.PAYMENT_OVERPAID, w.store.payment(over.ID).State)
	tickets := w.store.allTickets()
	s.Len(tickets, 1)
	s.Equal(over.ID, tickets[0].PaymentID)
	// underpaid stock stays held for the operator
	s.Equal(8, w.store.stock(w.ttA.ID))
	s.Contains(w.store.logKinds(), types.TXLOG_AMOUNT_MISMATCH)
}

func (s *PaymentServiceTestSuite) TestPendingAndInvalidCallbacks() {
	w := s.w
	p := w.create(s.T(), types.MPESA, w.cart(item(w.ttA, 1)))

	s.NoError(w.callback(fakeCallback{PaymentID: p.ID.String(), Pending: true}))
	s.Equal(types.PAYMENT_PENDING, w.store.payment(p.ID).State)

	err := w.core.Payments.HandleCallback(context.Background(), "MPESA", []byte(`{}`), nil)
	s.True(types.IsKind(err, types.InvalidCallback))

	err = w.callback(fakeCallback{SessionID: "nobody", OK: true})
	s.True(types.IsKind(err, types.PaymentNotFound))
	s.Contains(w.store.logKinds(), types.TXLOG_UNKNOWN_PAYMENT)
}

func (s *PaymentServiceTestSuite) TestProviderRejectionFailsPayment() {
	w := s.w
	w.mpesa.initiateErr = providers.ErrRejected
	_, err := w.core.Payments.Create(context.Background(), CreatePaymentInput{Cart: w.cart(item(w.ttA, 2)), MadeThrough: types.MPESA})
	s.True(types.IsKind(err, types.ProviderUnavailable))
	s.Equal(10, w.store.stock(w.ttA.ID))
	s.Contains(w.store.logKinds(), types.TXLOG_PROVIDER_FAILURE)
}

func (s *PaymentServiceTestSuite) TestProviderBreakerOpensAfterConfiguredFailures() {
	w := s.w
	WithProviderBreaker(1, time.Minute)(w.core.Payments)
	w.mpesa.initiateErr = providers.ErrRejected
	_, err := w.core.Payments.Create(context.Background(), CreatePaymentInput{Cart: w.cart(item(w.ttA, 1)), MadeThrough: types.MPESA})
	s.True(types.IsKind(err, types.ProviderUnavailable))

	w.mpesa.initiateErr = nil
	_, err = w.core.Payments.Create(context.Background(), CreatePaymentInput{Cart: w.cart(item(w.ttA, 1)), MadeThrough: types.MPESA})
	s.True(types.IsKind(err, types.ProviderUnavailable))
	s.Len(w.mpesa.initiated, 1)
	s.Equal(10, w.store.stock(w.ttA.ID))

	w.clock.Advance(2 * time.Minute)
	p := w.create(s.T(), types.MPESA, w.cart(item(w.ttA, 1)))
	s.Regexp(`^PAY-20260310-[0-9A-F]{6}$`, p.Number)
	s.Len(w.mpesa.initiated, 2)
}

func (s *PaymentServiceTestSuite) TestProviderTimeoutLeavesPaymentPending() {
	w := s.w
	w.mpesa.hang = true
	p, err := w.core.Payments.Create(context.Background(), CreatePaymentInput{Cart: w.cart(item(w.ttA, 1)), MadeThrough: types.MPESA})
	s.NoError(err)
	s.Equal(types.PAYMENT_PENDING, w.store.payment(p.ID).State)
	s.Nil(p.ProviderSessionID)
	s.Equal(9, w.store.stock(w.ttA.ID))
}

func (s *PaymentServiceTestSuite) TestUnknownPersonAndNewBuyer() {
	w := s.w
	missing := uint(999)
	_, err := w.core.Payments.Create(context.Background(), CreatePaymentInput{
		Cart:        Cart{Items: []types.CartItem{item(w.ttA, 1)}, PersonID: &missing},
		MadeThrough: types.MPESA,
	})
	s.True(types.IsKind(err, types.PersonNotFound))

	p, err := w.core.Payments.Create(context.Background(), CreatePaymentInput{
		Cart: Cart{
			Items:  []types.CartItem{item(w.ttA, 1)},
			Person: &types.PersonDescriptor{Name: "New", Email: "new@example.com", Phone: "254711111111"},
		},
		MadeThrough: types.BANK,
	})
	s.Require().NoError(err)
	person, err := w.store.GetPerson(context.Background(), p.PersonID)
	s.Require().NoError(err)
	s.Equal("254711111111", person.Phone)
	s.NotEmpty(person.OTPCiphertext)

	otp, err := utils.DecryptMessage(bytes.Repeat([]byte{7}, 32), person.OTPCiphertext)
	s.Require().NoError(err)
	ok, err := w.core.Cart.VerifyOTP(context.Background(), person.ID, *otp)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = w.core.Cart.VerifyOTP(context.Background(), person.ID, "000000x")
	s.Require().NoError(err)
	s.False(ok)
	_, err = w.core.Cart.VerifyOTP(context.Background(), missing, *otp)
	s.True(types.IsKind(err, types.PersonNotFound))
}

func (s *PaymentServiceTestSuite) TestIntentIsConsumedOnce() {
	w := s.w
	intent, err := w.core.Payments.CreateIntent(context.Background(), CreateIntentInput{Cart: w.cart(item(w.ttA, 2))})
	s.Require().NoError(err)
	s.Equal("https://checkout.example.com/checkout/"+intent.ID.String(), intent.RedirectTo)
	s.Equal(10, w.store.stock(w.ttA.ID))

	p, err := w.core.Payments.ConsumeIntent(context.Background(), intent.ID, types.BANK)
	s.Require().NoError(err)
	s.True(p.Amount.Equal(decimal.NewFromInt(200)))
	s.Equal(8, w.store.stock(w.ttA.ID))

	_, err = w.core.Payments.ConsumeIntent(context.Background(), intent.ID, types.BANK)
	s.True(types.IsKind(err, types.IntentConsumed))
}

func (s *PaymentServiceTestSuite) TestReconcileSettlesAndNotifiesOwner() {
	w := s.w
	p := w.create(s.T(), types.MPESA, w.cart(item(w.ttA, 1)))
	w.mpesa.search[*p.ProviderSessionID] = &providers.Callback{Succeeded: true, TransactionID: "RX1"}

	report, err := w.core.Payments.Reconcile(context.Background())
	s.Require().NoError(err)
	s.Equal(1, report.Checked)
	s.Equal(1, report.Updated)
	s.Equal(1, report.Notified)

	saved := w.store.payment(p.ID)
	s.Equal(types.PAYMENT_PAID, saved.State)
	s.True(saved.Reconciled)
	s.Len(w.store.allTickets(), 1)

	kinds := []types.JobKind{}
	for _, j := range w.store.allJobs() {
		kinds = append(kinds, j.Kind)
	}
	s.Contains(kinds, types.JOB_RECONCILE_MAIL)
}

func (s *PaymentServiceTestSuite) TestReconcileSettlesUnderpaidOnceFullAmountArrives() {
	w := s.w
	p := w.create(s.T(), types.MPESA, w.cart(item(w.ttA, 2)))
	s.Require().NoError(w.callback(fakeCallback{PaymentID: p.ID.String(), TransactionID: "TXU", OK: true, Amount: "150"}))
	s.Equal(types.PAYMENT_UNDERPAID, w.store.payment(p.ID).State)
	s.Empty(w.store.allTickets())

	// provider still reports the short amount
	w.mpesa.search[*p.ProviderSessionID] = &providers.Callback{Succeeded: true, TransactionID: "TXU", AmountKnown: true, ObservedAmount: decimal.NewFromInt(150)}
	report, err := w.core.Payments.Reconcile(context.Background())
	s.Require().NoError(err)
	s.Equal(1, report.Checked)
	s.Zero(report.Updated)
	s.Equal(types.PAYMENT_UNDERPAID, w.store.payment(p.ID).State)

	w.mpesa.search[*p.ProviderSessionID] = &providers.Callback{Succeeded: true, TransactionID: "TXU", AmountKnown: true, ObservedAmount: decimal.NewFromInt(200)}
	report, err = w.core.Payments.Reconcile(context.Background())
	s.Require().NoError(err)
	s.Equal(1, report.Updated)
	saved := w.store.payment(p.ID)
	s.Equal(types.PAYMENT_PAID, saved.State)
	s.True(saved.Reconciled)
	s.Len(w.store.allTickets(), 2)
	s.Equal(8, w.store.stock(w.ttA.ID))

	// settled payments drop out of the sweep
	report, err = w.core.Payments.Reconcile(context.Background())
	s.Require().NoError(err)
	s.Zero(report.Checked)
}

func (s *PaymentServiceTestSuite) TestReconcileRepairsConfirmedWithoutTickets() {
	w := s.w
	p := w.create(s.T(), types.MPESA, w.cart(item(w.ttB, 2)))
	stored := w.store.payment(p.ID)
	stored.State = types.PAYMENT_PAID
	stored.ProviderSessionID = nil
	w.store.putPayment(stored)

	report, err := w.core.Payments.Reconcile(context.Background())
	s.Require().NoError(err)
	s.Equal(1, report.Repaired)
	s.Len(w.store.allTickets(), 2)
}

func TestPaymentServiceTestSuite(t *testing.T) {
	suite.Run(t, new(PaymentServiceTestSuite))
}

func TestClassify(t *testing.T) {
	expected := decimal.NewFromInt(100)
	assert.Equal(t, types.PAYMENT_PAID, classify(decimal.RequireFromString("100.00"), expected))
	assert.Equal(t, types.PAYMENT_UNDERPAID, classify(decimal.RequireFromString("99.99"), expected))
	assert.Equal(t, types.PAYMENT_OVERPAID, classify(decimal.RequireFromString("100.01"), expected))
}

func TestPromoDiscountRoundsHalfUp(t *testing.T) {
	e := NewPromoEngine(nil, time.UTC)
	lines := []PricedLine{{TicketTypeID: 1, Quantity: 1, UnitPrice: 333}, {TicketTypeID: 2, Quantity: 1, UnitPrice: 1}}

	d := e.Discount(&PromoQuote{Kind: types.PROMO_EVENT, Rate: decimal.RequireFromString("12.5")}, lines)
	assert.Equal(t, "41.75", d.StringFixed(2))

	d = e.Discount(&PromoQuote{Kind: types.PROMO_TICKET_TYPE, TicketTypeID: 1, Rate: decimal.RequireFromString("12.5")}, lines)
	assert.Equal(t, "41.63", d.StringFixed(2))

	d = e.Discount(&PromoQuote{Kind: types.PROMO_TICKET_TYPE, TicketTypeID: 2, Rate: decimal.RequireFromString("50")}, lines)
	assert.Equal(t, "0.50", d.StringFixed(2))

	d = e.Discount(&PromoQuote{Kind: types.PROMO_EVENT, Rate: decimal.NewFromInt(100)}, lines)
	assert.True(t, d.Equal(decimal.NewFromInt(334)))
}

func TestPromoQuoteErrors(t *testing.T) {
	w := newWorld(t)
	yesterday := w.clock.Now().AddDate(0, 0, -1)
	w.store.addEventPromo(models.EventPromo{EventID: w.event.ID, PromoFields: models.PromoFields{PartnerID: w.partner.ID, Name: "OLD", Rate: decimal.NewFromInt(10), Expiry: yesterday, UseLimit: 5}})
	w.store.addEventPromo(models.EventPromo{EventID: w.event.ID, PromoFields: models.PromoFields{PartnerID: w.partner.ID, Name: "GONE", Rate: decimal.NewFromInt(10), Expiry: w.clock.Now(), UseLimit: 0}})

	cases := map[string]types.ErrorKind{
		"OLD":     types.PromoExpired,
		"GONE":    types.PromoExhausted,
		"MISSING": types.PromoNotFound,
	}
	for code, kind := range cases {
		cart := w.cart(item(w.ttA, 1))
		cart.Promo = code
		_, err := w.core.Payments.Create(context.Background(), CreatePaymentInput{Cart: cart, MadeThrough: types.MPESA})
		require.Error(t, err)
		assert.True(t, types.IsKind(err, kind), "%s: %v", code, err)
	}
	assert.Equal(t, 10, w.store.stock(w.ttA.ID))
}

func TestUnconfiguredProvider(t *testing.T) {
	w := newWorld(t)
	_, err := w.core.Payments.Create(context.Background(), CreatePaymentInput{Cart: w.cart(item(w.ttA, 1)), MadeThrough: "PAYPAL"})
	assert.True(t, errors.Is(err, types.NewAppError(types.ProviderUnavailable, 0, "")))
}
