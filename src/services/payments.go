package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"ticketing/src/metrics"
	"ticketing/src/models"
	"ticketing/src/providers"
	"ticketing/src/types"
	"ticketing/src/utils"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const scanBatch = 500

type PaymentOption func(*PaymentService)

func WithPaymentTTL(d time.Duration) PaymentOption {
	return func(s *PaymentService) { s.ttl = d }
}

func WithProviderTimeout(d time.Duration) PaymentOption {
	return func(s *PaymentService) { s.timeout = d }
}

// WithProviderBreaker sets how many consecutive failures open a provider's
// breaker and how long it stays open.
func WithProviderBreaker(trips int, cooldown time.Duration) PaymentOption {
	return func(s *PaymentService) {
		if trips > 0 {
			s.breakerOpts = append(s.breakerOpts, utils.WithTripAfter(uint32(trips)))
		}
		if cooldown > 0 {
			s.breakerOpts = append(s.breakerOpts, utils.WithOpenTimeout(cooldown))
		}
	}
}

func WithCheckoutHost(host string) PaymentOption {
	return func(s *PaymentService) { s.checkoutHost = strings.TrimRight(host, "/") }
}

func WithPaymentClock(now func() time.Time) PaymentOption {
	return func(s *PaymentService) { s.now = now }
}

// PaymentService drives a payment from cart to a terminal state.
type PaymentService struct {
	store      Store
	cart       *CartValidator
	inventory  *InventoryGuard
	promos     *PromoEngine
	tickets    *Materializer
	registry   *providers.Registry
	observer   *PaymentObserver
	dispatcher *Dispatcher

	mu          sync.Mutex
	breakers    map[types.Provider]*utils.CircuitBreaker
	breakerOpts []utils.BreakerOption

	ttl          time.Duration
	timeout      time.Duration
	checkoutHost string
	now          func() time.Time
}

func NewPaymentService(
	store Store,
	cart *CartValidator,
	inventory *InventoryGuard,
	promos *PromoEngine,
	tickets *Materializer,
	registry *providers.Registry,
	observer *PaymentObserver,
	dispatcher *Dispatcher,
	opts ...PaymentOption,
) *PaymentService {
	s := &PaymentService{
		store:      store,
		cart:       cart,
		inventory:  inventory,
		promos:     promos,
		tickets:    tickets,
		registry:   registry,
		observer:   observer,
		dispatcher: dispatcher,
		breakers:   map[types.Provider]*utils.CircuitBreaker{},
		ttl:        30 * time.Minute,
		timeout:    10 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreatePaymentInput struct {
	Cart        Cart
	MadeThrough types.Provider
}

// Create reserves stock, consumes the promo and starts the provider
// payment. A provider timeout leaves the payment PENDING for the callback
// or the reconciler to settle.
func (s *PaymentService) Create(ctx context.Context, in CreatePaymentInput) (*models.Payment, error) {
	provider, err := s.registry.Get(in.MadeThrough)
	if err != nil {
		return nil, types.ErrProviderUnavailable(in.MadeThrough, err)
	}
	var (
		payment *models.Payment
		person  *models.Person
	)
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		vc, err := s.cart.Validate(ctx, in.Cart)
		if err != nil {
			return err
		}
		person = vc.Person
		payment, err = s.open(ctx, vc, in.MadeThrough)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.initiate(ctx, provider, payment, person)
}

type CreateIntentInput struct {
	Cart        Cart
	CallbackURL string
}

// CreateIntent prices a cart for a hosted checkout without holding stock.
func (s *PaymentService) CreateIntent(ctx context.Context, in CreateIntentInput) (*models.PaymentIntent, error) {
	var intent *models.PaymentIntent
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		vc, err := s.cart.Validate(ctx, in.Cart)
		if err != nil {
			return err
		}
		id := uuid.New()
		intent = &models.PaymentIntent{
			ID:          id,
			PersonID:    vc.Person.ID,
			Amount:      vc.Amount,
			CallbackURL: in.CallbackURL,
			RedirectTo:  fmt.Sprintf("%s/checkout/%s", s.checkoutHost, id),
		}
		if vc.Promo != nil {
			code := vc.Promo.Code
			intent.PromoCode = &code
		}
		for _, l := range vc.Lines {
			intent.Lines = append(intent.Lines, models.PaymentIntentLine{IntentID: id, TicketTypeID: l.TicketTypeID, Quantity: l.Quantity})
		}
		return s.store.CreateIntent(ctx, intent)
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// ConsumeIntent turns an intent into a payment exactly once.
func (s *PaymentService) ConsumeIntent(ctx context.Context, intentID uuid.UUID, madeThrough types.Provider) (*models.Payment, error) {
	provider, err := s.registry.Get(madeThrough)
	if err != nil {
		return nil, types.ErrProviderUnavailable(madeThrough, err)
	}
	var (
		payment *models.Payment
		person  *models.Person
	)
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		intent, err := s.store.LockIntent(ctx, intentID)
		if err != nil {
			if isNotFound(err) {
				return types.ErrIntentNotFound(intentID.String())
			}
			return err
		}
		if intent.ConsumedAt != nil {
			return types.ErrIntentConsumed(intentID.String())
		}
		cart := Cart{PersonID: &intent.PersonID}
		if intent.PromoCode != nil {
			cart.Promo = *intent.PromoCode
		}
		for _, l := range intent.Lines {
			cart.Items = append(cart.Items, types.CartItem{ID: l.TicketTypeID, Amount: l.Quantity})
		}
		vc, err := s.cart.Validate(ctx, cart)
		if err != nil {
			return err
		}
		person = vc.Person
		payment, err = s.open(ctx, vc, madeThrough)
		if err != nil {
			return err
		}
		now := s.now()
		intent.ConsumedAt = &now
		intent.PaymentID = &payment.ID
		return s.store.SaveIntent(ctx, intent)
	})
	if err != nil {
		return nil, err
	}
	return s.initiate(ctx, provider, payment, person)
}

func (s *PaymentService) Get(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if isNotFound(err) {
		return nil, types.ErrPaymentNotFound(id.String())
	}
	return p, err
}

// open writes a PENDING payment with its lines, reservations and promo use.
func (s *PaymentService) open(ctx context.Context, vc *ValidatedCart, madeThrough types.Provider) (*models.Payment, error) {
	number, err := utils.PaymentNumber(s.now())
	if err != nil {
		return nil, err
	}
	p := &models.Payment{
		ID:          uuid.New(),
		Number:      number,
		PersonID:    vc.Person.ID,
		Subtotal:    vc.Subtotal,
		Discount:    vc.Discount,
		Amount:      vc.Amount,
		MadeThrough: madeThrough,
		State:       types.PAYMENT_PENDING,
	}
	if vc.Promo != nil {
		code := vc.Promo.Code
		p.PromoCode = &code
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	lines := make([]models.PaymentLine, 0, len(vc.Lines))
	for _, l := range vc.Lines {
		lines = append(lines, models.PaymentLine{PaymentID: p.ID, TicketTypeID: l.TicketTypeID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	if err := s.store.CreatePaymentLines(ctx, lines); err != nil {
		return nil, err
	}
	p.Lines = lines
	for _, l := range vc.Lines {
		if err := s.inventory.Reserve(ctx, p.ID, l.TicketTypeID, l.Quantity); err != nil {
			return nil, err
		}
	}
	if vc.Promo != nil {
		if err := s.promos.Commit(ctx, p.ID, vc.Promo); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s *PaymentService) breaker(name types.Provider) *utils.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[name]
	if !ok {
		opts := append([]utils.BreakerOption{utils.WithBreakerClock(s.now)}, s.breakerOpts...)
		cb = utils.NewCircuitBreaker(string(name), opts...)
		s.breakers[name] = cb
	}
	return cb
}

// call runs fn against the provider with the call timeout and breaker applied.
func (s *PaymentService) call(ctx context.Context, name types.Provider, operation string, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	err := s.breaker(name).Execute(cctx, fn)
	status := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	metrics.ProviderCallDuration.WithLabelValues(string(name), operation, status).Observe(time.Since(start).Seconds())
	return err
}

func (s *PaymentService) initiate(ctx context.Context, provider providers.Provider, p *models.Payment, person *models.Person) (*models.Payment, error) {
	req := providers.InitiateRequest{
		PaymentID:   p.ID,
		Number:      p.Number,
		Amount:      p.Amount,
		Phone:       person.Phone,
		Email:       person.Email,
		Description: fmt.Sprintf("Tickets %s", p.Number),
	}
	var session *providers.Session
	err := s.call(ctx, provider.Name(), "initiate", func(ctx context.Context) error {
		var err error
		session, err = provider.Initiate(ctx, req)
		return err
	})
	switch {
	case err == nil:
		return s.attachSession(ctx, p, session)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		log.Printf("[Payments] %s did not answer for %s, leaving it pending: %s\n", provider.Name(), p.Number, err.Error())
		return p, nil
	}

	log.Printf("[Payments] Error initiating %s with %s: %s\n", p.Number, provider.Name(), err.Error())
	bg := context.WithoutCancel(ctx)
	if _, ferr := s.terminate(bg, p.ID, types.PAYMENT_FAILED, &models.PaymentTransactionLog{
		Provider: provider.Name(),
		Kind:     types.TXLOG_PROVIDER_FAILURE,
		Message:  err.Error(),
	}); ferr != nil {
		log.Printf("[Payments] Error failing %s after provider error: %s\n", p.Number, ferr.Error())
	}
	return nil, types.ErrProviderUnavailable(provider.Name(), err)
}

func (s *PaymentService) attachSession(ctx context.Context, p *models.Payment, session *providers.Session) (*models.Payment, error) {
	if session == nil || session.SessionID == "" {
		return p, nil
	}
	var out *models.Payment
	err := s.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context) error {
		locked, err := s.store.LockPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		id := session.SessionID
		locked.ProviderSessionID = &id
		if err := s.store.SavePayment(ctx, locked); err != nil {
			return err
		}
		out = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Lines = p.Lines
	if session.RedirectURL != "" {
		url := session.RedirectURL
		out.RedirectTo = &url
	}
	return out, nil
}

// terminate moves a PENDING payment to FAILED or EXPIRED and hands back
// everything it held. It reports whether the transition happened.
func (s *PaymentService) terminate(ctx context.Context, id uuid.UUID, to types.PaymentState, entry *models.PaymentTransactionLog) (bool, error) {
	var ev *PaymentEvent
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.store.LockPayment(ctx, id)
		if err != nil {
			return err
		}
		if p.State != types.PAYMENT_PENDING {
			return nil
		}
		ev, err = s.terminateLocked(ctx, p, to, entry)
		return err
	})
	if err != nil || ev == nil {
		return false, err
	}
	s.publish(ctx, ev)
	return true, nil
}

func (s *PaymentService) terminateLocked(ctx context.Context, p *models.Payment, to types.PaymentState, entry *models.PaymentTransactionLog) (*PaymentEvent, error) {
	from := p.State
	p.State = to
	if err := s.store.SavePayment(ctx, p); err != nil {
		return nil, err
	}
	if _, err := s.inventory.Release(ctx, p.ID); err != nil {
		return nil, err
	}
	if err := s.promos.Restore(ctx, p.ID); err != nil {
		return nil, err
	}
	if entry != nil {
		entry.PaymentID = &p.ID
		if entry.Provider == "" {
			entry.Provider = p.MadeThrough
		}
		if err := s.store.LogTransaction(ctx, entry); err != nil {
			return nil, err
		}
	}
	return &PaymentEvent{Payment: *p, From: from, To: to}, nil
}

// HandleCallback authenticates a raw provider notification and applies it.
func (s *PaymentService) HandleCallback(ctx context.Context, hint string, body []byte, header http.Header) error {
	provider, err := s.registry.Detect(hint, header)
	if err != nil {
		return types.ErrInvalidCallback(err)
	}
	cb, err := provider.VerifyCallback(ctx, body, header)
	if err != nil {
		log.Printf("[Payments] Rejected %s callback: %s\n", provider.Name(), err.Error())
		return types.ErrInvalidCallback(err)
	}
	if cb == nil || cb.Pending {
		return nil
	}
	_, err = s.apply(ctx, provider.Name(), cb, false)
	return err
}

// apply settles a PENDING payment from a provider outcome. Outcomes for
// payments that already left PENDING are logged and otherwise ignored.
func (s *PaymentService) apply(ctx context.Context, name types.Provider, cb *providers.Callback, reconciled bool) (*PaymentEvent, error) {
	var (
		ev      *PaymentEvent
		unknown bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.lockForCallback(ctx, name, cb)
		if isNotFound(err) {
			unknown = true
			return nil
		}
		if err != nil {
			return err
		}
		if reconciled && p.State == types.PAYMENT_UNDERPAID {
			ev, err = s.settleUnderpaidLocked(ctx, name, p, cb)
			return err
		}
		if p.State != types.PAYMENT_PENDING {
			kind := types.TXLOG_DUPLICATE_CALLBACK
			if p.State == types.PAYMENT_EXPIRED || p.State == types.PAYMENT_FAILED {
				kind = types.TXLOG_LATE_CALLBACK
			}
			return s.store.LogTransaction(ctx, &models.PaymentTransactionLog{
				PaymentID: &p.ID,
				Provider:  name,
				Kind:      kind,
				Message:   fmt.Sprintf("callback for %s payment ignored", p.State),
				Payload:   cb.Raw,
			})
		}
		if reconciled {
			p.Reconciled = true
		}
		if !cb.Succeeded {
			ev, err = s.terminateLocked(ctx, p, types.PAYMENT_FAILED, &models.PaymentTransactionLog{
				Provider: name,
				Kind:     types.TXLOG_PROVIDER_FAILURE,
				Message:  cb.Reason,
				Payload:  cb.Raw,
			})
			return err
		}
		ev, err = s.confirmLocked(ctx, name, p, cb)
		return err
	})
	if err != nil {
		return nil, err
	}
	if unknown {
		ref := cb.SessionID
		if cb.PaymentID != nil {
			ref = cb.PaymentID.String()
		}
		if lerr := s.store.LogTransaction(ctx, &models.PaymentTransactionLog{
			PaymentID: cb.PaymentID,
			Provider:  name,
			Kind:      types.TXLOG_UNKNOWN_PAYMENT,
			Message:   fmt.Sprintf("no payment for reference %s", ref),
			Payload:   cb.Raw,
		}); lerr != nil {
			log.Printf("[Payments] Error logging unknown callback: %s\n", lerr.Error())
		}
		return nil, types.ErrPaymentNotFound(ref)
	}
	if ev != nil {
		s.publish(ctx, ev)
	}
	return ev, nil
}

func (s *PaymentService) lockForCallback(ctx context.Context, name types.Provider, cb *providers.Callback) (*models.Payment, error) {
	if cb.PaymentID != nil {
		return s.store.LockPayment(ctx, *cb.PaymentID)
	}
	if cb.SessionID != "" {
		return s.store.LockPaymentBySession(ctx, name, cb.SessionID)
	}
	return nil, types.ErrNotFound("payment")
}

func (s *PaymentService) confirmLocked(ctx context.Context, name types.Provider, p *models.Payment, cb *providers.Callback) (*PaymentEvent, error) {
	observed := p.Amount
	if cb.AmountKnown {
		observed = cb.ObservedAmount
	}
	from := p.State
	p.State = classify(observed, p.Amount)
	p.Verified = true
	if cb.TransactionID != "" {
		txn := cb.TransactionID
		p.ProviderTransactionID = &txn
	}
	if p.ProviderSessionID == nil && cb.SessionID != "" {
		sid := cb.SessionID
		p.ProviderSessionID = &sid
	}
	if err := s.store.SavePayment(ctx, p); err != nil {
		return nil, err
	}
	if p.State != types.PAYMENT_PAID {
		if err := s.store.LogTransaction(ctx, &models.PaymentTransactionLog{
			PaymentID: &p.ID,
			Provider:  name,
			Kind:      types.TXLOG_AMOUNT_MISMATCH,
			Message:   fmt.Sprintf("expected %s, observed %s", p.Amount.StringFixed(2), observed.StringFixed(2)),
			Payload:   cb.Raw,
		}); err != nil {
			return nil, err
		}
	}
	ev := &PaymentEvent{Payment: *p, From: from, To: p.State}
	if p.State.Confirmed() {
		tickets, err := s.tickets.materializeLocked(ctx, p)
		if err != nil {
			return nil, err
		}
		ev.Tickets = tickets
	}
	return ev, nil
}

// settleUnderpaidLocked confirms an underpaid payment once the provider
// reports the full amount. Its reserved stock was kept, so tickets can issue.
func (s *PaymentService) settleUnderpaidLocked(ctx context.Context, name types.Provider, p *models.Payment, cb *providers.Callback) (*PaymentEvent, error) {
	if !cb.Succeeded || !cb.AmountKnown || cb.ObservedAmount.LessThan(p.Amount) {
		return nil, nil
	}
	p.Reconciled = true
	return s.confirmLocked(ctx, name, p, cb)
}

func classify(observed, expected decimal.Decimal) types.PaymentState {
	switch observed.Cmp(expected) {
	case -1:
		return types.PAYMENT_UNDERPAID
	case 1:
		return types.PAYMENT_OVERPAID
	}
	return types.PAYMENT_PAID
}

func (s *PaymentService) publish(ctx context.Context, ev *PaymentEvent) {
	metrics.PaymentTransitions.WithLabelValues(string(ev.Payment.MadeThrough), string(ev.From), string(ev.To)).Inc()
	s.observer.Publish(ctx, *ev)
}

// ExpireStale expires PENDING payments older than the payment TTL.
func (s *PaymentService) ExpireStale(ctx context.Context) (int, error) {
	ids, err := s.store.ListStalePending(ctx, s.now().Add(-s.ttl), scanBatch)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		ok, err := s.terminate(ctx, id, types.PAYMENT_EXPIRED, nil)
		if err != nil {
			log.Printf("[Payments] Error expiring payment %s: %s\n", id, err.Error())
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		log.Printf("[Payments] Expired %d stale payments\n", expired)
	}
	return expired, nil
}

type ReconcileReport struct {
	Checked  int `json:"checked"`
	Updated  int `json:"updated"`
	Repaired int `json:"repaired"`
	Notified int `json:"notified"`
	Errors   int `json:"errors"`
}

// Reconcile asks providers about payments they never called back for,
// issues tickets missing from confirmed payments, and mails each partner
// owner a summary of what changed.
func (s *PaymentService) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	pending, err := s.store.ListReconcilable(ctx, scanBatch)
	if err != nil {
		return nil, err
	}
	changes := map[uint][]string{}
	owners := map[uint]*models.Person{}

	for i := range pending {
		p := &pending[i]
		report.Checked++
		provider, err := s.registry.Get(p.MadeThrough)
		if err != nil {
			report.Errors++
			continue
		}
		var cb *providers.Callback
		err = s.call(ctx, p.MadeThrough, "search", func(ctx context.Context) error {
			var err error
			cb, err = provider.Search(ctx, providers.SearchRequest{PaymentID: p.ID, Reference: p.ProviderReference()})
			return err
		})
		if err != nil {
			log.Printf("[Reconcile] Error searching %s: %s\n", p.Number, err.Error())
			report.Errors++
			continue
		}
		if cb == nil {
			continue
		}
		if cb.PaymentID == nil {
			id := p.ID
			cb.PaymentID = &id
		}
		ev, err := s.apply(ctx, p.MadeThrough, cb, true)
		if err != nil {
			log.Printf("[Reconcile] Error applying search result for %s: %s\n", p.Number, err.Error())
			report.Errors++
			continue
		}
		if ev == nil {
			continue
		}
		report.Updated++
		if err := s.store.LogTransaction(ctx, &models.PaymentTransactionLog{
			PaymentID: &p.ID,
			Provider:  p.MadeThrough,
			Kind:      types.TXLOG_RECONCILED,
			Message:   fmt.Sprintf("%s -> %s", ev.From, ev.To),
			Payload:   cb.Raw,
		}); err != nil {
			log.Printf("[Reconcile] Error logging %s: %s\n", p.Number, err.Error())
		}
		s.noteChange(ctx, p.ID, fmt.Sprintf("%s: %s -> %s", p.Number, ev.From, ev.To), owners, changes)
	}

	missing, err := s.store.ListConfirmedWithoutTickets(ctx, scanBatch)
	if err != nil {
		return report, err
	}
	for _, id := range missing {
		tickets, err := s.tickets.Materialize(ctx, id)
		if err != nil {
			log.Printf("[Reconcile] Error issuing tickets for %s: %s\n", id, err.Error())
			report.Errors++
			continue
		}
		report.Repaired++
		s.noteChange(ctx, id, fmt.Sprintf("%s: issued %d missing tickets", id, len(tickets)), owners, changes)
	}

	for ownerID, lines := range changes {
		owner := owners[ownerID]
		if _, err := s.dispatcher.Enqueue(ctx, types.MAIN_QUEUE, types.JOB_RECONCILE_MAIL, types.JSONB{
			"person_id": owner.ID,
			"email":     owner.Email,
			"subject":   fmt.Sprintf("Payment reconciliation: %d updates", len(lines)),
			"body":      "The following payments were updated:\n\n" + strings.Join(lines, "\n") + "\n",
		}); err != nil {
			log.Printf("[Reconcile] Error queueing summary for partner owner %d: %s\n", ownerID, err.Error())
			report.Errors++
			continue
		}
		report.Notified++
	}
	if report.Notified > 0 {
		s.dispatcher.Wake(ctx, types.MAIN_QUEUE, 0)
	}
	return report, nil
}

func (s *PaymentService) noteChange(ctx context.Context, paymentID uuid.UUID, line string, owners map[uint]*models.Person, changes map[uint][]string) {
	owner, err := s.store.PartnerOwnerForPayment(ctx, paymentID)
	if err != nil {
		log.Printf("[Reconcile] No partner owner for payment %s: %s\n", paymentID, err.Error())
		return
	}
	if owner.Email == "" {
		return
	}
	owners[owner.ID] = owner
	changes[owner.ID] = append(changes[owner.ID], line)
}
