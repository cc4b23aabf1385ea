package services

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"ticketing/src/models"
	"ticketing/src/types"
	"time"

	"github.com/google/uuid"
)

type memTxKey struct{}

// memData holds rows by value so a snapshot is a set of map copies.
type memData struct {
	seq           uint
	people        map[uint]models.Person
	partners      map[uint]models.Partner
	events        map[uint]models.Event
	ticketTypes   map[uint]models.TicketType
	ttPromos      map[uint]models.TicketTypePromo
	evPromos      map[uint]models.EventPromo
	redemptions   map[uint]models.PromoRedemption
	payments      map[uuid.UUID]models.Payment
	lines         map[uint]models.PaymentLine
	reservations  map[uint]models.Reservation
	intents       map[uuid.UUID]models.PaymentIntent
	tickets       map[uint]models.Ticket
	scans         map[uint]models.TicketScan
	jobs          map[uint]models.JobTask
	notifications map[uint]models.Notification
	optIns        map[uint]models.OptIn
	promotions    map[uint]models.PartnerPromotion
	reminded      map[[2]uint]bool
	txlog         map[uint]models.PaymentTransactionLog
}

func (d *memData) clone() memData {
	return memData{
		seq:           d.seq,
		people:        maps.Clone(d.people),
		partners:      maps.Clone(d.partners),
		events:        maps.Clone(d.events),
		ticketTypes:   maps.Clone(d.ticketTypes),
		ttPromos:      maps.Clone(d.ttPromos),
		evPromos:      maps.Clone(d.evPromos),
		redemptions:   maps.Clone(d.redemptions),
		payments:      maps.Clone(d.payments),
		lines:         maps.Clone(d.lines),
		reservations:  maps.Clone(d.reservations),
		intents:       maps.Clone(d.intents),
		tickets:       maps.Clone(d.tickets),
		scans:         maps.Clone(d.scans),
		jobs:          maps.Clone(d.jobs),
		notifications: maps.Clone(d.notifications),
		optIns:        maps.Clone(d.optIns),
		promotions:    maps.Clone(d.promotions),
		reminded:      maps.Clone(d.reminded),
		txlog:         maps.Clone(d.txlog),
	}
}

// memStore is a Store whose transactions are serialized and rolled back
// by restoring a snapshot.
type memStore struct {
	mu  sync.Mutex
	now func() time.Time
	d   memData

	// duplicateSignatures makes the next n CreateTicket calls collide.
	duplicateSignatures int
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{now: now, d: memData{
		people:        map[uint]models.Person{},
		partners:      map[uint]models.Partner{},
		events:        map[uint]models.Event{},
		ticketTypes:   map[uint]models.TicketType{},
		ttPromos:      map[uint]models.TicketTypePromo{},
		evPromos:      map[uint]models.EventPromo{},
		redemptions:   map[uint]models.PromoRedemption{},
		payments:      map[uuid.UUID]models.Payment{},
		lines:         map[uint]models.PaymentLine{},
		reservations:  map[uint]models.Reservation{},
		intents:       map[uuid.UUID]models.PaymentIntent{},
		tickets:       map[uint]models.Ticket{},
		scans:         map[uint]models.TicketScan{},
		jobs:          map[uint]models.JobTask{},
		notifications: map[uint]models.Notification{},
		optIns:        map[uint]models.OptIn{},
		promotions:    map[uint]models.PartnerPromotion{},
		reminded:      map[[2]uint]bool{},
		txlog:         map[uint]models.PaymentTransactionLog{},
	}}
}

func (s *memStore) enter(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) id() uint {
	s.d.seq++
	return s.d.seq
}

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.d.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}


func ids[V any](m map[uint]V) []uint {
	return slices.Sorted(maps.Keys(m))
}

// seeding helpers, used by tests outside transactions

func (s *memStore) addPerson(p models.Person) models.Person {
	defer s.enter(context.Background())()
	p.ID = s.id()
	s.d.people[p.ID] = p
	return p
}

func (s *memStore) addPartner(p models.Partner) models.Partner {
	defer s.enter(context.Background())()
	p.ID = s.id()
	s.d.partners[p.ID] = p
	return p
}

func (s *memStore) addEvent(e models.Event) models.Event {
	defer s.enter(context.Background())()
	e.ID = s.id()
	s.d.events[e.ID] = e
	return e
}

func (s *memStore) addTicketType(tt models.TicketType) models.TicketType {
	defer s.enter(context.Background())()
	tt.ID = s.id()
	s.d.ticketTypes[tt.ID] = tt
	return tt
}

func (s *memStore) addTicketTypePromo(p models.TicketTypePromo) models.TicketTypePromo {
	defer s.enter(context.Background())()
	p.ID = s.id()
	s.d.ttPromos[p.ID] = p
	return p
}

func (s *memStore) addEventPromo(p models.EventPromo) models.EventPromo {
	defer s.enter(context.Background())()
	p.ID = s.id()
	s.d.evPromos[p.ID] = p
	return p
}

func (s *memStore) addOptIn(o models.OptIn) {
	defer s.enter(context.Background())()
	o.ID = s.id()
	s.d.optIns[o.ID] = o
}

func (s *memStore) addPromotion(p models.PartnerPromotion) models.PartnerPromotion {
	defer s.enter(context.Background())()
	p.ID = s.id()
	s.d.promotions[p.ID] = p
	return p
}

func (s *memStore) addTicket(t models.Ticket) models.Ticket {
	defer s.enter(context.Background())()
	t.ID = s.id()
	s.d.tickets[t.ID] = t
	return t
}

func (s *memStore) putPayment(p models.Payment) {
	defer s.enter(context.Background())()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	p.Lines, p.Tickets, p.Person, p.RedirectTo = nil, nil, nil, nil
	s.d.payments[p.ID] = p
}

func (s *memStore) stock(id uint) int {
	defer s.enter(context.Background())()
	return s.d.ticketTypes[id].Stock
}

func (s *memStore) payment(id uuid.UUID) models.Payment {
	defer s.enter(context.Background())()
	return s.d.payments[id]
}

func (s *memStore) ttPromo(id uint) models.TicketTypePromo {
	defer s.enter(context.Background())()
	return s.d.ttPromos[id]
}

func (s *memStore) eventPromo(id uint) models.EventPromo {
	defer s.enter(context.Background())()
	return s.d.evPromos[id]
}

func (s *memStore) partner(id uint) models.Partner {
	defer s.enter(context.Background())()
	return s.d.partners[id]
}

func (s *memStore) allTickets() []models.Ticket {
	defer s.enter(context.Background())()
	out := []models.Ticket{}
	for _, id := range ids(s.d.tickets) {
		out = append(out, s.d.tickets[id])
	}
	return out
}

func (s *memStore) allJobs() []models.JobTask {
	defer s.enter(context.Background())()
	out := []models.JobTask{}
	for _, id := range ids(s.d.jobs) {
		out = append(out, s.d.jobs[id])
	}
	return out
}

func (s *memStore) allScans() []models.TicketScan {
	defer s.enter(context.Background())()
	out := []models.TicketScan{}
	for _, id := range ids(s.d.scans) {
		out = append(out, s.d.scans[id])
	}
	return out
}

func (s *memStore) allNotifications() []models.Notification {
	defer s.enter(context.Background())()
	out := []models.Notification{}
	for _, id := range ids(s.d.notifications) {
		out = append(out, s.d.notifications[id])
	}
	return out
}

func (s *memStore) logKinds() []types.TransactionLogKind {
	defer s.enter(context.Background())()
	out := []types.TransactionLogKind{}
	for _, id := range ids(s.d.txlog) {
		out = append(out, s.d.txlog[id].Kind)
	}
	return out
}

func (s *memStore) openReservations(paymentID uuid.UUID) int {
	defer s.enter(context.Background())()
	n := 0
	for _, r := range s.d.reservations {
		if r.PaymentID == paymentID && !r.Released {
			n += r.Quantity
		}
	}
	return n
}

// inventory

func (s *memStore) ListTicketTypes(ctx context.Context, want []uint) ([]models.TicketType, error) {
	defer s.enter(ctx)()
	out := []models.TicketType{}
	for _, id := range want {
		tt, ok := s.d.ticketTypes[id]
		if !ok || !tt.Active {
			continue
		}
		if ev, ok := s.d.events[tt.EventID]; ok {
			tt.Event = &ev
		}
		out = append(out, tt)
	}
	return out, nil
}

func (s *memStore) LockTicketType(ctx context.Context, id uint) (*models.TicketType, error) {
	defer s.enter(ctx)()
	tt, ok := s.d.ticketTypes[id]
	if !ok {
		return nil, types.ErrNotFound("ticket type")
	}
	return &tt, nil
}

func (s *memStore) UpdateStock(ctx context.Context, id uint, delta int) error {
	defer s.enter(ctx)()
	tt := s.d.ticketTypes[id]
	if tt.Stock+delta < 0 {
		return errors.New("stock check constraint violated")
	}
	tt.Stock += delta
	s.d.ticketTypes[id] = tt
	return nil
}

func (s *memStore) CreateReservation(ctx context.Context, res *models.Reservation) error {
	defer s.enter(ctx)()
	res.ID = s.id()
	s.d.reservations[res.ID] = *res
	return nil
}

func (s *memStore) LockOpenReservations(ctx context.Context, paymentID uuid.UUID) ([]models.Reservation, error) {
	defer s.enter(ctx)()
	out := []models.Reservation{}
	for _, id := range ids(s.d.reservations) {
		r := s.d.reservations[id]
		if r.PaymentID == paymentID && !r.Released {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) MarkReservationReleased(ctx context.Context, id uint) error {
	defer s.enter(ctx)()
	r := s.d.reservations[id]
	r.Released = true
	s.d.reservations[id] = r
	return nil
}

// people

func (s *memStore) GetPerson(ctx context.Context, id uint) (*models.Person, error) {
	defer s.enter(ctx)()
	p, ok := s.d.people[id]
	if !ok {
		return nil, types.ErrNotFound("person")
	}
	return &p, nil
}

func (s *memStore) FindPersonByPhone(ctx context.Context, phone string) (*models.Person, error) {
	defer s.enter(ctx)()
	for _, id := range ids(s.d.people) {
		if p := s.d.people[id]; p.Phone == phone {
			return &p, nil
		}
	}
	return nil, types.ErrNotFound("person")
}

func (s *memStore) CreatePerson(ctx context.Context, p *models.Person) (*models.Person, error) {
	defer s.enter(ctx)()
	for _, existing := range s.d.people {
		if existing.Phone == p.Phone {
			return &existing, nil
		}
	}
	p.ID = s.id()
	s.d.people[p.ID] = *p
	out := *p
	return &out, nil
}

// promos

func (s *memStore) FindTicketTypePromos(ctx context.Context, code string, ticketTypeIDs []uint) ([]models.TicketTypePromo, error) {
	defer s.enter(ctx)()
	out := []models.TicketTypePromo{}
	for _, id := range ids(s.d.ttPromos) {
		p := s.d.ttPromos[id]
		if p.Name == code && slices.Contains(ticketTypeIDs, p.TicketTypeID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) FindEventPromos(ctx context.Context, code string, eventID uint) ([]models.EventPromo, error) {
	defer s.enter(ctx)()
	out := []models.EventPromo{}
	for _, id := range ids(s.d.evPromos) {
		p := s.d.evPromos[id]
		if p.Name == code && p.EventID == eventID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) LockTicketTypePromo(ctx context.Context, id uint) (*models.TicketTypePromo, error) {
	defer s.enter(ctx)()
	p, ok := s.d.ttPromos[id]
	if !ok {
		return nil, types.ErrNotFound("promo")
	}
	return &p, nil
}

func (s *memStore) LockEventPromo(ctx context.Context, id uint) (*models.EventPromo, error) {
	defer s.enter(ctx)()
	p, ok := s.d.evPromos[id]
	if !ok {
		return nil, types.ErrNotFound("promo")
	}
	return &p, nil
}

func (s *memStore) SetTicketTypePromoUseLimit(ctx context.Context, id uint, useLimit int) error {
	defer s.enter(ctx)()
	p := s.d.ttPromos[id]
	p.UseLimit = useLimit
	s.d.ttPromos[id] = p
	return nil
}

func (s *memStore) SetEventPromoUseLimit(ctx context.Context, id uint, useLimit int) error {
	defer s.enter(ctx)()
	p := s.d.evPromos[id]
	p.UseLimit = useLimit
	s.d.evPromos[id] = p
	return nil
}

func (s *memStore) CreatePromoRedemption(ctx context.Context, red *models.PromoRedemption) error {
	defer s.enter(ctx)()
	for _, r := range s.d.redemptions {
		if r.PaymentID == red.PaymentID {
			return errors.New("duplicate promo redemption")
		}
	}
	red.ID = s.id()
	s.d.redemptions[red.ID] = *red
	return nil
}

func (s *memStore) FindOpenPromoRedemption(ctx context.Context, paymentID uuid.UUID) (*models.PromoRedemption, error) {
	defer s.enter(ctx)()
	for _, r := range s.d.redemptions {
		if r.PaymentID == paymentID && !r.Restored {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *memStore) MarkPromoRedemptionRestored(ctx context.Context, id uint) error {
	defer s.enter(ctx)()
	r := s.d.redemptions[id]
	r.Restored = true
	s.d.redemptions[id] = r
	return nil
}

// payments

func (s *memStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	defer s.enter(ctx)()
	if _, ok := s.d.payments[p.ID]; ok {
		return errors.New("duplicate payment id")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	row := *p
	row.Lines, row.Tickets, row.Person, row.RedirectTo = nil, nil, nil, nil
	s.d.payments[p.ID] = row
	return nil
}

func (s *memStore) CreatePaymentLines(ctx context.Context, lines []models.PaymentLine) error {
	defer s.enter(ctx)()
	for i := range lines {
		lines[i].ID = s.id()
		row := lines[i]
		row.TicketType = nil
		s.d.lines[row.ID] = row
	}
	return nil
}

func (s *memStore) LockPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	defer s.enter(ctx)()
	p, ok := s.d.payments[id]
	if !ok {
		return nil, types.ErrNotFound("payment")
	}
	return &p, nil
}

func (s *memStore) LockPaymentBySession(ctx context.Context, provider types.Provider, sessionID string) (*models.Payment, error) {
	defer s.enter(ctx)()
	for _, p := range s.d.payments {
		if p.MadeThrough == provider && p.ProviderSessionID != nil && *p.ProviderSessionID == sessionID {
			return &p, nil
		}
	}
	return nil, types.ErrNotFound("payment")
}

func (s *memStore) SavePayment(ctx context.Context, p *models.Payment) error {
	defer s.enter(ctx)()
	row := *p
	row.Lines, row.Tickets, row.Person, row.RedirectTo = nil, nil, nil, nil
	s.d.payments[p.ID] = row
	return nil
}

func (s *memStore) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	defer s.enter(ctx)()
	p, ok := s.d.payments[id]
	if !ok {
		return nil, types.ErrNotFound("payment")
	}
	p.Lines = s.linesOf(id)
	p.Tickets = s.ticketsOf(id)
	return &p, nil
}

func (s *memStore) linesOf(paymentID uuid.UUID) []models.PaymentLine {
	out := []models.PaymentLine{}
	for _, id := range ids(s.d.lines) {
		l := s.d.lines[id]
		if l.PaymentID != paymentID {
			continue
		}
		if tt, ok := s.d.ticketTypes[l.TicketTypeID]; ok {
			if ev, ok := s.d.events[tt.EventID]; ok {
				tt.Event = &ev
			}
			l.TicketType = &tt
		}
		out = append(out, l)
	}
	return out
}

func (s *memStore) ticketsOf(paymentID uuid.UUID) []models.Ticket {
	out := []models.Ticket{}
	for _, id := range ids(s.d.tickets) {
		if t := s.d.tickets[id]; t.PaymentID == paymentID {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) ListPaymentLines(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentLine, error) {
	defer s.enter(ctx)()
	return s.linesOf(paymentID), nil
}

func (s *memStore) sortedPayments() []models.Payment {
	out := slices.Collect(maps.Values(s.d.payments))
	slices.SortFunc(out, func(a, b models.Payment) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (s *memStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	defer s.enter(ctx)()
	out := []uuid.UUID{}
	for _, p := range s.sortedPayments() {
		if p.State == types.PAYMENT_PENDING && p.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, p.ID)
		}
	}
	return out, nil
}

func (s *memStore) ListReconcilable(ctx context.Context, limit int) ([]models.Payment, error) {
	defer s.enter(ctx)()
	out := []models.Payment{}
	for _, p := range s.sortedPayments() {
		reconcilable := (p.State == types.PAYMENT_PENDING && p.ProviderSessionID != nil) ||
			(p.State == types.PAYMENT_UNDERPAID && p.ProviderTransactionID != nil)
		if reconcilable && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) ListConfirmedWithoutTickets(ctx context.Context, limit int) ([]uuid.UUID, error) {
	defer s.enter(ctx)()
	out := []uuid.UUID{}
	for _, p := range s.sortedPayments() {
		if p.State.Confirmed() && len(s.ticketsOf(p.ID)) == 0 && len(out) < limit {
			out = append(out, p.ID)
		}
	}
	return out, nil
}

func (s *memStore) LogTransaction(ctx context.Context, entry *models.PaymentTransactionLog) error {
	defer s.enter(ctx)()
	entry.ID = s.id()
	s.d.txlog[entry.ID] = *entry
	return nil
}

func (s *memStore) CreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	defer s.enter(ctx)()
	for i := range intent.Lines {
		intent.Lines[i].ID = s.id()
	}
	row := *intent
	row.Lines = slices.Clone(intent.Lines)
	s.d.intents[intent.ID] = row
	return nil
}

func (s *memStore) LockIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	defer s.enter(ctx)()
	in, ok := s.d.intents[id]
	if !ok {
		return nil, types.ErrNotFound("payment intent")
	}
	in.Lines = slices.Clone(in.Lines)
	return &in, nil
}

func (s *memStore) SaveIntent(ctx context.Context, intent *models.PaymentIntent) error {
	defer s.enter(ctx)()
	row := *intent
	row.Lines = slices.Clone(intent.Lines)
	s.d.intents[intent.ID] = row
	return nil
}

func (s *memStore) PartnerOwnerForPayment(ctx context.Context, paymentID uuid.UUID) (*models.Person, error) {
	defer s.enter(ctx)()
	for _, l := range s.linesOf(paymentID) {
		if l.TicketType == nil || l.TicketType.Event == nil {
			continue
		}
		partner, ok := s.d.partners[l.TicketType.Event.PartnerID]
		if !ok {
			continue
		}
		if owner, ok := s.d.people[partner.OwnerID]; ok {
			return &owner, nil
		}
	}
	return nil, types.ErrNotFound("partner owner")
}

// tickets

func (s *memStore) CountTickets(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	defer s.enter(ctx)()
	return int64(len(s.ticketsOf(paymentID))), nil
}

func (s *memStore) CountTicketsForLine(ctx context.Context, paymentID uuid.UUID, ticketTypeID uint) (int64, error) {
	defer s.enter(ctx)()
	var n int64
	for _, t := range s.ticketsOf(paymentID) {
		if t.TicketTypeID == ticketTypeID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListTickets(ctx context.Context, paymentID uuid.UUID) ([]models.Ticket, error) {
	defer s.enter(ctx)()
	return s.ticketsOf(paymentID), nil
}

func (s *memStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	defer s.enter(ctx)()
	if s.duplicateSignatures > 0 {
		s.duplicateSignatures--
		return types.ErrDuplicateSignature
	}
	for _, existing := range s.d.tickets {
		if existing.Signature == t.Signature {
			return types.ErrDuplicateSignature
		}
	}
	t.ID = s.id()
	s.d.tickets[t.ID] = *t
	return nil
}

func (s *memStore) LockTicket(ctx context.Context, id uint) (*models.Ticket, error) {
	defer s.enter(ctx)()
	t, ok := s.d.tickets[id]
	if !ok {
		return nil, types.ErrNotFound("ticket")
	}
	if tt, ok := s.d.ticketTypes[t.TicketTypeID]; ok {
		t.TicketType = &tt
	}
	if p, ok := s.d.payments[t.PaymentID]; ok {
		t.Payment = &p
	}
	return &t, nil
}

func (s *memStore) SaveTicketUses(ctx context.Context, id uint, uses int) error {
	defer s.enter(ctx)()
	t := s.d.tickets[id]
	t.Uses = uses
	s.d.tickets[id] = t
	return nil
}

func (s *memStore) CreateScan(ctx context.Context, scan *models.TicketScan) error {
	defer s.enter(ctx)()
	scan.ID = s.id()
	s.d.scans[scan.ID] = *scan
	return nil
}

func (s *memStore) FindTicketsBySignature(ctx context.Context, sig string) ([]models.Ticket, error) {
	defer s.enter(ctx)()
	out := []models.Ticket{}
	for _, id := range ids(s.d.tickets) {
		if t := s.d.tickets[id]; t.Signature == sig && len(out) < 2 {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) GetTicket(ctx context.Context, id uint) (*models.Ticket, error) {
	defer s.enter(ctx)()
	t, ok := s.d.tickets[id]
	if !ok {
		return nil, types.ErrNotFound("ticket")
	}
	if tt, ok := s.d.ticketTypes[t.TicketTypeID]; ok {
		if ev, ok := s.d.events[tt.EventID]; ok {
			tt.Event = &ev
		}
		t.TicketType = &tt
	}
	if p, ok := s.d.people[t.PersonID]; ok {
		t.Person = &p
	}
	return &t, nil
}

func (s *memStore) MarkTicketSent(ctx context.Context, id uint) error {
	defer s.enter(ctx)()
	t := s.d.tickets[id]
	t.Sent = true
	s.d.tickets[id] = t
	return nil
}

// jobs

func (s *memStore) CreateJob(ctx context.Context, job *models.JobTask) error {
	defer s.enter(ctx)()
	job.ID = s.id()
	s.d.jobs[job.ID] = *job
	return nil
}

func (s *memStore) ClaimDueJobs(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.JobTask, error) {
	defer s.enter(ctx)()
	out := []models.JobTask{}
	until := now.Add(lease)
	for _, id := range ids(s.d.jobs) {
		j := s.d.jobs[id]
		if j.Status != types.JOB_PENDING || j.NextRunAt.After(now) || len(out) >= limit {
			continue
		}
		j.Status = types.JOB_RUNNING
		j.LockedUntil = &until
		s.d.jobs[id] = j
		out = append(out, j)
	}
	return out, nil
}

func (s *memStore) ClaimJob(ctx context.Context, id uint, now time.Time, lease time.Duration) (*models.JobTask, error) {
	defer s.enter(ctx)()
	j, ok := s.d.jobs[id]
	if !ok || j.Status != types.JOB_PENDING {
		return nil, nil
	}
	until := now.Add(lease)
	j.Status = types.JOB_RUNNING
	j.LockedUntil = &until
	s.d.jobs[id] = j
	return &j, nil
}

func (s *memStore) ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	defer s.enter(ctx)()
	var n int64
	for id, j := range s.d.jobs {
		if j.Status == types.JOB_RUNNING && j.LockedUntil != nil && j.LockedUntil.Before(now) {
			j.Status = types.JOB_PENDING
			j.LockedUntil = nil
			s.d.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *memStore) SaveJob(ctx context.Context, job *models.JobTask) error {
	defer s.enter(ctx)()
	s.d.jobs[job.ID] = *job
	return nil
}

func (s *memStore) LockJob(ctx context.Context, id uint) (*models.JobTask, error) {
	defer s.enter(ctx)()
	j, ok := s.d.jobs[id]
	if !ok {
		return nil, types.ErrNotFound("job")
	}
	return &j, nil
}

func (s *memStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	defer s.enter(ctx)()
	n.ID = s.id()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	s.d.notifications[n.ID] = *n
	return nil
}

func (s *memStore) DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	defer s.enter(ctx)()
	var n int64
	for id, row := range s.d.notifications {
		if row.CreatedAt.Before(cutoff) {
			delete(s.d.notifications, id)
			n++
		}
	}
	return n, nil
}

// schedules

func (s *memStore) optedIn(personID, partnerID uint, eventID *uint, channel types.Channel) bool {
	for _, o := range s.d.optIns {
		if o.PersonID != personID || o.PartnerID != partnerID || o.Channel != channel {
			continue
		}
		if o.EventID == nil || eventID == nil || *o.EventID == *eventID {
			return true
		}
	}
	return false
}

func (s *memStore) ListReminderTargets(ctx context.Context, from, to time.Time) ([]models.ReminderTarget, error) {
	defer s.enter(ctx)()
	seen := map[[2]uint]bool{}
	out := []models.ReminderTarget{}
	for _, id := range ids(s.d.tickets) {
		t := s.d.tickets[id]
		p := s.d.payments[t.PaymentID]
		if !p.State.Confirmed() {
			continue
		}
		tt := s.d.ticketTypes[t.TicketTypeID]
		ev := s.d.events[tt.EventID]
		if ev.Date.Before(from) || !ev.Date.Before(to) {
			continue
		}
		evID := ev.ID
		if !s.optedIn(t.PersonID, ev.PartnerID, &evID, types.CHANNEL_SMS) {
			continue
		}
		key := [2]uint{t.PersonID, ev.ID}
		if seen[key] {
			continue
		}
		seen[key] = true
		person := s.d.people[t.PersonID]
		out = append(out, models.ReminderTarget{
			PersonID:  person.ID,
			Phone:     person.Phone,
			Name:      person.Name,
			EventID:   ev.ID,
			EventName: ev.Name,
			EventDate: ev.Date.Format("2006-01-02 15:04"),
			PartnerID: ev.PartnerID,
		})
	}
	return out, nil
}

func (s *memStore) MarkReminded(ctx context.Context, personID, eventID uint) (bool, error) {
	defer s.enter(ctx)()
	key := [2]uint{personID, eventID}
	if s.d.reminded[key] {
		return false, nil
	}
	s.d.reminded[key] = true
	return true, nil
}

func (s *memStore) LockPartner(ctx context.Context, id uint) (*models.Partner, error) {
	defer s.enter(ctx)()
	p, ok := s.d.partners[id]
	if !ok {
		return nil, types.ErrNotFound("partner")
	}
	return &p, nil
}

func (s *memStore) SetPartnerCredits(ctx context.Context, id uint, credits int) error {
	defer s.enter(ctx)()
	if credits < 0 {
		return errors.New("sms credits check constraint violated")
	}
	p := s.d.partners[id]
	p.SMSCredits = credits
	s.d.partners[id] = p
	return nil
}

func (s *memStore) ListDuePromotions(ctx context.Context, day time.Time) ([]models.PartnerPromotion, error) {
	defer s.enter(ctx)()
	out := []models.PartnerPromotion{}
	for _, id := range ids(s.d.promotions) {
		p := s.d.promotions[id]
		if p.Verified && p.NextRun != nil && p.NextRun.Format(time.DateOnly) == day.Format(time.DateOnly) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) ListOptedInPeople(ctx context.Context, partnerID uint, channel types.Channel) ([]models.Person, error) {
	defer s.enter(ctx)()
	out := []models.Person{}
	for _, id := range ids(s.d.people) {
		if s.optedIn(id, partnerID, nil, channel) {
			out = append(out, s.d.people[id])
		}
	}
	return out, nil
}

func (s *memStore) SavePromotion(ctx context.Context, p *models.PartnerPromotion) error {
	defer s.enter(ctx)()
	s.d.promotions[p.ID] = *p
	return nil
}

var _ Store = (*memStore)(nil)
