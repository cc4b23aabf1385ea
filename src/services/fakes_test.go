package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"ticketing/src/lib"
	"ticketing/src/models"
	"ticketing/src/providers"
	"ticketing/src/types"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeCallback is the body fakeProvider accepts as a callback.
type fakeCallback struct {
	PaymentID     string `json:"payment_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	OK            bool   `json:"ok"`
	Pending       bool   `json:"pending,omitempty"`
	Amount        string `json:"amount,omitempty"`
}

type fakeProvider struct {
	name types.Provider

	mu          sync.Mutex
	initiateErr error
	hang        bool
	initiated   []providers.InitiateRequest
	search      map[string]*providers.Callback
}

func newFakeProvider(name types.Provider) *fakeProvider {
	return &fakeProvider{name: name, search: map[string]*providers.Callback{}}
}

func (p *fakeProvider) Name() types.Provider { return p.name }

func (p *fakeProvider) Initiate(ctx context.Context, req providers.InitiateRequest) (*providers.Session, error) {
	p.mu.Lock()
	p.initiated = append(p.initiated, req)
	hang, err := p.hang, p.initiateErr
	p.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &providers.Session{
		SessionID:   "sess-" + req.PaymentID.String(),
		RedirectURL: "https://pay.example.com/" + req.Number,
	}, nil
}

func (p *fakeProvider) VerifyCallback(ctx context.Context, body []byte, header http.Header) (*providers.Callback, error) {
	if header.Get("X-Fake-Signature") != "valid" {
		return nil, errors.New("bad signature")
	}
	var in fakeCallback
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, err
	}
	cb := &providers.Callback{
		SessionID:     in.SessionID,
		TransactionID: in.TransactionID,
		Succeeded:     in.OK,
		Pending:       in.Pending,
		Raw:           types.JSONB{"ok": in.OK},
	}
	if in.PaymentID != "" {
		id, err := uuid.Parse(in.PaymentID)
		if err != nil {
			return nil, err
		}
		cb.PaymentID = &id
	}
	if in.Amount != "" {
		amount, err := decimal.NewFromString(in.Amount)
		if err != nil {
			return nil, err
		}
		cb.ObservedAmount = amount
		cb.AmountKnown = true
	}
	if !in.OK {
		cb.Reason = "declined"
	}
	return cb, nil
}

func (p *fakeProvider) Search(ctx context.Context, req providers.SearchRequest) (*providers.Callback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.search[req.Reference], nil
}

type fakeEmail struct {
	mu   sync.Mutex
	fail int
	sent []*lib.SendMailInput
}

func (e *fakeEmail) Send(ctx context.Context, msg *lib.SendMailInput) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail > 0 {
		e.fail--
		return errors.New("smtp unavailable")
	}
	e.sent = append(e.sent, msg)
	return nil
}

func (e *fakeEmail) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sent)
}

type sentSMS struct{ phone, message string }

type fakeSMS struct {
	mu   sync.Mutex
	sent []sentSMS
}

func (s *fakeSMS) SendSMS(ctx context.Context, phone, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentSMS{phone, message})
	return nil
}

type fakeWaker struct {
	mu    sync.Mutex
	wakes []string
}

func (w *fakeWaker) Wake(ctx context.Context, queue string, jobID uint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wakes = append(w.wakes, queue)
	return nil
}

type fakeArtifacts struct {
	mu   sync.Mutex
	keys []string
}

func (a *fakeArtifacts) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return "https://assets.example.com/" + key + "?signed", nil
}

type fakeCache struct {
	mu   sync.Mutex
	m    map[string]uint
	gets int
}

func (c *fakeCache) Get(ctx context.Context, sig string) (uint, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	id, ok := c.m[sig]
	return id, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, sig string, ticketID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[sig] = ticketID
	return nil
}

// world is a seeded ticketing core over the in-memory store.
type world struct {
	store     *memStore
	clock     *fakeClock
	core      *Core
	mpesa     *fakeProvider
	bank      *fakeProvider
	email     *fakeEmail
	sms       *fakeSMS
	waker     *fakeWaker
	artifacts *fakeArtifacts
	cache     *fakeCache

	owner   models.Person
	buyer   models.Person
	partner models.Partner
	event   models.Event
	other   models.Event
	ttA     models.TicketType
	ttB     models.TicketType
	ttC     models.TicketType
	ttOther models.TicketType
}

func newWorld(t *testing.T) *world {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	w := &world{
		store:     newMemStore(clock.Now),
		clock:     clock,
		mpesa:     newFakeProvider(types.MPESA),
		bank:      newFakeProvider(types.BANK),
		email:     &fakeEmail{},
		sms:       &fakeSMS{},
		waker:     &fakeWaker{},
		artifacts: &fakeArtifacts{},
		cache:     &fakeCache{m: map[string]uint{}},
	}
	core, err := NewCore(w.store, providers.NewRegistry(w.mpesa, w.bank), Channels{
		Email:     w.email,
		SMS:       w.sms,
		Artifacts: w.artifacts,
		Waker:     w.waker,
		Cache:     w.cache,
	}, Options{
		OTPKey:          bytes.Repeat([]byte{7}, 32),
		SigningKey:      bytes.Repeat([]byte{9}, 32),
		Location:        time.UTC,
		PaymentTTL:      30 * time.Minute,
		ProviderTimeout: 50 * time.Millisecond,
		CheckoutHost:    "https://checkout.example.com",
		Jobs:            DispatcherConfig{BackoffBase: 30 * time.Second, MaxAttempts: 5, From: "tickets@example.com"},
		Clock:           clock.Now,
	})
	require.NoError(t, err)
	w.core = core

	w.owner = w.store.addPerson(models.Person{Name: "Owner", Email: "owner@example.com", Phone: "254700000001"})
	w.buyer = w.store.addPerson(models.Person{Name: "Buyer", Email: "buyer@example.com", Phone: "254700000002"})
	w.partner = w.store.addPartner(models.Partner{Name: "Gigs Ltd", OwnerID: w.owner.ID, SMSCredits: 10})
	w.event = w.store.addEvent(models.Event{PartnerID: w.partner.ID, Name: "Jazz Night", EventNumber: "jazz-night", Date: clock.Now().Add(20 * time.Hour), Location: "Nairobi", State: types.EVENT_ACTIVE})
	w.other = w.store.addEvent(models.Event{PartnerID: w.partner.ID, Name: "Rock Fest", EventNumber: "rock-fest", Date: clock.Now().Add(72 * time.Hour), Location: "Mombasa", State: types.EVENT_ACTIVE})
	w.ttA = w.store.addTicketType(models.TicketType{EventID: w.event.ID, Name: "Regular", Price: 100, Stock: 10, UseLimit: 1, Active: true})
	w.ttB = w.store.addTicketType(models.TicketType{EventID: w.event.ID, Name: "VIP", Price: 250, Stock: 5, UseLimit: 2, Active: true})
	w.ttC = w.store.addTicketType(models.TicketType{EventID: w.event.ID, Name: "Last One", Price: 1, Stock: 1, UseLimit: 1, Active: true})
	w.ttOther = w.store.addTicketType(models.TicketType{EventID: w.other.ID, Name: "Pit", Price: 300, Stock: 5, UseLimit: 1, Active: true})
	return w
}

func (w *world) cart(items ...types.CartItem) Cart {
	id := w.buyer.ID
	return Cart{Items: items, PersonID: &id}
}

func (w *world) create(t *testing.T, provider types.Provider, cart Cart) *models.Payment {
	t.Helper()
	p, err := w.core.Payments.Create(context.Background(), CreatePaymentInput{Cart: cart, MadeThrough: provider})
	require.NoError(t, err)
	return p
}

func (w *world) callback(cb fakeCallback) error {
	body, _ := json.Marshal(cb)
	header := http.Header{}
	header.Set("X-Fake-Signature", "valid")
	return w.core.Payments.HandleCallback(context.Background(), "MPESA", body, header)
}

func (w *world) pay(t *testing.T, p *models.Payment) {
	t.Helper()
	require.NoError(t, w.callback(fakeCallback{
		PaymentID:     p.ID.String(),
		TransactionID: fmt.Sprintf("TX%s", p.Number),
		OK:            true,
		Amount:        p.Amount.String(),
	}))
}

func item(tt models.TicketType, n int) types.CartItem {
	return types.CartItem{ID: tt.ID, Amount: n}
}
