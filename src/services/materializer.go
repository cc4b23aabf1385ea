package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"ticketing/src/metrics"
	"ticketing/src/models"
	"ticketing/src/types"
	"ticketing/src/utils"

	"github.com/google/uuid"
)

// Materializer turns a confirmed payment into signed tickets.
type Materializer struct {
	store           Store
	signer          *utils.TicketSigner
	dispatcher      *Dispatcher
	maxSignAttempts int
}

func NewMaterializer(store Store, signer *utils.TicketSigner, dispatcher *Dispatcher) *Materializer {
	return &Materializer{store: store, signer: signer, dispatcher: dispatcher, maxSignAttempts: 5}
}

// Materialize issues the tickets of a confirmed payment, or returns the ones
// already issued. Repeated calls never create duplicates.
func (m *Materializer) Materialize(ctx context.Context, paymentID uuid.UUID) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		p, err := m.store.LockPayment(ctx, paymentID)
		if err != nil {
			if isNotFound(err) {
				return types.ErrPaymentNotFound(paymentID.String())
			}
			return err
		}
		tickets, err = m.materializeLocked(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.dispatcher.Wake(ctx, types.MAIN_QUEUE, 0)
	return tickets, nil
}

// materializeLocked expects p to be row-locked by the caller's transaction.
func (m *Materializer) materializeLocked(ctx context.Context, p *models.Payment) ([]models.Ticket, error) {
	if !p.State.Confirmed() {
		return nil, types.ErrNotConfirmed(p.State)
	}
	n, err := m.store.CountTickets(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return m.store.ListTickets(ctx, p.ID)
	}

	person, err := m.store.GetPerson(ctx, p.PersonID)
	if err != nil {
		return nil, err
	}
	lines, err := m.store.ListPaymentLines(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	tickets := []models.Ticket{}
	for _, line := range lines {
		for range line.Quantity {
			t, err := m.issue(ctx, p, person, &line)
			if err != nil {
				return nil, err
			}
			tickets = append(tickets, *t)
		}
	}
	log.Printf("[Materializer] Issued %d tickets for payment %s\n", len(tickets), p.Number)
	return tickets, nil
}

// IssueOne adds a single ticket to a line of a confirmed payment that is
// still short of its quantity.
func (m *Materializer) IssueOne(ctx context.Context, paymentID uuid.UUID, ticketTypeID uint) (*models.Ticket, error) {
	var ticket *models.Ticket
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		p, err := m.store.LockPayment(ctx, paymentID)
		if err != nil {
			if isNotFound(err) {
				return types.ErrPaymentNotFound(paymentID.String())
			}
			return err
		}
		if !p.State.Confirmed() {
			return types.ErrNotConfirmed(p.State)
		}
		lines, err := m.store.ListPaymentLines(ctx, p.ID)
		if err != nil {
			return err
		}
		var line *models.PaymentLine
		for i := range lines {
			if lines[i].TicketTypeID == ticketTypeID {
				line = &lines[i]
				break
			}
		}
		if line == nil {
			return types.ErrInvalidTicketType(ticketTypeID)
		}
		issued, err := m.store.CountTicketsForLine(ctx, p.ID, ticketTypeID)
		if err != nil {
			return err
		}
		if issued >= int64(line.Quantity) {
			return types.ErrTicketsIssued(ticketTypeID)
		}
		person, err := m.store.GetPerson(ctx, p.PersonID)
		if err != nil {
			return err
		}
		ticket, err = m.issue(ctx, p, person, line)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.dispatcher.Wake(ctx, types.MAIN_QUEUE, 0)
	return ticket, nil
}

// RenderQR returns the PNG a gate agent scans for ticket id.
func (m *Materializer) RenderQR(ctx context.Context, id uint) ([]byte, error) {
	t, err := m.store.GetTicket(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, types.ErrInvalidTicket(id)
		}
		return nil, err
	}
	payload, err := utils.EncodeTicketQR(t.ID, t.Signature)
	if err != nil {
		return nil, err
	}
	return utils.RenderQRCode(payload)
}

func (m *Materializer) issue(ctx context.Context, p *models.Payment, person *models.Person, line *models.PaymentLine) (*models.Ticket, error) {
	fields := utils.SignatureFields{
		TicketTypeID: line.TicketTypeID,
		PaymentID:    p.ID.String(),
		PersonID:     person.ID,
		PersonPhone:  person.Phone,
	}
	if line.TicketType != nil && line.TicketType.Event != nil {
		ev := line.TicketType.Event
		fields.EventID = ev.ID
		fields.EventNumber = ev.EventNumber
		fields.EventDate = ev.Date
	}

	for attempt := 1; attempt <= m.maxSignAttempts; attempt++ {
		sig, err := m.signer.Sign(fields)
		if err != nil {
			return nil, err
		}
		t := &models.Ticket{
			TicketTypeID: line.TicketTypeID,
			PaymentID:    p.ID,
			PersonID:     person.ID,
			Signature:    sig,
		}
		err = m.store.CreateTicket(ctx, t)
		if errors.Is(err, types.ErrDuplicateSignature) {
			log.Printf("[Materializer] Signature collision on payment %s, attempt %d\n", p.Number, attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		metrics.TicketsIssued.Inc()
		if _, err := m.dispatcher.Enqueue(ctx, types.MAIN_QUEUE, types.JOB_TICKET_EMAIL, types.JSONB{
			"ticket_id": t.ID,
			"person_id": person.ID,
		}); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("no unique signature after %d attempts", m.maxSignAttempts)
}
