package services

import (
	"context"
	"log"
	"strings"
	"ticketing/src/metrics"
	"ticketing/src/models"
	"ticketing/src/types"
)

// RedemptionAuthority validates tickets at the gate.
type RedemptionAuthority struct {
	store Store
	cache SignatureCache
}

func NewRedemptionAuthority(store Store, cache SignatureCache) *RedemptionAuthority {
	return &RedemptionAuthority{store: store, cache: cache}
}

// Redeem consumes one use of a ticket. Every attempt on an existing ticket
// leaves a scan record, accepted or not.
func (r *RedemptionAuthority) Redeem(ctx context.Context, ticketID, agentID uint) (*models.Ticket, error) {
	var (
		ticket  *models.Ticket
		outcome error
	)
	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		t, err := r.store.LockTicket(ctx, ticketID)
		if err != nil {
			if isNotFound(err) {
				outcome = types.ErrInvalidTicket(ticketID)
				return nil
			}
			return err
		}
		scan := &models.TicketScan{AgentID: agentID, TicketID: t.ID}
		switch {
		case t.Payment == nil || !t.Payment.State.Confirmed():
			outcome = types.ErrUnpaidTicket()
			scan.Reason = string(types.UnpaidTicket)
		case t.TicketType != nil && t.Uses >= t.TicketType.UseLimit:
			outcome = types.ErrAlreadyRedeemed(t.Uses)
			scan.Reason = string(types.AlreadyRedeemed)
		default:
			t.Uses++
			if err := r.store.SaveTicketUses(ctx, t.ID, t.Uses); err != nil {
				return err
			}
			scan.Accepted = true
		}
		if err := r.store.CreateScan(ctx, scan); err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		kind := "error"
		if appErr, ok := types.AsAppError(outcome); ok {
			kind = string(appErr.Kind)
		}
		metrics.Redemptions.WithLabelValues(kind).Inc()
		return nil, outcome
	}
	metrics.Redemptions.WithLabelValues("accepted").Inc()
	return ticket, nil
}

// FindBySignature resolves a scanned signature to its ticket. The cache only
// shortcuts the lookup; a stale entry falls through to the database.
func (r *RedemptionAuthority) FindBySignature(ctx context.Context, sig string) (*models.Ticket, error) {
	sig = strings.ToLower(strings.TrimSpace(sig))
	if r.cache != nil {
		id, ok, err := r.cache.Get(ctx, sig)
		if err != nil {
			log.Printf("[Redemption] Error reading signature cache: %s\n", err.Error())
		}
		if ok {
			t, err := r.store.GetTicket(ctx, id)
			if err == nil && t.Signature == sig {
				return t, nil
			}
		}
	}

	tickets, err := r.store.FindTicketsBySignature(ctx, sig)
	if err != nil {
		return nil, err
	}
	switch len(tickets) {
	case 0:
		return nil, types.ErrNotFound("ticket")
	case 1:
		t := &tickets[0]
		if r.cache != nil {
			if err := r.cache.Set(ctx, sig, t.ID); err != nil {
				log.Printf("[Redemption] Error caching signature: %s\n", err.Error())
			}
		}
		return t, nil
	}

	ids := make([]uint, 0, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.ID)
	}
	if err := r.store.LogTransaction(ctx, &models.PaymentTransactionLog{
		Kind:    types.TXLOG_AMBIGUOUS_TICKET,
		Message: "signature matches more than one ticket",
		Payload: types.JSONB{"signature": sig, "ticket_ids": ids},
	}); err != nil {
		log.Printf("[Redemption] Error logging ambiguous signature: %s\n", err.Error())
	}
	return nil, types.ErrAmbiguousSignature(sig)
}
