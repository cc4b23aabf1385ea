package services

import (
	"context"
	"ticketing/src/metrics"
	"ticketing/src/models"
	"ticketing/src/types"

	"github.com/google/uuid"
)

// InventoryGuard serializes stock changes on a ticket type through a row
// lock. Both operations must run inside the caller's transaction.
type InventoryGuard struct {
	store Store
}

func NewInventoryGuard(store Store) *InventoryGuard {
	return &InventoryGuard{store: store}
}

func (g *InventoryGuard) Reserve(ctx context.Context, paymentID uuid.UUID, ticketTypeID uint, n int) error {
	tt, err := g.store.LockTicketType(ctx, ticketTypeID)
	if err != nil {
		if isNotFound(err) {
			return types.ErrInvalidTicketType(ticketTypeID)
		}
		return err
	}
	if tt.Stock == 0 {
		metrics.InventoryReserveTotal.WithLabelValues("sold_out").Inc()
		return types.ErrSoldOut(tt.Name)
	}
	if tt.Stock < n {
		metrics.InventoryReserveTotal.WithLabelValues("insufficient").Inc()
		return types.ErrInsufficient(tt.Name, tt.Stock)
	}
	if err := g.store.UpdateStock(ctx, tt.ID, -n); err != nil {
		return err
	}
	if err := g.store.CreateReservation(ctx, &models.Reservation{
		PaymentID:    paymentID,
		TicketTypeID: tt.ID,
		Quantity:     n,
	}); err != nil {
		return err
	}
	metrics.InventoryReserveTotal.WithLabelValues("ok").Inc()
	return nil
}

// Release returns every unreleased reservation of a payment to stock and
// reports how many units came back. Releasing twice is a no-op.
func (g *InventoryGuard) Release(ctx context.Context, paymentID uuid.UUID) (int, error) {
	reservations, err := g.store.LockOpenReservations(ctx, paymentID)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, res := range reservations {
		if _, err := g.store.LockTicketType(ctx, res.TicketTypeID); err != nil {
			return released, err
		}
		if err := g.store.UpdateStock(ctx, res.TicketTypeID, res.Quantity); err != nil {
			return released, err
		}
		if err := g.store.MarkReservationReleased(ctx, res.ID); err != nil {
			return released, err
		}
		released += res.Quantity
	}
	return released, nil
}
