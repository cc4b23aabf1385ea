package services

import (
	"context"
	"ticketing/src/lib"
	"ticketing/src/models"
	"ticketing/src/types"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract of the ticketing core. Methods run on
// the transaction opened by WithTx when ctx carries one; lookups that miss
// return a types.NotFound error.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	ListTicketTypes(ctx context.Context, ids []uint) ([]models.TicketType, error)
	LockTicketType(ctx context.Context, id uint) (*models.TicketType, error)
	UpdateStock(ctx context.Context, id uint, delta int) error
	CreateReservation(ctx context.Context, res *models.Reservation) error
	LockOpenReservations(ctx context.Context, paymentID uuid.UUID) ([]models.Reservation, error)
	MarkReservationReleased(ctx context.Context, id uint) error

	GetPerson(ctx context.Context, id uint) (*models.Person, error)
	FindPersonByPhone(ctx context.Context, phone string) (*models.Person, error)
	CreatePerson(ctx context.Context, p *models.Person) (*models.Person, error)

	FindTicketTypePromos(ctx context.Context, code string, ticketTypeIDs []uint) ([]models.TicketTypePromo, error)
	FindEventPromos(ctx context.Context, code string, eventID uint) ([]models.EventPromo, error)
	LockTicketTypePromo(ctx context.Context, id uint) (*models.TicketTypePromo, error)
	LockEventPromo(ctx context.Context, id uint) (*models.EventPromo, error)
	SetTicketTypePromoUseLimit(ctx context.Context, id uint, useLimit int) error
	SetEventPromoUseLimit(ctx context.Context, id uint, useLimit int) error
	CreatePromoRedemption(ctx context.Context, red *models.PromoRedemption) error
	FindOpenPromoRedemption(ctx context.Context, paymentID uuid.UUID) (*models.PromoRedemption, error)
	MarkPromoRedemptionRestored(ctx context.Context, id uint) error

	CreatePayment(ctx context.Context, p *models.Payment) error
	CreatePaymentLines(ctx context.Context, lines []models.PaymentLine) error
	LockPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	LockPaymentBySession(ctx context.Context, provider types.Provider, sessionID string) (*models.Payment, error)
	SavePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListPaymentLines(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentLine, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
	ListReconcilable(ctx context.Context, limit int) ([]models.Payment, error)
	ListConfirmedWithoutTickets(ctx context.Context, limit int) ([]uuid.UUID, error)
	LogTransaction(ctx context.Context, entry *models.PaymentTransactionLog) error
	CreateIntent(ctx context.Context, intent *models.PaymentIntent) error
	LockIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	SaveIntent(ctx context.Context, intent *models.PaymentIntent) error
	PartnerOwnerForPayment(ctx context.Context, paymentID uuid.UUID) (*models.Person, error)

	CountTickets(ctx context.Context, paymentID uuid.UUID) (int64, error)
	CountTicketsForLine(ctx context.Context, paymentID uuid.UUID, ticketTypeID uint) (int64, error)
	ListTickets(ctx context.Context, paymentID uuid.UUID) ([]models.Ticket, error)
	CreateTicket(ctx context.Context, t *models.Ticket) error
	LockTicket(ctx context.Context, id uint) (*models.Ticket, error)
	SaveTicketUses(ctx context.Context, id uint, uses int) error
	CreateScan(ctx context.Context, scan *models.TicketScan) error
	FindTicketsBySignature(ctx context.Context, sig string) ([]models.Ticket, error)
	GetTicket(ctx context.Context, id uint) (*models.Ticket, error)
	MarkTicketSent(ctx context.Context, id uint) error

	CreateJob(ctx context.Context, job *models.JobTask) error
	ClaimDueJobs(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.JobTask, error)
	ClaimJob(ctx context.Context, id uint, now time.Time, lease time.Duration) (*models.JobTask, error)
	ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error)
	SaveJob(ctx context.Context, job *models.JobTask) error
	LockJob(ctx context.Context, id uint) (*models.JobTask, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
	DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	ListReminderTargets(ctx context.Context, from, to time.Time) ([]models.ReminderTarget, error)
	// MarkReminded reports false when the reminder was already recorded.
	MarkReminded(ctx context.Context, personID, eventID uint) (bool, error)
	LockPartner(ctx context.Context, id uint) (*models.Partner, error)
	SetPartnerCredits(ctx context.Context, id uint, credits int) error
	ListDuePromotions(ctx context.Context, day time.Time) ([]models.PartnerPromotion, error)
	ListOptedInPeople(ctx context.Context, partnerID uint, channel types.Channel) ([]models.Person, error)
	SavePromotion(ctx context.Context, p *models.PartnerPromotion) error
}

type EmailSender interface {
	Send(ctx context.Context, msg *lib.SendMailInput) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) error
}

// ArtifactStore keeps rendered ticket artifacts and hands out temporary links.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// QueueWaker nudges workers that jobs are ready, ahead of the next poll.
type QueueWaker interface {
	Wake(ctx context.Context, queue string, jobID uint) error
}

type SignatureCache interface {
	Get(ctx context.Context, sig string) (uint, bool, error)
	Set(ctx context.Context, sig string, ticketID uint) error
}

func isNotFound(err error) bool {
	return types.IsKind(err, types.NotFound)
}
