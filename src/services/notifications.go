package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"ticketing/src/lib"
	"ticketing/src/metrics"
	"ticketing/src/models"
	"ticketing/src/types"
	"ticketing/src/utils"
	"time"

	"golang.org/x/sync/errgroup"
)

// errPermanent marks a job failure that retrying cannot fix.
var errPermanent = errors.New("permanent failure")

type DispatcherConfig struct {
	BackoffBase time.Duration
	MaxAttempts int
	BatchSize   int
	Concurrency int
	Lease       time.Duration
	From        string
}

func (c *DispatcherConfig) defaults() {
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
}

type jobHandler func(ctx context.Context, job *models.JobTask, n *models.Notification) error

// Dispatcher runs durable notification jobs with retries.
type Dispatcher struct {
	store     Store
	email     EmailSender
	sms       SMSSender
	artifacts ArtifactStore
	waker     QueueWaker
	cfg       DispatcherConfig
	now       func() time.Time
	handlers  map[types.JobKind]jobHandler
}

func NewDispatcher(store Store, email EmailSender, sms SMSSender, artifacts ArtifactStore, waker QueueWaker, cfg DispatcherConfig) *Dispatcher {
	cfg.defaults()
	d := &Dispatcher{
		store:     store,
		email:     email,
		sms:       sms,
		artifacts: artifacts,
		waker:     waker,
		cfg:       cfg,
		now:       time.Now,
	}
	d.handlers = map[types.JobKind]jobHandler{
		types.JOB_TICKET_EMAIL:   d.sendTicketEmail,
		types.JOB_REMINDER_SMS:   d.sendSMS,
		types.JOB_PROMO_SMS:      d.sendSMS,
		types.JOB_SMS:            d.sendSMS,
		types.JOB_RECONCILE_MAIL: d.sendPlainEmail,
	}
	return d
}

// Backoff is the delay before the next attempt once attempt attempts have failed.
func (d *Dispatcher) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(d.cfg.BackoffBase) * math.Pow(2, float64(attempt-1)))
}

// Enqueue persists a job on the transaction in ctx, if any.
func (d *Dispatcher) Enqueue(ctx context.Context, queue string, kind types.JobKind, payload types.JSONB) (*models.JobTask, error) {
	job := &models.JobTask{
		Queue:       queue,
		Kind:        kind,
		Payload:     payload,
		Status:      types.JOB_PENDING,
		MaxAttempts: d.cfg.MaxAttempts,
		NextRunAt:   d.now(),
	}
	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Wake tells queue consumers that work is ready. It is best effort: the
// periodic poll picks up anything a lost wake-up misses.
func (d *Dispatcher) Wake(ctx context.Context, queue string, jobID uint) {
	if d.waker == nil {
		return
	}
	if err := d.waker.Wake(ctx, queue, jobID); err != nil {
		log.Printf("[Dispatcher] Error waking %s: %s\n", queue, err.Error())
	}
}

// ProcessDue claims and runs due jobs. Job failures are recorded on the job, not returned.
func (d *Dispatcher) ProcessDue(ctx context.Context) (int, error) {
	if n, err := d.store.ReleaseExpiredLeases(ctx, d.now()); err != nil {
		return 0, err
	} else if n > 0 {
		log.Printf("[Dispatcher] Released %d expired job leases\n", n)
	}
	jobs, err := d.store.ClaimDueJobs(ctx, d.now(), d.cfg.Lease, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i := range jobs {
		job := &jobs[i]
		g.Go(func() error {
			d.run(gctx, job)
			return nil
		})
	}
	return len(jobs), g.Wait()
}

// ProcessJob runs one job now if it is still pending.
func (d *Dispatcher) ProcessJob(ctx context.Context, id uint) error {
	job, err := d.store.ClaimJob(ctx, id, d.now(), d.cfg.Lease)
	if err != nil || job == nil {
		return err
	}
	d.run(ctx, job)
	return nil
}

// Retrigger re-queues a failed job with a fresh attempt budget.
func (d *Dispatcher) Retrigger(ctx context.Context, id uint) (*models.JobTask, error) {
	var job *models.JobTask
	err := d.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		job, err = d.store.LockJob(ctx, id)
		if err != nil {
			return err
		}
		if job.Status != types.JOB_FAILED {
			return types.ErrJobNotRetryable(id, job.Status)
		}
		job.Status = types.JOB_PENDING
		job.Attempts = 0
		job.LastError = ""
		job.NextRunAt = d.now()
		job.LockedUntil = nil
		return d.store.SaveJob(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	d.Wake(ctx, job.Queue, job.ID)
	return job, nil
}

func (d *Dispatcher) run(ctx context.Context, job *models.JobTask) {
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	n := &models.Notification{JobID: &job.ID, Channel: types.CHANNEL_SMS}
	if pid, ok := payloadUint(job.Payload, "person_id"); ok {
		n.PersonID = &pid
	}
	handler, ok := d.handlers[job.Kind]
	var err error
	if !ok {
		err = fmt.Errorf("%w: unknown job kind %q", errPermanent, job.Kind)
	} else {
		err = d.safeCall(ctx, handler, job, n)
	}

	job.Attempts++
	job.LockedUntil = nil
	switch {
	case err == nil:
		job.Status = types.JOB_DONE
		job.LastError = ""
		n.Sent = true
		metrics.JobsProcessed.WithLabelValues(string(job.Kind), "done").Inc()
	case errors.Is(err, errPermanent) || job.Attempts >= job.MaxAttempts:
		job.Status = types.JOB_FAILED
		job.LastError = err.Error()
		metrics.JobsProcessed.WithLabelValues(string(job.Kind), "failed").Inc()
		log.Printf("[Dispatcher] Job %d (%s) failed after %d attempts: %s\n", job.ID, job.Kind, job.Attempts, err.Error())
	default:
		job.Status = types.JOB_PENDING
		job.LastError = err.Error()
		job.NextRunAt = d.now().Add(d.Backoff(job.Attempts))
		if job.Kind == types.JOB_TICKET_EMAIL {
			job.Queue = types.NOTIFICATIONS_QUEUE
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Kind), "retry").Inc()
		log.Printf("[Dispatcher] Job %d (%s) attempt %d failed, retrying at %s: %s\n", job.ID, job.Kind, job.Attempts, job.NextRunAt.Format(time.RFC3339), err.Error())
	}

	// bookkeeping must survive a cancelled worker context
	bg := context.WithoutCancel(ctx)
	if saveErr := d.store.SaveJob(bg, job); saveErr != nil {
		log.Printf("[Dispatcher] Error saving job %d: %s\n", job.ID, saveErr.Error())
	}
	if job.Status == types.JOB_PENDING {
		return
	}
	if nErr := d.store.CreateNotification(bg, n); nErr != nil {
		log.Printf("[Dispatcher] Error recording notification for job %d: %s\n", job.ID, nErr.Error())
	}
}

func (d *Dispatcher) safeCall(ctx context.Context, h jobHandler, job *models.JobTask, n *models.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return h(ctx, job, n)
}

func (d *Dispatcher) sendTicketEmail(ctx context.Context, job *models.JobTask, n *models.Notification) error {
	n.Channel = types.CHANNEL_EMAIL
	ticketID, ok := payloadUint(job.Payload, "ticket_id")
	if !ok {
		return fmt.Errorf("%w: payload has no ticket_id", errPermanent)
	}
	t, err := d.store.GetTicket(ctx, ticketID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", errPermanent, err.Error())
		}
		return err
	}
	if t.Person == nil || t.Person.Email == "" {
		return fmt.Errorf("%w: ticket %d has no email recipient", errPermanent, t.ID)
	}
	n.PersonID = &t.PersonID

	payload, err := utils.EncodeTicketQR(t.ID, t.Signature)
	if err != nil {
		return err
	}
	png, err := utils.RenderQRCode(payload)
	if err != nil {
		return err
	}

	eventName, when, where := "your event", "", ""
	if t.TicketType != nil && t.TicketType.Event != nil {
		ev := t.TicketType.Event
		eventName, when, where = ev.Name, ev.Date.Format("Mon 02 Jan 2006 15:04"), ev.Location
	}
	link := ""
	if d.artifacts != nil {
		key := fmt.Sprintf("tickets/%s.png", t.Signature)
		if url, err := d.artifacts.Put(ctx, key, "image/png", png); err != nil {
			log.Printf("[Dispatcher] Error uploading ticket %d artifact: %s\n", t.ID, err.Error())
		} else {
			link = url
			n.ArtifactRef = key
		}
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s,\n\nYour ticket for %s is attached.\n", t.Person.Name, eventName)
	if when != "" {
		fmt.Fprintf(&body, "When: %s\nWhere: %s\n", when, where)
	}
	fmt.Fprintf(&body, "Ticket: #%d\nCode: %s\n", t.ID, t.Signature)
	if link != "" {
		fmt.Fprintf(&body, "Download: %s\n", link)
	}
	n.Message = fmt.Sprintf("ticket %d for %s", t.ID, eventName)

	err = d.email.Send(ctx, &lib.SendMailInput{
		From:    d.cfg.From,
		To:      []string{t.Person.Email},
		Subject: fmt.Sprintf("Your ticket for %s", eventName),
		Body:    body.String(),
		Attachments: []lib.Attachment{
			{Name: fmt.Sprintf("ticket-%d.png", t.ID), ContentType: "image/png", Data: png},
		},
	})
	if err != nil {
		return err
	}
	return d.store.MarkTicketSent(context.WithoutCancel(ctx), t.ID)
}

func (d *Dispatcher) sendSMS(ctx context.Context, job *models.JobTask, n *models.Notification) error {
	n.Channel = types.CHANNEL_SMS
	phone := payloadString(job.Payload, "phone")
	message := payloadString(job.Payload, "message")
	if phone == "" || message == "" {
		return fmt.Errorf("%w: sms job needs phone and message", errPermanent)
	}
	n.Message = message
	return d.sms.SendSMS(ctx, phone, message)
}

func (d *Dispatcher) sendPlainEmail(ctx context.Context, job *models.JobTask, n *models.Notification) error {
	n.Channel = types.CHANNEL_EMAIL
	to := payloadString(job.Payload, "email")
	if to == "" {
		return fmt.Errorf("%w: email job has no recipient", errPermanent)
	}
	n.Message = payloadString(job.Payload, "subject")
	return d.email.Send(ctx, &lib.SendMailInput{
		From:    d.cfg.From,
		To:      []string{to},
		Subject: payloadString(job.Payload, "subject"),
		Body:    payloadString(job.Payload, "body"),
	})
}

// payloadUint reads an id from a job payload, which holds float64 after a database round trip.
func payloadUint(p types.JSONB, key string) (uint, bool) {
	switch v := p[key].(type) {
	case float64:
		return uint(v), v > 0
	case int:
		return uint(v), v > 0
	case int64:
		return uint(v), v > 0
	case uint:
		return v, v > 0
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		return uint(n), err == nil && n > 0
	}
	return 0, false
}

func payloadString(p types.JSONB, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}
