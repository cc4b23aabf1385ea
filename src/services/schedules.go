package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"ticketing/src/models"
	"ticketing/src/types"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const (
	notificationRetention = 7 * 24 * time.Hour
	defaultPromoInterval  = 7
)

// Campaigns sends event reminders and partner promotions and prunes old notifications.
type Campaigns struct {
	store      Store
	dispatcher *Dispatcher
	loc        *time.Location
	now        func() time.Time
}

func NewCampaigns(store Store, dispatcher *Dispatcher, loc *time.Location) *Campaigns {
	if loc == nil {
		loc = time.UTC
	}
	return &Campaigns{store: store, dispatcher: dispatcher, loc: loc, now: time.Now}
}

// SendReminders queues one SMS per (person, event) for events in the next
// 24 hours. Each SMS costs the partner one credit; partners without credit
// are skipped. A (person, event) pair is reminded at most once.
func (c *Campaigns) SendReminders(ctx context.Context) (int, error) {
	now := c.now().In(c.loc)
	targets, err := c.store.ListReminderTargets(ctx, now, now.Add(24*time.Hour))
	if err != nil {
		return 0, err
	}
	queued := 0
	seen := map[[2]uint]bool{}
	for _, t := range targets {
		key := [2]uint{t.PersonID, t.EventID}
		if seen[key] {
			continue
		}
		seen[key] = true
		err := c.store.WithTx(ctx, func(ctx context.Context) error {
			fresh, err := c.store.MarkReminded(ctx, t.PersonID, t.EventID)
			if err != nil {
				return err
			}
			if !fresh {
				return errAlreadyReminded
			}
			partner, err := c.store.LockPartner(ctx, t.PartnerID)
			if err != nil {
				return err
			}
			if partner.SMSCredits <= 0 {
				log.Printf("[Campaigns] Partner %d has no SMS credits, skipping reminder for event %d\n", partner.ID, t.EventID)
				return errNoCredits
			}
			if err := c.store.SetPartnerCredits(ctx, partner.ID, partner.SMSCredits-1); err != nil {
				return err
			}
			_, err = c.dispatcher.Enqueue(ctx, types.MAIN_QUEUE, types.JOB_REMINDER_SMS, types.JSONB{
				"person_id": t.PersonID,
				"event_id":  t.EventID,
				"phone":     t.Phone,
				"message":   reminderMessage(t),
			})
			return err
		})
		if errors.Is(err, errNoCredits) || errors.Is(err, errAlreadyReminded) {
			continue
		}
		if err != nil {
			log.Printf("[Campaigns] Error queueing reminder for person %d: %s\n", t.PersonID, err.Error())
			continue
		}
		queued++
	}
	if queued > 0 {
		c.dispatcher.Wake(ctx, types.MAIN_QUEUE, 0)
	}
	return queued, nil
}

var (
	errNoCredits       = errors.New("partner has no sms credits")
	errAlreadyReminded = errors.New("reminder already sent")
)

func reminderMessage(t models.ReminderTarget) string {
	return fmt.Sprintf("Hi %s, a reminder that %s starts %s. Have your ticket ready at the gate.", t.Name, t.EventName, t.EventDate)
}

// SendPromotions queues today's verified partner promotions to opted-in people.
func (c *Campaigns) SendPromotions(ctx context.Context) (int, error) {
	now := c.now().In(c.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	queued := 0
	err := c.store.WithTx(ctx, func(ctx context.Context) error {
		promos, err := c.store.ListDuePromotions(ctx, today)
		if err != nil {
			return err
		}
		for i := range promos {
			p := &promos[i]
			people, err := c.store.ListOptedInPeople(ctx, p.PartnerID, types.CHANNEL_SMS)
			if err != nil {
				return err
			}
			for _, person := range people {
				if _, err := c.dispatcher.Enqueue(ctx, types.MAIN_QUEUE, types.JOB_PROMO_SMS, types.JSONB{
					"person_id":    person.ID,
					"promotion_id": p.ID,
					"phone":        person.Phone,
					"message":      p.Message,
				}); err != nil {
					return err
				}
				queued++
			}
			interval := p.IntervalDays
			if interval <= 0 {
				interval = defaultPromoInterval
			}
			last := today
			next := today.AddDate(0, 0, interval)
			p.LastRun = &last
			p.NextRun = &next
			if err := c.store.SavePromotion(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if queued > 0 {
		c.dispatcher.Wake(ctx, types.MAIN_QUEUE, 0)
	}
	return queued, nil
}

// CleanupNotifications hard-deletes notifications older than a week.
func (c *Campaigns) CleanupNotifications(ctx context.Context) (int64, error) {
	return c.store.DeleteNotificationsBefore(ctx, c.now().Add(-notificationRetention))
}

// Register schedules the periodic work of the ticketing core on s.
func Register(s gocron.Scheduler, core *Core) error {
	ctx := context.Background()
	jobs := []struct {
		name string
		def  gocron.JobDefinition
		run  func() error
	}{
		{"reminders", gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(12, 0, 0))), func() error {
			n, err := core.Campaigns.SendReminders(ctx)
			log.Printf("[Scheduler] Queued %d reminders\n", n)
			return err
		}},
		{"promotions", gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(8, 0, 0))), func() error {
			n, err := core.Campaigns.SendPromotions(ctx)
			log.Printf("[Scheduler] Queued %d promotion messages\n", n)
			return err
		}},
		{"cleanup", gocron.WeeklyJob(1, gocron.NewWeekdays(time.Sunday), gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))), func() error {
			n, err := core.Campaigns.CleanupNotifications(ctx)
			log.Printf("[Scheduler] Deleted %d old notifications\n", n)
			return err
		}},
		{"reconcile", gocron.WeeklyJob(1, gocron.NewWeekdays(time.Monday), gocron.NewAtTimes(gocron.NewAtTime(2, 0, 0))), func() error {
			report, err := core.Payments.Reconcile(ctx)
			if report != nil {
				log.Printf("[Scheduler] Reconciled: %+v\n", *report)
			}
			return err
		}},
		{"expire", gocron.DurationJob(time.Minute), func() error {
			_, err := core.Payments.ExpireStale(ctx)
			return err
		}},
		{"jobs", gocron.DurationJob(15 * time.Second), func() error {
			_, err := core.Dispatcher.ProcessDue(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		run := j.run
		name := j.name
		_, err := s.NewJob(
			j.def,
			gocron.NewTask(func() {
				if err := run(); err != nil {
					log.Printf("[Scheduler] Error running %s: %s\n", name, err.Error())
				}
			}),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("scheduling %s: %w", name, err)
		}
	}
	return nil
}
