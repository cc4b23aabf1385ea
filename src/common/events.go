package common

import (
	"context"
	"fmt"
	"log"
	"ticketing/src/models"
	"ticketing/src/services"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// EventNumber is the human readable, unique key of an event.
func EventNumber(name string, date time.Time) string {
	return fmt.Sprintf("%s-%s-%s", slug.Make(name), date.UTC().Format("20060102"), uuid.NewString()[:8])
}

// AssignEventNumber is the create callback for events.
func AssignEventNumber(ctx context.Context, tx *gorm.DB, ev *models.Event) error {
	if ev.EventNumber == "" {
		ev.EventNumber = EventNumber(ev.Name, ev.Date)
	}
	return nil
}

func UpdateMissingEventNumbers(db *gorm.DB) {
	var events []models.Event
	if err := db.Where("event_number IS NULL OR event_number = ''").Find(&events).Error; err != nil {
		log.Printf("Error querying Events: %s\n", err.Error())
		return
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		for i := range events {
			ev := &events[i]
			ev.EventNumber = EventNumber(ev.Name, ev.Date)
			if err := tx.Model(&models.Event{}).Where("id = ?", ev.ID).Update("event_number", ev.EventNumber).Error; err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		log.Printf("Error on update operation: %s\n", err.Error())
	}
}

// Publisher is a keyed message sink such as a Kafka topic.
type Publisher interface {
	Publish(key string, payload map[string]any) error
}

// PaymentEventsTo forwards payment state changes to pub.
func PaymentEventsTo(pub Publisher) services.PaymentListener {
	return func(ctx context.Context, ev services.PaymentEvent) {
		ids := make([]uint, 0, len(ev.Tickets))
		for _, t := range ev.Tickets {
			ids = append(ids, t.ID)
		}
		payload := map[string]any{
			"payment_id":     ev.Payment.ID.String(),
			"payment_number": ev.Payment.Number,
			"from":           ev.From,
			"to":             ev.To,
			"amount":         ev.Payment.Amount.String(),
			"made_through":   ev.Payment.MadeThrough,
			"tickets":        ids,
		}
		if err := pub.Publish(ev.Payment.ID.String(), payload); err != nil {
			log.Printf("[Kafka] Error publishing payment %s: %s\n", ev.Payment.ID, err.Error())
		}
	}
}
