package common

import (
	"context"
	"errors"
	"log"
	"ticketing/src/types"

	awslib "ticketing/src/lib/aws"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// JobRunner is the part of the dispatcher queue consumers drive.
type JobRunner interface {
	ProcessJob(ctx context.Context, id uint) error
	ProcessDue(ctx context.Context) (int, error)
}

// WakeHandler runs the job named by a {"job_id"} message, or drains every
// due job when the message names none.
func WakeHandler(queue string, jobs JobRunner) types.Handler {
	return func(ctx context.Context, payload string) error {
		if !gjson.Valid(payload) {
			log.Printf("[%s]: Received invalid json body. Dropping\n", queue)
			return nil
		}
		id := gjson.Get(payload, "job_id").Uint()
		if id == 0 {
			n, err := jobs.ProcessDue(ctx)
			if err != nil {
				return err
			}
			log.Printf("[%s]: processed %d due jobs\n", queue, n)
			return nil
		}
		if err := jobs.ProcessJob(ctx, uint(id)); err != nil {
			if types.IsKind(err, types.NotFound) {
				log.Printf("[%s]: job %d no longer exists\n", queue, id)
				return nil
			}
			return err
		}
		return nil
	}
}

// SQSConsumers listens on every queue until ctx is done.
func SQSConsumers(ctx context.Context, client awslib.SQSAPI, queues []string, jobs JobRunner) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		if q == "" {
			continue
		}
		c := awslib.NewSQSConsumer(client, q, WakeHandler(q, jobs))
		g.Go(func() error {
			return c.Listen(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
