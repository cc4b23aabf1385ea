package aws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"ticketing/src/types"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSConsumer struct {
	Name    string
	client  SQSAPI
	handler types.Handler
}

func NewSQSConsumer(client SQSAPI, queue string, handler types.Handler) *SQSConsumer {
	return &SQSConsumer{
		Name:    queue,
		client:  client,
		handler: handler,
	}
}

// Listen long-polls the queue until ctx is done. Messages whose handler
// fails stay on the queue and reappear after their visibility timeout.
func (s *SQSConsumer) Listen(ctx context.Context) error {
	qurl, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(s.Name),
	})
	if err != nil {
		log.Printf("Failed to retrieve queue URL for %s: %s\n", s.Name, err.Error())
		return err
	}
	log.Printf("%s: Listening for messages...", s.Name)
	for {
		output, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            qurl.QueueUrl,
			WaitTimeSeconds:     20,
			MaxNumberOfMessages: 10,
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Printf("[SQS] Error receiving messages: %s\n", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}
		var wg sync.WaitGroup
		for _, m := range output.Messages {
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				s.handle(ctx, qurl.QueueUrl, m)
			}(m)
		}
		wg.Wait()
	}
}

func (s *SQSConsumer) handle(ctx context.Context, qurl *string, m sqstypes.Message) {
	if m.Body == nil {
		return
	}
	if err := s.handler(ctx, *m.Body); err != nil {
		log.Printf("[SQS] %s: handler failed for %s: %s\n", s.Name, aws.ToString(m.MessageId), err.Error())
		return
	}
	if _, err := s.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      qurl,
		ReceiptHandle: m.ReceiptHandle,
	}); err != nil {
		log.Printf("[SQS] Error deleting message %s: %s\n", aws.ToString(m.MessageId), err.Error())
	}
}

// SQSWaker posts {"job_id","queue"} messages so consumers pick a job up
// ahead of the next poll. Queue names are mapped to real SQS queue names.
type SQSWaker struct {
	client SQSAPI
	names  map[string]string

	mu   sync.Mutex
	urls map[string]*string
}

func NewSQSWaker(client SQSAPI, names map[string]string) *SQSWaker {
	return &SQSWaker{client: client, names: names, urls: map[string]*string{}}
}

func (w *SQSWaker) queueURL(ctx context.Context, queue string) (*string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if u, ok := w.urls[queue]; ok {
		return u, nil
	}
	name, ok := w.names[queue]
	if !ok {
		return nil, errors.New("no SQS queue configured for " + queue)
	}
	out, err := w.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return nil, err
	}
	w.urls[queue] = out.QueueUrl
	return out.QueueUrl, nil
}

func (w *SQSWaker) Wake(ctx context.Context, queue string, jobID uint) error {
	qurl, err := w.queueURL(ctx, queue)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{"job_id": jobID, "queue": queue})
	if err != nil {
		return err
	}
	_, err = w.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    qurl,
		MessageBody: aws.String(string(body)),
	})
	return err
}
