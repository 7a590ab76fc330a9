// Package extqueue defines the external partitioned queue contract the
// producer, consumer, and dead-letter sink depend on, and an AWS SQS FIFO
// implementation of it.
package extqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/chatfabric/chatfabric/internal/logging"
	"github.com/chatfabric/chatfabric/internal/metrics"
)

// Message is one entry returned by Receive: the opaque body plus whatever
// handle is needed to later Delete it.
type Message struct {
	Body          string
	ReceiptHandle string
}

// SendEntry is one entry of a batch send.
type SendEntry struct {
	ID             string // caller-chosen id, unique within the batch
	Body           string
	PartitionKey   string
	DeduplicationID string
}

// Attributes summarizes a queue's approximate backlog.
type Attributes struct {
	ApproxMessages        int
	ApproxMessagesNotVisible int
	ApproxMessagesDelayed    int
}

// Client is the external partitioned queue contract. A room maps to a
// partition via GetURL({queuePrefix}{roomId}); room messages use roomId as
// the FIFO partition key and messageId as the dedup id. The dead-letter sink
// uses the same contract with its own fixed partition key and dedup id.
type Client interface {
	GetURL(ctx context.Context, queueName string) (string, error)
	Send(ctx context.Context, queueURL, body, partitionKey, dedupID string) error
	SendBatch(ctx context.Context, queueURL string, entries []SendEntry) error
	Receive(ctx context.Context, queueURL string, maxMessages int32, waitTime, visibilityTimeout time.Duration) ([]Message, error)
	Delete(ctx context.Context, queueURL, receiptHandle string) error
	GetAttributes(ctx context.Context, queueURL string) (Attributes, error)
	Ping(ctx context.Context) error
}

// sqsClient adapts aws-sdk-go-v2's SQS client to the Client interface, with
// a circuit breaker wrapping the network calls and a cache of resolved queue
// URLs (queue-URL resolution is lazy with retry, owned by the caller).
type sqsClient struct {
	api     *sqs.Client
	breaker *gobreaker.CircuitBreaker[any]

	mu   sync.RWMutex
	urls map[string]string
}

// NewSQSClient wraps an already-configured *sqs.Client.
func NewSQSClient(api *sqs.Client) Client {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "sqs",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return &sqsClient{api: api, breaker: cb, urls: make(map[string]string)}
}

func (c *sqsClient) GetURL(ctx context.Context, queueName string) (string, error) {
	c.mu.RLock()
	if url, ok := c.urls[queueName]; ok {
		c.mu.RUnlock()
		return url, nil
	}
	c.mu.RUnlock()

	out, err := c.breaker.Execute(func() (any, error) {
		return c.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	})
	if err != nil {
		return "", fmt.Errorf("resolve queue url for %s: %w", queueName, err)
	}

	url := aws.ToString(out.(*sqs.GetQueueUrlOutput).QueueUrl)
	c.mu.Lock()
	c.urls[queueName] = url
	c.mu.Unlock()
	return url, nil
}

func (c *sqsClient) Send(ctx context.Context, queueURL, body, partitionKey, dedupID string) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return c.api.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:               aws.String(queueURL),
			MessageBody:            aws.String(body),
			MessageGroupId:         aws.String(partitionKey),
			MessageDeduplicationId: aws.String(dedupID),
		})
	})
	metrics.QueueMessagesSent.WithLabelValues("single").Inc()
	return err
}

func (c *sqsClient) SendBatch(ctx context.Context, queueURL string, entries []SendEntry) error {
	batchEntries := make([]types.SendMessageBatchRequestEntry, 0, len(entries))
	for _, e := range entries {
		batchEntries = append(batchEntries, types.SendMessageBatchRequestEntry{
			Id:                     aws.String(e.ID),
			MessageBody:            aws.String(e.Body),
			MessageGroupId:         aws.String(e.PartitionKey),
			MessageDeduplicationId: aws.String(e.DeduplicationID),
		})
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.api.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(queueURL),
			Entries:  batchEntries,
		})
	})
	metrics.QueueMessagesSent.WithLabelValues("batch").Inc()
	if err != nil {
		return err
	}

	failed := out.(*sqs.SendMessageBatchOutput).Failed
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d batch entries failed", len(failed), len(entries))
	}
	return nil
}

func (c *sqsClient) Receive(ctx context.Context, queueURL string, maxMessages int32, waitTime, visibilityTimeout time.Duration) ([]Message, error) {
	timer := metrics.ConsumerReceiveDuration.WithLabelValues(queueURL)
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	out, err := c.breaker.Execute(func() (any, error) {
		return c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: maxMessages,
			WaitTimeSeconds:     int32(waitTime.Seconds()),
			VisibilityTimeout:   int32(visibilityTimeout.Seconds()),
		})
	})
	if err != nil {
		return nil, err
	}

	raw := out.(*sqs.ReceiveMessageOutput).Messages
	msgs := make([]Message, 0, len(raw))
	for _, m := range raw {
		msgs = append(msgs, Message{Body: aws.ToString(m.Body), ReceiptHandle: aws.ToString(m.ReceiptHandle)})
	}
	return msgs, nil
}

func (c *sqsClient) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(queueURL),
			ReceiptHandle: aws.String(receiptHandle),
		})
	})
	return err
}

func (c *sqsClient) GetAttributes(ctx context.Context, queueURL string) (Attributes, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       aws.String(queueURL),
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameAll},
		})
	})
	if err != nil {
		return Attributes{}, err
	}

	attrs := out.(*sqs.GetQueueAttributesOutput).Attributes
	return Attributes{
		ApproxMessages:           atoiSafe(attrs[string(types.QueueAttributeNameApproximateNumberOfMessages)]),
		ApproxMessagesNotVisible: atoiSafe(attrs[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)]),
		ApproxMessagesDelayed:    atoiSafe(attrs[string(types.QueueAttributeNameApproximateNumberOfMessagesDelayed)]),
	}, nil
}

// Ping is used by the health handler; it lists at most one queue to verify
// connectivity to SQS without depending on any one room's partition
// existing yet.
func (c *sqsClient) Ping(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return c.api.ListQueues(ctx, &sqs.ListQueuesInput{MaxResults: aws.Int32(1)})
	})
	if err != nil {
		logging.Error(ctx, "sqs ping failed", zap.Error(err))
	}
	return err
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
