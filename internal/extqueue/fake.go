package extqueue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Client used by tests of producer/consumer code that
// depend on the external queue contract without needing real SQS.
type Fake struct {
	mu      sync.Mutex
	queues  map[string][]Message
	urls    map[string]string
	nextID  int
	SendErr error
	PingErr error
}

// NewFake creates an empty in-memory queue client.
func NewFake() *Fake {
	return &Fake{
		queues: make(map[string][]Message),
		urls:   make(map[string]string),
	}
}

func (f *Fake) GetURL(ctx context.Context, queueName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := "fake://" + queueName
	f.urls[queueName] = url
	return url, nil
}

func (f *Fake) Send(ctx context.Context, queueURL, body, partitionKey, dedupID string) error {
	if f.SendErr != nil {
		return f.SendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.queues[queueURL] = append(f.queues[queueURL], Message{
		Body:          body,
		ReceiptHandle: fmt.Sprintf("rh-%d", f.nextID),
	})
	return nil
}

func (f *Fake) SendBatch(ctx context.Context, queueURL string, entries []SendEntry) error {
	if f.SendErr != nil {
		return f.SendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		f.nextID++
		f.queues[queueURL] = append(f.queues[queueURL], Message{
			Body:          e.Body,
			ReceiptHandle: fmt.Sprintf("rh-%d", f.nextID),
		})
	}
	return nil
}

func (f *Fake) Receive(ctx context.Context, queueURL string, maxMessages int32, waitTime, visibilityTimeout time.Duration) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.queues[queueURL]
	if len(msgs) == 0 {
		return nil, nil
	}
	n := int(maxMessages)
	if n > len(msgs) {
		n = len(msgs)
	}
	out := append([]Message(nil), msgs[:n]...)
	f.queues[queueURL] = msgs[n:]
	return out, nil
}

func (f *Fake) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	return nil
}

func (f *Fake) GetAttributes(ctx context.Context, queueURL string) (Attributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Attributes{ApproxMessages: len(f.queues[queueURL])}, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	return f.PingErr
}

// Len reports how many messages are currently queued at queueURL, for test
// assertions.
func (f *Fake) Len(queueURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[queueURL])
}
