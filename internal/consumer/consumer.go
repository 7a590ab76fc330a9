// Package consumer implements the Consumer Pool: a fixed-size set of
// workers, each long-polling a disjoint subset of room partitions off the
// external queue, broadcasting and persisting what they receive.
package consumer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatfabric/chatfabric/internal/chatframe"
	"github.com/chatfabric/chatfabric/internal/extqueue"
	"github.com/chatfabric/chatfabric/internal/logging"
	"github.com/chatfabric/chatfabric/internal/metrics"
)

const emptyIterationSleep = 100 * time.Millisecond

// Broadcaster is the collaborator invoked for every message received;
// broadcast.Broadcaster satisfies it.
type Broadcaster interface {
	Broadcast(msg *chatframe.QueueMessage) error
}

// BatchEnqueuer is the collaborator persisted messages are handed to;
// store.BatchWriter satisfies it.
type BatchEnqueuer interface {
	Enqueue(msg *chatframe.QueueMessage) bool
}

// Pool owns a fixed set of workers, each polling a disjoint subset of
// rooms assigned to this node.
type Pool struct {
	client      extqueue.Client
	queuePrefix string

	maxMessages       int32
	waitTime          time.Duration
	visibilityTimeout time.Duration
	urlRetryInterval  time.Duration

	broadcaster Broadcaster
	writer      BatchEnqueuer

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Pool and immediately starts min(workerThreads, len(rooms))
// workers, each owning a disjoint round-robin subset of rooms.
func New(
	client extqueue.Client,
	queuePrefix string,
	rooms []int,
	workerThreads int,
	maxMessages int32,
	waitTime, visibilityTimeout, urlRetryInterval time.Duration,
	broadcaster Broadcaster,
	writer BatchEnqueuer,
) *Pool {
	p := &Pool{
		client:            client,
		queuePrefix:       queuePrefix,
		maxMessages:       maxMessages,
		waitTime:          waitTime,
		visibilityTimeout: visibilityTimeout,
		urlRetryInterval:  urlRetryInterval,
		broadcaster:       broadcaster,
		writer:            writer,
		stop:              make(chan struct{}),
	}

	workerCount := workerThreads
	if len(rooms) < workerCount {
		workerCount = len(rooms)
	}
	if workerCount < 1 {
		return p
	}

	assignments := make([][]int, workerCount)
	for i, room := range rooms {
		w := i % workerCount
		assignments[w] = append(assignments[w], room)
	}

	for _, owned := range assignments {
		p.wg.Add(1)
		go p.runWorker(owned)
	}

	return p
}

// Release signals every worker to exit after its current receive and waits
// for them to stop.
func (p *Pool) Release() {
	close(p.stop)
	p.wg.Wait()
}

type roomURL struct {
	url       string
	resolved  bool
	nextRetry time.Time
}

func (p *Pool) runWorker(rooms []int) {
	defer p.wg.Done()

	urls := make(map[int]*roomURL, len(rooms))
	for _, r := range rooms {
		urls[r] = &roomURL{}
	}

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		anyMessages := false
		for _, room := range rooms {
			if p.processRoom(room, urls[room]) {
				anyMessages = true
			}
		}

		if !anyMessages {
			select {
			case <-time.After(emptyIterationSleep):
			case <-p.stop:
				return
			}
		}
	}
}

// processRoom polls one room once and returns whether any message was
// received.
func (p *Pool) processRoom(room int, u *roomURL) bool {
	ctx := context.Background()

	if !u.resolved {
		if time.Now().Before(u.nextRetry) {
			return false
		}
		url, err := p.client.GetURL(ctx, p.queuePrefix+strconv.Itoa(room))
		if err != nil {
			logging.Warn(ctx, "consumer: queue url not yet resolvable, retrying later",
				zap.Int("room_id", room), zap.Error(err))
			u.nextRetry = time.Now().Add(p.urlRetryInterval)
			return false
		}
		u.url = url
		u.resolved = true
	}

	messages, err := p.client.Receive(ctx, u.url, p.maxMessages, p.waitTime, p.visibilityTimeout)
	if err != nil {
		logging.Error(ctx, "consumer: receive failed, will retry", zap.Int("room_id", room), zap.Error(err))
		return false
	}
	if len(messages) == 0 {
		return false
	}

	for _, m := range messages {
		p.processMessage(ctx, room, u.url, m)
	}
	return true
}

func (p *Pool) processMessage(ctx context.Context, room int, queueURL string, raw extqueue.Message) {
	roomLabel := strconv.Itoa(room)

	msg, err := chatframe.DecodeQueueMessage([]byte(raw.Body))
	if err != nil {
		logging.Error(ctx, "consumer: failed to decode message, leaving for redelivery",
			zap.Int("room_id", room), zap.Error(err))
		metrics.ConsumerFailed.WithLabelValues(roomLabel).Inc()
		return
	}

	if err := p.broadcaster.Broadcast(msg); err != nil {
		// Broadcast failures are localized to individual sessions; the
		// message is still persisted and acked.
		logging.Warn(ctx, "consumer: broadcast reported an error",
			zap.String("message_id", msg.MessageID), zap.Error(err))
	}

	if !p.writer.Enqueue(msg) {
		// Buffer overflow: do not ack, rely on queue redelivery.
		metrics.ConsumerFailed.WithLabelValues(roomLabel).Inc()
		return
	}

	if err := p.client.Delete(ctx, queueURL, raw.ReceiptHandle); err != nil {
		logging.Error(ctx, "consumer: delete failed after successful persistence enqueue",
			zap.String("message_id", msg.MessageID), zap.Error(err))
		return
	}

	metrics.ConsumerProcessed.WithLabelValues(roomLabel).Inc()
}
