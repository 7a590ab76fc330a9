// Package producer implements the Queue Producer: it hands QueueMessage
// values off to the external partitioned queue, either synchronously
// (single-send mode) or via a per-room in-memory batch (micro-batch mode).
package producer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatfabric/chatfabric/internal/chatframe"
	"github.com/chatfabric/chatfabric/internal/extqueue"
	"github.com/chatfabric/chatfabric/internal/logging"
	"github.com/chatfabric/chatfabric/internal/metrics"
)

// queueSendBatchLimit is the external queue's own per-call batch limit in
// the reference deployment (SQS FIFO: 10 entries per SendMessageBatch).
const queueSendBatchLimit = 10

// Producer delivers messages to the external queue under the partitioning
// scheme: queue name is queuePrefix+roomId, FIFO partition key is roomId,
// dedup id is messageId.
type Producer struct {
	client      extqueue.Client
	queuePrefix string

	batchEnabled   bool
	maxBatchSize   int
	flushInterval  time.Duration

	mu      sync.Mutex
	batches map[int]*roomBatch

	stop chan struct{}
	wg   sync.WaitGroup
}

type roomBatch struct {
	messages []*chatframe.QueueMessage
}

// New constructs a Producer. When batchEnabled is true the background
// flush loop is started immediately; Release must be called to stop it.
func New(client extqueue.Client, queuePrefix string, batchEnabled bool, maxBatchSize int, flushInterval time.Duration) *Producer {
	p := &Producer{
		client:        client,
		queuePrefix:   queuePrefix,
		batchEnabled:  batchEnabled,
		maxBatchSize:  maxBatchSize,
		flushInterval: flushInterval,
		batches:       make(map[int]*roomBatch),
		stop:          make(chan struct{}),
	}
	if batchEnabled {
		p.wg.Add(1)
		go p.flushLoop()
	}
	return p
}

// Release stops the background flush loop, flushing any remaining batches
// first. It is a no-op in single-send mode.
func (p *Producer) Release() {
	if !p.batchEnabled {
		return
	}
	close(p.stop)
	p.wg.Wait()
}

// Publish delivers msg. In single-send mode this blocks on the network
// round-trip and returns the real outcome. In micro-batch mode it appends
// to the room's batch and returns an optimistic success once accepted.
func (p *Producer) Publish(ctx context.Context, msg *chatframe.QueueMessage) error {
	if p.batchEnabled {
		return p.publishBatched(msg)
	}
	return p.publishSingle(ctx, msg)
}

func (p *Producer) publishSingle(ctx context.Context, msg *chatframe.QueueMessage) error {
	roomLabel := strconv.Itoa(msg.RoomID)

	url, err := p.client.GetURL(ctx, p.queueName(msg.RoomID))
	if err != nil {
		metrics.MessagesFailed.WithLabelValues(roomLabel).Inc()
		return fmt.Errorf("resolve queue for room %d: %w", msg.RoomID, err)
	}

	body, err := msg.Encode()
	if err != nil {
		metrics.MessagesFailed.WithLabelValues(roomLabel).Inc()
		return fmt.Errorf("encode message %s: %w", msg.MessageID, err)
	}

	if err := p.client.Send(ctx, url, string(body), roomLabel, msg.MessageID); err != nil {
		metrics.MessagesFailed.WithLabelValues(roomLabel).Inc()
		return fmt.Errorf("send message %s to room %d: %w", msg.MessageID, msg.RoomID, err)
	}

	metrics.MessagesPublished.WithLabelValues(roomLabel).Inc()
	return nil
}

func (p *Producer) publishBatched(msg *chatframe.QueueMessage) error {
	p.mu.Lock()
	b, ok := p.batches[msg.RoomID]
	if !ok {
		b = &roomBatch{messages: make([]*chatframe.QueueMessage, 0, p.maxBatchSize)}
		p.batches[msg.RoomID] = b
	}
	b.messages = append(b.messages, msg)
	eager := len(b.messages) >= p.maxBatchSize
	var toFlush []*chatframe.QueueMessage
	if eager {
		toFlush = b.messages
		p.batches[msg.RoomID] = &roomBatch{messages: make([]*chatframe.QueueMessage, 0, p.maxBatchSize)}
	}
	p.mu.Unlock()

	if eager {
		p.sendRoomBatch(msg.RoomID, toFlush)
	}
	return nil
}

func (p *Producer) flushLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.flushAll()
		case <-p.stop:
			p.flushAll()
			return
		}
	}
}

func (p *Producer) flushAll() {
	p.mu.Lock()
	pending := p.batches
	p.batches = make(map[int]*roomBatch)
	p.mu.Unlock()

	for roomID, b := range pending {
		if len(b.messages) == 0 {
			continue
		}
		p.sendRoomBatch(roomID, b.messages)
	}
}

// sendRoomBatch publishes messages for one room, chunked to the external
// queue's own batch-send limit. Failures are counted and the failed
// messages are dropped; the DLQ is not used on the producer side.
func (p *Producer) sendRoomBatch(roomID int, messages []*chatframe.QueueMessage) {
	ctx := context.Background()
	roomLabel := strconv.Itoa(roomID)

	url, err := p.client.GetURL(ctx, p.queueName(roomID))
	if err != nil {
		logging.Error(ctx, "producer: resolve queue url failed, dropping batch",
			zap.Int("room_id", roomID), zap.Int("count", len(messages)), zap.Error(err))
		metrics.MessagesFailed.WithLabelValues(roomLabel).Add(float64(len(messages)))
		return
	}

	for start := 0; start < len(messages); start += queueSendBatchLimit {
		end := start + queueSendBatchLimit
		if end > len(messages) {
			end = len(messages)
		}
		chunk := messages[start:end]

		entries := make([]extqueue.SendEntry, 0, len(chunk))
		for i, msg := range chunk {
			body, err := msg.Encode()
			if err != nil {
				logging.Error(ctx, "producer: encode failed, dropping message",
					zap.String("message_id", msg.MessageID), zap.Error(err))
				metrics.MessagesFailed.WithLabelValues(roomLabel).Inc()
				continue
			}
			entries = append(entries, extqueue.SendEntry{
				ID:              fmt.Sprintf("m%d", i),
				Body:            string(body),
				PartitionKey:    roomLabel,
				DeduplicationID: msg.MessageID,
			})
		}
		if len(entries) == 0 {
			continue
		}

		if err := p.client.SendBatch(ctx, url, entries); err != nil {
			logging.Error(ctx, "producer: batch send failed, dropping batch",
				zap.Int("room_id", roomID), zap.Int("count", len(entries)), zap.Error(err))
			metrics.MessagesFailed.WithLabelValues(roomLabel).Add(float64(len(entries)))
			continue
		}
		metrics.MessagesPublished.WithLabelValues(roomLabel).Add(float64(len(entries)))
	}
}

func (p *Producer) queueName(roomID int) string {
	return p.queuePrefix + strconv.Itoa(roomID)
}
