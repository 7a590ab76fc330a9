// Package store implements the Batch Writer: a single-threaded flusher
// behind a bounded FIFO buffer that persists chat messages and derived
// user-activity rows to MySQL, diverting failed batches to the dead-letter
// sink.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/chatfabric/chatfabric/internal/chatframe"
	"github.com/chatfabric/chatfabric/internal/logging"
	"github.com/chatfabric/chatfabric/internal/metrics"
)

const pollInterval = 100 * time.Millisecond

// DeadLetterSink is the collaborator a failed batch is diverted to;
// internal/deadletter.Sink satisfies it.
type DeadLetterSink interface {
	Send(ctx context.Context, msg *chatframe.QueueMessage, reason string)
}

// BatchWriter owns the bounded staging buffer and the single flusher
// goroutine that drains it into the database.
type BatchWriter struct {
	db   *sqlx.DB
	sink DeadLetterSink

	batchSize     int
	flushInterval time.Duration

	buffer chan *chatframe.QueueMessage

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a BatchWriter and starts its flusher goroutine. Callers
// must ensure batchSize <= bufferCapacity; config.Load already enforces
// this as a startup invariant.
func New(db *sqlx.DB, sink DeadLetterSink, batchSize, bufferCapacity int, flushInterval time.Duration) *BatchWriter {
	w := &BatchWriter{
		db:            db,
		sink:          sink,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buffer:        make(chan *chatframe.QueueMessage, bufferCapacity),
		stop:          make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue offers msg into the buffer without blocking. Callers must not
// acknowledge the originating queue message when this returns false.
func (w *BatchWriter) Enqueue(msg *chatframe.QueueMessage) bool {
	select {
	case w.buffer <- msg:
		metrics.BatchWriterEnqueued.Inc()
		metrics.BatchWriterBufferSize.Set(float64(len(w.buffer)))
		return true
	default:
		metrics.BatchWriterDropped.Inc()
		return false
	}
}

// Release signals the flusher to drain the buffer, flush the final partial
// batch, and stop.
func (w *BatchWriter) Release() {
	close(w.stop)
	w.wg.Wait()
}

// Ping satisfies health.StoreChecker.
func (w *BatchWriter) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

func (w *BatchWriter) run() {
	defer w.wg.Done()

	pending := make([]*chatframe.QueueMessage, 0, w.batchSize)
	lastFlush := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-w.buffer:
			pending = append(pending, msg)
			metrics.BatchWriterBufferSize.Set(float64(len(w.buffer)))
		case <-ticker.C:
		case <-w.stop:
			pending = w.drainRemaining(pending)
			if len(pending) > 0 {
				w.flush(pending, "shutdown")
			}
			return
		}

		if len(pending) >= w.batchSize {
			w.flush(pending, "size")
			pending = pending[:0]
			lastFlush = time.Now()
		} else if len(pending) > 0 && time.Since(lastFlush) >= w.flushInterval {
			w.flush(pending, "interval")
			pending = pending[:0]
			lastFlush = time.Now()
		}
	}
}

// drainRemaining collects whatever is left in the buffer without blocking,
// used once on shutdown before the final flush.
func (w *BatchWriter) drainRemaining(pending []*chatframe.QueueMessage) []*chatframe.QueueMessage {
	for {
		select {
		case msg := <-w.buffer:
			pending = append(pending, msg)
		default:
			return pending
		}
	}
}

// flush persists one batch: a batch insert-or-ignore of messages, then a
// batch upsert of user-activity rows derived from the same batch. On any
// failure the whole batch is routed to the dead-letter sink.
func (w *BatchWriter) flush(batch []*chatframe.QueueMessage, trigger string) {
	metrics.BatchWriterBatches.WithLabelValues(trigger).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		w.divertBatch(ctx, batch, err)
		return
	}

	// Determine which messages are already durable before inserting, so the
	// activity upsert below only counts messages this flush actually adds;
	// a redelivered duplicate landing in a later batch must not bump
	// message_count again.
	existing, err := existingMessageIDs(ctx, tx, batch)
	if err != nil {
		tx.Rollback()
		w.divertBatch(ctx, batch, err)
		return
	}

	if err := insertMessages(ctx, tx, batch); err != nil {
		tx.Rollback()
		w.divertBatch(ctx, batch, err)
		return
	}

	newMessages := make([]*chatframe.QueueMessage, 0, len(batch))
	for _, m := range batch {
		if !existing[m.MessageID] {
			newMessages = append(newMessages, m)
		}
	}

	if err := upsertUserActivity(ctx, tx, newMessages); err != nil {
		tx.Rollback()
		w.divertBatch(ctx, batch, err)
		return
	}

	if err := tx.Commit(); err != nil {
		w.divertBatch(ctx, batch, err)
		return
	}

	metrics.BatchWriterWritten.Add(float64(len(batch)))
}

func (w *BatchWriter) divertBatch(ctx context.Context, batch []*chatframe.QueueMessage, cause error) {
	logging.Error(ctx, "batch writer: flush failed, routing batch to dead-letter sink",
		zap.Int("count", len(batch)), zap.Error(cause))
	metrics.BatchWriterWriteErrors.Inc()
	for _, msg := range batch {
		w.sink.Send(ctx, msg, cause.Error())
	}
}

// existingMessageIDs reports which of the batch's messageIds are already
// durable, so the caller can tell a fresh insert from a redelivered
// duplicate after the insert-or-ignore runs.
func existingMessageIDs(ctx context.Context, tx *sqlx.Tx, batch []*chatframe.QueueMessage) (map[string]bool, error) {
	ids := make([]string, len(batch))
	for i, m := range batch {
		ids[i] = m.MessageID
	}

	query, args, err := sqlx.In("SELECT message_id FROM messages WHERE message_id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = tx.Rebind(query)

	var found []string
	if err := tx.SelectContext(ctx, &found, query, args...); err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(found))
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

// insertMessages performs one wire-coalesced insert-or-ignore of the batch,
// keyed on messageId so redelivered duplicates are silently skipped.
func insertMessages(ctx context.Context, tx *sqlx.Tx, batch []*chatframe.QueueMessage) error {
	query, args := buildMessagesInsert(batch)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func buildMessagesInsert(batch []*chatframe.QueueMessage) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("INSERT IGNORE INTO messages (message_id, room_id, user_id, username, text, kind, server_id, client_ip, created_at) VALUES ")

	args := make([]interface{}, 0, len(batch)*9)
	for i, m := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?,?,?,?,?,?)")
		args = append(args, m.MessageID, m.RoomID, m.UserID, m.Username, m.Text, string(m.Kind), m.OriginServerID, m.ClientAddress, m.ServerTimestamp)
	}
	return sb.String(), args
}

// userActivity is one deduplicated (userId, roomId) row ready to upsert.
type userActivity struct {
	key          string
	userID       string
	roomID       string
	lastActivity string
}

// dedupeUserActivity collapses batch to one row per (userId, roomId),
// keeping the latest timestamp, sorted lexicographically by key so that
// concurrent flushes acquire row locks in a consistent order and cannot
// deadlock.
func dedupeUserActivity(batch []*chatframe.QueueMessage) []userActivity {
	latest := make(map[string]*userActivity, len(batch))
	for _, m := range batch {
		key := fmt.Sprintf("%s:%d", m.UserID, m.RoomID)
		if cur, ok := latest[key]; !ok || m.ServerTimestamp > cur.lastActivity {
			latest[key] = &userActivity{
				key:          key,
				userID:       m.UserID,
				roomID:       fmt.Sprintf("%d", m.RoomID),
				lastActivity: m.ServerTimestamp,
			}
		}
	}

	out := make([]userActivity, 0, len(latest))
	for _, a := range latest {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// upsertUserActivity deduplicates the batch by (userId, roomId) keeping the
// latest timestamp, then upserts in lexicographic key order so concurrent
// flushes acquire row locks in a consistent order and cannot deadlock.
func upsertUserActivity(ctx context.Context, tx *sqlx.Tx, batch []*chatframe.QueueMessage) error {
	rows := dedupeUserActivity(batch)

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO user_activity (user_id, room_id, last_activity, message_count)
		VALUES (?, ?, ?, 1)
		ON DUPLICATE KEY UPDATE
			last_activity = GREATEST(last_activity, VALUES(last_activity)),
			message_count = message_count + 1
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range rows {
		if _, err := stmt.ExecContext(ctx, a.userID, a.roomID, a.lastActivity); err != nil {
			return err
		}
	}
	return nil
}
