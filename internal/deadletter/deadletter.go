// Package deadletter implements the Dead-Letter Sink: it wraps messages
// that failed persistence in a failure envelope and republishes them,
// individually, to a queue dedicated to database failures.
package deadletter

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/chatfabric/chatfabric/internal/chatframe"
	"github.com/chatfabric/chatfabric/internal/extqueue"
	"github.com/chatfabric/chatfabric/internal/logging"
)

// partitionKey is fixed for every DLQ entry: ordering across DLQ entries
// does not matter, only that every failure lands somewhere durable.
const partitionKey = "database-failures"

// envelope is the wire shape published to the DLQ.
type envelope struct {
	OriginalMessage  *chatframe.QueueMessage `json:"originalMessage"`
	FailureReason    string                  `json:"failureReason"`
	FailureTimestamp string                  `json:"failureTimestamp"`
	AttemptCount     int                     `json:"attemptCount"`
}

// Sink publishes failed messages to the configured DLQ. If the DLQ is
// disabled or its publish fails, the message is logged at error level and
// counted as truly lost; the core never retries a DLQ publish itself.
type Sink struct {
	client    extqueue.Client
	queueName string
	enabled   bool
}

// New constructs a Sink. When enabled is false, Send always logs-and-drops.
func New(client extqueue.Client, queueName string, enabled bool) *Sink {
	return &Sink{client: client, queueName: queueName, enabled: enabled}
}

// Send wraps msg in a failure envelope and publishes it to the DLQ. The
// deduplication id incorporates the current timestamp so repeat failures of
// the same message produce distinct DLQ entries rather than being
// suppressed by the external queue's dedup window.
func (s *Sink) Send(ctx context.Context, msg *chatframe.QueueMessage, reason string) {
	if !s.enabled {
		logging.Error(ctx, "dead-letter sink disabled, message lost",
			zap.String("message_id", msg.MessageID), zap.String("reason", reason))
		return
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	env := envelope{
		OriginalMessage:  msg,
		FailureReason:    reason,
		FailureTimestamp: now,
		AttemptCount:     1,
	}

	body, err := json.Marshal(env)
	if err != nil {
		logging.Error(ctx, "dead-letter sink: failed to encode envelope, message lost",
			zap.String("message_id", msg.MessageID), zap.Error(err))
		return
	}

	url, err := s.client.GetURL(ctx, s.queueName)
	if err != nil {
		logging.Error(ctx, "dead-letter sink: failed to resolve queue url, message lost",
			zap.String("message_id", msg.MessageID), zap.Error(err))
		return
	}

	dedupID := msg.MessageID + now
	if err := s.client.Send(ctx, url, string(body), partitionKey, dedupID); err != nil {
		logging.Error(ctx, "dead-letter sink: publish failed, message lost",
			zap.String("message_id", msg.MessageID), zap.Error(err))
	}
}
