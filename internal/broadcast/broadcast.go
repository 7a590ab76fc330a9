// Package broadcast fans a QueueMessage out to every session registered in
// its room on this node, via the write serializer.
package broadcast

import (
	"strconv"

	"github.com/chatfabric/chatfabric/internal/chatframe"
	"github.com/chatfabric/chatfabric/internal/metrics"
	"github.com/chatfabric/chatfabric/internal/registry"
	"github.com/chatfabric/chatfabric/internal/writeserializer"
)

// Sender is the write path the broadcaster drives; *writeserializer.Serializer
// satisfies it.
type Sender interface {
	Send(w writeserializer.Writer, frame []byte)
}

// Snapshotter is the read path the broadcaster needs from the session
// registry; *registry.Registry satisfies it.
type Snapshotter interface {
	SnapshotRoom(roomID int) []registry.Session
}

// Broadcaster delivers a persisted chat message to every session currently
// live in its room on this node. It never retries: a session that misses a
// frame because it is mid-disconnect is accepted loss, since the sender has
// already been acked and the message is durably stored.
type Broadcaster struct {
	sender    Sender
	registry  Snapshotter

	// excludeSender, when true, skips delivery to any session that reports
	// a UserID() equal to the message's userId. Sessions without a UserID()
	// method are never skipped; internal/session.Session has none, so with
	// real sessions this flag changes nothing. Disabled by default: the ack
	// path is separate from the broadcast payload, so re-delivering to the
	// sender is harmless and keeps behavior uniform across clients.
	excludeSender bool
}

// New constructs a Broadcaster over the given write-serializer and session
// registry.
func New(sender Sender, reg Snapshotter, excludeSender bool) *Broadcaster {
	return &Broadcaster{sender: sender, registry: reg, excludeSender: excludeSender}
}

// sessionWithUser is implemented by sessions that can report the userId
// they were bound with, needed only when sender-exclusion is enabled.
type sessionWithUser interface {
	UserID() string
}

// Broadcast serializes msg once and sends it to every session snapshot from
// msg's room. Writer registration mismatches (a session that does not also
// implement writeserializer.Writer) are skipped and counted as failures;
// this should not happen in practice since internal/session.Session
// implements both interfaces.
func (b *Broadcaster) Broadcast(msg *chatframe.QueueMessage) error {
	roomLabel := strconv.Itoa(msg.RoomID)

	body, err := msg.Encode()
	if err != nil {
		metrics.BroadcastFailures.WithLabelValues(roomLabel, "encode").Inc()
		return err
	}

	sessions := b.registry.SnapshotRoom(msg.RoomID)
	for _, s := range sessions {
		if b.excludeSender {
			if u, ok := s.(sessionWithUser); ok && u.UserID() == msg.UserID {
				continue
			}
		}

		w, ok := s.(writeserializer.Writer)
		if !ok {
			metrics.BroadcastFailures.WithLabelValues(roomLabel, "not_writer").Inc()
			continue
		}

		b.sender.Send(w, body)
		metrics.BroadcastSuccess.WithLabelValues(roomLabel).Inc()
	}

	return nil
}
