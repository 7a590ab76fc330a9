// Package metrics declares the process-wide Prometheus metric surface
// for a chatfabric node.
//
// Naming convention: namespace_subsystem_name
//   - namespace: chatfabric
//   - subsystem: ingress, queue, consumer, broadcast, registry, writeserializer,
//     batchwriter, circuit_breaker, rate_limit
//   - name: specific metric
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesReceived counts chat frames accepted from clients over WebSocket.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "ingress",
		Name:      "messages_received_total",
		Help:      "Total chat messages received from clients",
	}, []string{"room_id"})

	// MessagesPublished counts messages the producer successfully handed to the external queue.
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "queue",
		Name:      "messages_published_total",
		Help:      "Total messages successfully published to the external queue",
	}, []string{"room_id"})

	// MessagesFailed counts frames rejected at ingress (malformed or invalid)
	// and messages the producer could not publish; no publish is retried.
	MessagesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "queue",
		Name:      "messages_failed_total",
		Help:      "Total frames rejected at ingress plus messages that failed to publish to the external queue",
	}, []string{"room_id"})

	// AcksSent counts per-message acks written back to the originating session.
	AcksSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "ingress",
		Name:      "acks_sent_total",
		Help:      "Total acks sent back to originating sessions",
	})

	// AcksFailed counts accepted frames for which no ack was produced: the
	// producer publish failed or the ack could not be encoded. Acks dropped
	// later by the write serializer are counted there, not here.
	AcksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "ingress",
		Name:      "acks_failed_total",
		Help:      "Total valid frames for which no ack was produced (publish or encode failure)",
	})

	// QueueMessagesSent is a low-level counter of SendMessage/SendMessageBatch calls made to the external queue.
	QueueMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "queue",
		Name:      "send_calls_total",
		Help:      "Total SendMessage/SendMessageBatch calls issued to the external queue",
	}, []string{"mode"})

	// ConsumerProcessed counts messages successfully processed by the consumer pool.
	ConsumerProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "consumer",
		Name:      "processed_total",
		Help:      "Total messages successfully processed by the consumer pool",
	}, []string{"room_id"})

	// ConsumerFailed counts messages the consumer pool could not process (left for redelivery or DLQ).
	ConsumerFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "consumer",
		Name:      "failed_total",
		Help:      "Total messages the consumer pool failed to process",
	}, []string{"room_id"})

	// ConsumerReceiveDuration tracks long-poll receive call latency.
	ConsumerReceiveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatfabric",
		Subsystem: "consumer",
		Name:      "receive_duration_seconds",
		Help:      "Duration of ReceiveMessage calls against the external queue",
		Buckets:   prometheus.DefBuckets,
	}, []string{"queue_url"})

	// BroadcastSuccess counts broadcast frames handed to the write serializer,
	// one per recipient session.
	BroadcastSuccess = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "broadcast",
		Name:      "success_total",
		Help:      "Total broadcast frames handed to the write serializer, one per local room session",
	}, []string{"room_id"})

	// BroadcastFailures counts broadcast deliveries that were never attempted:
	// the message could not be encoded ("encode") or a snapshot session does
	// not implement the serializer's Writer ("not_writer").
	BroadcastFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "broadcast",
		Name:      "failures_total",
		Help:      "Total broadcast attempts that failed to reach a session",
	}, []string{"room_id", "reason"})

	// ActiveRooms tracks the number of rooms with at least one locally connected session.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatfabric",
		Subsystem: "registry",
		Name:      "active_rooms",
		Help:      "Current number of rooms with at least one locally connected session",
	})

	// TotalSessions tracks the number of sessions currently connected to this node.
	TotalSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatfabric",
		Subsystem: "registry",
		Name:      "active_sessions",
		Help:      "Current number of sessions connected to this node",
	})

	// WriteSerializerSent counts frames the serializer wrote to the client socket.
	WriteSerializerSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "writeserializer",
		Name:      "sent_total",
		Help:      "Total frames written to client sockets by the write serializer",
	})

	// WriteSerializerQueued counts frames enqueued onto a session's write queue.
	WriteSerializerQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "writeserializer",
		Name:      "queued_total",
		Help:      "Total frames enqueued onto a session write queue",
	})

	// WriteSerializerDropped counts frames dropped because a session's write queue was full.
	WriteSerializerDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "writeserializer",
		Name:      "dropped_total",
		Help:      "Total frames dropped because the session write queue was full",
	})

	// WriteSerializerErrors counts socket write failures observed by the serializer.
	WriteSerializerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "writeserializer",
		Name:      "errors_total",
		Help:      "Total socket write errors observed by the write serializer",
	})

	// WriteSerializerActiveWriters tracks how many worker goroutines are currently draining a session queue.
	WriteSerializerActiveWriters = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatfabric",
		Subsystem: "writeserializer",
		Name:      "active_writers",
		Help:      "Current number of worker goroutines actively draining a session write queue",
	})

	// BatchWriterEnqueued counts messages accepted into the batch writer's buffer.
	BatchWriterEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "batchwriter",
		Name:      "enqueued_total",
		Help:      "Total messages enqueued into the batch writer buffer",
	})

	// BatchWriterWritten counts messages successfully persisted to the store.
	BatchWriterWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "batchwriter",
		Name:      "written_total",
		Help:      "Total messages successfully persisted to the relational store",
	})

	// BatchWriterBatches counts flush operations, labeled by what triggered them.
	BatchWriterBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "batchwriter",
		Name:      "batches_total",
		Help:      "Total batch flush operations",
	}, []string{"trigger"})

	// BatchWriterDropped counts messages dropped because the buffer was full.
	BatchWriterDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "batchwriter",
		Name:      "dropped_total",
		Help:      "Total messages dropped because the batch writer buffer was full",
	})

	// BatchWriterWriteErrors counts batches that failed to persist and were routed to the dead-letter sink.
	BatchWriterWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "batchwriter",
		Name:      "write_errors_total",
		Help:      "Total batch writes that failed and were routed to the dead-letter sink",
	})

	// BatchWriterBufferSize tracks the current depth of the batch writer's buffer.
	BatchWriterBufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatfabric",
		Subsystem: "batchwriter",
		Name:      "buffer_size",
		Help:      "Current number of messages waiting in the batch writer buffer",
	})

	// CircuitBreakerState tracks circuit breaker state per wrapped dependency.
	// The value is the gobreaker.State number: 0: Closed, 1: Half-Open, 2: Open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chatfabric",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Half-Open, 2: Open)",
	}, []string{"dependency"})

	// RateLimitExceeded counts requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatfabric",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded the rate limit",
	}, []string{"scope"})
)
