// Package ingress implements the WebSocket ingress handler: it upgrades an
// HTTP request bound for a room, reads chat frames, validates them, hands
// accepted messages to the Queue Producer, and acks the sender through the
// write serializer.
package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatfabric/chatfabric/internal/chatframe"
	"github.com/chatfabric/chatfabric/internal/logging"
	"github.com/chatfabric/chatfabric/internal/metrics"
	"github.com/chatfabric/chatfabric/internal/registry"
	"github.com/chatfabric/chatfabric/internal/session"
	"github.com/chatfabric/chatfabric/internal/writeserializer"
)

// Publisher is the Queue Producer surface ingress depends on;
// producer.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, msg *chatframe.QueueMessage) error
}

// Sender is the write-serializer surface ingress depends on;
// writeserializer.Serializer satisfies it.
type Sender interface {
	Send(w writeserializer.Writer, frame []byte)
}

// SessionRegistry is the session-registry surface ingress depends on;
// registry.Registry satisfies it.
type SessionRegistry interface {
	Add(roomID int, s registry.Session)
	Remove(s registry.Session)
}

// RateLimiter is the rate-limiting surface ingress depends on;
// ratelimit.RateLimiter satisfies it.
type RateLimiter interface {
	CheckWebSocketIP(c *gin.Context) bool
	CheckWebSocketSession(ctx context.Context, sessionID string) error
}

// Handler wires the WebSocket endpoint for one node.
type Handler struct {
	registry    SessionRegistry
	serializer  Sender
	producer    Publisher
	rateLimiter RateLimiter

	nodeID         string
	rooms          int
	allowedOrigins []string

	upgrader websocket.Upgrader
}

// New constructs a Handler for the /chat/:roomId route.
func New(reg SessionRegistry, serializer Sender, producer Publisher, rateLimiter RateLimiter, nodeID string, rooms int, allowedOrigins []string) *Handler {
	h := &Handler{
		registry:       reg,
		serializer:     serializer,
		producer:       producer,
		rateLimiter:    rateLimiter,
		nodeID:         nodeID,
		rooms:          rooms,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Register mounts the WebSocket route on the given gin router group.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/chat/:roomId", h.ServeWS)
}

// ServeWS upgrades the connection and serves one session's lifetime.
func (h *Handler) ServeWS(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("roomId"))
	if err != nil || roomID < 1 || roomID > h.rooms {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId must be an integer between 1 and " + strconv.Itoa(h.rooms)})
		return
	}

	if !h.rateLimiter.CheckWebSocketIP(c) {
		return // response already written
	}

	clientAddr := c.ClientIP()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "ingress: websocket upgrade failed", zap.Error(err))
		return
	}

	sess := session.New(uuid.NewString(), conn)
	sess.Bind(roomID)
	h.registry.Add(roomID, sess)
	sess.MarkLive()

	h.readLoop(context.Background(), sess, roomID, clientAddr)

	h.registry.Remove(sess)
	sess.Close()
}

func (h *Handler) readLoop(ctx context.Context, sess *session.Session, roomID int, clientAddr string) {
	roomLabel := strconv.Itoa(roomID)

	for {
		_, data, err := sess.ReadFrame()
		if err != nil {
			return
		}

		if err := h.rateLimiter.CheckWebSocketSession(ctx, sess.ID()); err != nil {
			h.sendError(sess, "rate limit exceeded")
			continue
		}

		frame, err := chatframe.Parse(data)
		if err != nil {
			metrics.MessagesFailed.WithLabelValues(roomLabel).Inc()
			h.sendError(sess, "malformed message")
			continue
		}

		if err := frame.Validate(); err != nil {
			metrics.MessagesFailed.WithLabelValues(roomLabel).Inc()
			h.sendError(sess, err.Error())
			continue
		}

		metrics.MessagesReceived.WithLabelValues(roomLabel).Inc()

		msg := chatframe.NewQueueMessage(frame, roomID, h.nodeID, clientAddr)
		if err := h.producer.Publish(ctx, msg); err != nil {
			logging.Warn(ctx, "ingress: producer publish failed", zap.String("message_id", msg.MessageID), zap.Error(err))
			metrics.AcksFailed.Inc()
			h.sendError(sess, "failed to accept message")
			continue
		}

		ack := chatframe.NewAck(msg, frame.Raw())
		body, err := json.Marshal(ack)
		if err != nil {
			metrics.AcksFailed.Inc()
			continue
		}
		h.serializer.Send(sess, body)
		metrics.AcksSent.Inc()
	}
}

func (h *Handler) sendError(sess *session.Session, reason string) {
	resp := chatframe.NewError(reason)
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	h.serializer.Send(sess, body)
}
