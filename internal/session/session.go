// Package session implements the per-connection Session state machine:
// CONNECTING -> BOUND -> LIVE -> CLOSED.
package session

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State is one point in the Session lifecycle.
type State int32

const (
	Connecting State = iota
	Bound
	Live
	Closed
)

// Conn is the subset of *websocket.Conn the session needs; abstracted for
// tests to substitute a fake socket.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session represents one client's live connection, bound to exactly one
// room for its lifetime.
type Session struct {
	id     string
	roomID int
	conn   Conn
	state  int32 // atomic State

	writeWait time.Duration
}

// New creates a Session in the CONNECTING state. Bind must be called before
// the session is usable.
func New(id string, conn Conn) *Session {
	return &Session{
		id:        id,
		conn:      conn,
		state:     int32(Connecting),
		writeWait: 10 * time.Second,
	}
}

// Bind assigns the session's room, moving it from CONNECTING to BOUND. The
// room is immutable after this call.
func (s *Session) Bind(roomID int) {
	s.roomID = roomID
	atomic.StoreInt32(&s.state, int32(Bound))
}

// MarkLive transitions the session to LIVE once it has been registered with
// the Session Registry.
func (s *Session) MarkLive() {
	atomic.StoreInt32(&s.state, int32(Live))
}

// Close transitions the session to the terminal CLOSED state and closes the
// underlying socket. Safe to call more than once.
func (s *Session) Close() {
	if atomic.SwapInt32(&s.state, int32(Closed)) == int32(Closed) {
		return
	}
	_ = s.conn.Close()
}

// ID returns the session's unique connection id.
func (s *Session) ID() string { return s.id }

// RoomID returns the session's bound room.
func (s *Session) RoomID() int { return s.roomID }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(atomic.LoadInt32(&s.state)) }

// Open reports whether the session is eligible to receive writes. Only LIVE
// sessions accept writes; registry entries are pruned once a session closes.
func (s *Session) Open() bool { return s.State() == Live }

// WriteFrame writes one frame to the underlying socket. Not safe to call
// concurrently; callers must route all writes through the write serializer.
func (s *Session) WriteFrame(frame []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Unregister transitions the session to CLOSED; invoked by the write
// serializer when a drain task observes a dead socket or a write error.
func (s *Session) Unregister() {
	s.Close()
}

// ReadFrame blocks for the next inbound frame and returns its message type
// alongside the payload. Ingress does not inspect the type: every payload,
// text or binary, is parsed as a JSON chat frame.
func (s *Session) ReadFrame() (messageType int, data []byte, err error) {
	return s.conn.ReadMessage()
}
