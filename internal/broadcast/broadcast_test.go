package broadcast

import (
	"sync"
	"testing"

	"github.com/chatfabric/chatfabric/internal/chatframe"
	"github.com/chatfabric/chatfabric/internal/registry"
	"github.com/chatfabric/chatfabric/internal/writeserializer"
)

type fakeSession struct {
	id     string
	roomID int
}

func (f *fakeSession) ID() string     { return f.id }
func (f *fakeSession) RoomID() int    { return f.roomID }
func (f *fakeSession) Open() bool     { return true }
func (f *fakeSession) Unregister()    {}
func (f *fakeSession) WriteFrame(b []byte) error { return nil }

type recordingSender struct {
	mu    sync.Mutex
	calls []string // session ids sent to, in call order
}

func (r *recordingSender) Send(w writeserializer.Writer, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, w.ID())
}

func TestBroadcast_FansOutToAllRoomSessions(t *testing.T) {
	reg := registry.New()
	a := &fakeSession{id: "a", roomID: 1}
	b := &fakeSession{id: "b", roomID: 1}
	other := &fakeSession{id: "c", roomID: 2}
	reg.Add(1, a)
	reg.Add(1, b)
	reg.Add(2, other)

	sender := &recordingSender{}
	bc := New(sender, reg, false)

	frame := &chatframe.ChatFrame{UserID: "1", Username: "alice", Text: "hi"}
	msg := chatframe.NewQueueMessage(frame, 1, "node-a", "127.0.0.1")

	if err := bc.Broadcast(msg); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	if len(sender.calls) != 2 {
		t.Fatalf("expected 2 sends (room 1 only), got %d: %v", len(sender.calls), sender.calls)
	}
}

func TestBroadcast_EmptyRoomIsNotAnError(t *testing.T) {
	reg := registry.New()
	sender := &recordingSender{}
	bc := New(sender, reg, false)

	frame := &chatframe.ChatFrame{UserID: "1", Username: "alice", Text: "hi"}
	msg := chatframe.NewQueueMessage(frame, 99, "node-a", "127.0.0.1")

	if err := bc.Broadcast(msg); err != nil {
		t.Fatalf("unexpected error broadcasting to empty room: %v", err)
	}
	if len(sender.calls) != 0 {
		t.Fatalf("expected no sends, got %v", sender.calls)
	}
}
