package session

import (
	"errors"
	"testing"
	"time"
)

type fakeConn struct {
	closed      bool
	writeErr    error
	written     [][]byte
	readQueue   [][]byte
	readErr     error
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	if len(f.readQueue) == 0 {
		if f.readErr != nil {
			return 0, nil, f.readErr
		}
		return 0, nil, errors.New("no more frames")
	}
	msg := f.readQueue[0]
	f.readQueue = f.readQueue[1:]
	return 1, msg, nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestSession_Lifecycle(t *testing.T) {
	c := &fakeConn{}
	s := New("sess-1", c)

	if s.State() != Connecting {
		t.Fatalf("expected initial state Connecting, got %v", s.State())
	}

	s.Bind(7)
	if s.State() != Bound || s.RoomID() != 7 {
		t.Fatalf("expected Bound state with room 7, got state=%v room=%d", s.State(), s.RoomID())
	}
	if s.Open() {
		t.Error("expected Open() to be false before MarkLive")
	}

	s.MarkLive()
	if s.State() != Live || !s.Open() {
		t.Fatalf("expected Live state and Open()=true")
	}

	s.Close()
	if s.State() != Closed || s.Open() {
		t.Fatalf("expected Closed state and Open()=false")
	}
	if !c.closed {
		t.Error("expected underlying connection to be closed")
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	c := &fakeConn{}
	s := New("sess-1", c)
	s.Close()
	s.Close() // must not panic or double-close
	if !c.closed {
		t.Error("expected connection closed")
	}
}

func TestSession_WriteFrame(t *testing.T) {
	c := &fakeConn{}
	s := New("sess-1", c)
	s.Bind(1)
	s.MarkLive()

	if err := s.WriteFrame([]byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.written) != 1 || string(c.written[0]) != "hello" {
		t.Errorf("unexpected writes: %v", c.written)
	}
}

func TestSession_UnregisterClosesSession(t *testing.T) {
	c := &fakeConn{}
	s := New("sess-1", c)
	s.Bind(1)
	s.MarkLive()

	s.Unregister()
	if s.Open() {
		t.Error("expected session to be closed after Unregister")
	}
}
