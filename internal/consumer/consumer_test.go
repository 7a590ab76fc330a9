package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chatfabric/chatfabric/internal/chatframe"
	"github.com/chatfabric/chatfabric/internal/extqueue"
)

// deleteTrackingClient wraps a *extqueue.Fake to record Delete calls, since
// the fake itself does not retain deletion state (Receive already pops the
// message off its in-memory queue).
type deleteTrackingClient struct {
	*extqueue.Fake
	mu      sync.Mutex
	deletes int
}

func (d *deleteTrackingClient) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	d.mu.Lock()
	d.deletes++
	d.mu.Unlock()
	return d.Fake.Delete(ctx, queueURL, receiptHandle)
}

func (d *deleteTrackingClient) deleteCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deletes
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	count int
}

func (r *recordingBroadcaster) Broadcast(msg *chatframe.QueueMessage) error {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
	return nil
}

func (r *recordingBroadcaster) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

type fakeWriter struct {
	accept bool
	mu     sync.Mutex
	count  int
}

func (w *fakeWriter) Enqueue(msg *chatframe.QueueMessage) bool {
	w.mu.Lock()
	w.count++
	w.mu.Unlock()
	return w.accept
}

func (w *fakeWriter) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func seedMessage(t *testing.T, client extqueue.Client, room int, userID string) {
	t.Helper()
	ctx := context.Background()
	url, err := client.GetURL(ctx, "chat-room-"+itoa(room))
	if err != nil {
		t.Fatalf("get url: %v", err)
	}
	frame := &chatframe.ChatFrame{UserID: userID, Username: "alice", Text: "hi"}
	msg := chatframe.NewQueueMessage(frame, room, "node-a", "127.0.0.1")
	body, _ := msg.Encode()
	if err := client.Send(ctx, url, string(body), itoa(room), msg.MessageID); err != nil {
		t.Fatalf("seed send: %v", err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestPool_DeliversBroadcastsPersistsAndAcks(t *testing.T) {
	fake := extqueue.NewFake()
	client := &deleteTrackingClient{Fake: fake}
	seedMessage(t, client, 5, "1")

	bc := &recordingBroadcaster{}
	writer := &fakeWriter{accept: true}

	pool := New(client, "chat-room-", []int{5}, 1, 10, 5*time.Millisecond, time.Second, time.Minute, bc, writer)
	defer pool.Release()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bc.calls() > 0 && writer.calls() > 0 && client.deleteCount() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("message not fully processed: broadcasts=%d writes=%d deletes=%d", bc.calls(), writer.calls(), client.deleteCount())
}

func TestPool_WriterRejectionDoesNotAck(t *testing.T) {
	fake := extqueue.NewFake()
	client := &deleteTrackingClient{Fake: fake}
	seedMessage(t, client, 6, "1")

	bc := &recordingBroadcaster{}
	writer := &fakeWriter{accept: false}

	pool := New(client, "chat-room-", []int{6}, 1, 10, 5*time.Millisecond, time.Second, time.Minute, bc, writer)
	defer pool.Release()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if writer.calls() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if writer.calls() == 0 {
		t.Fatal("expected writer to be consulted")
	}
	if client.deleteCount() != 0 {
		t.Fatalf("expected no ack when writer rejects, got %d deletes", client.deleteCount())
	}
}

func TestPool_RoundRobinAssignsDisjointRoomsAcrossWorkers(t *testing.T) {
	fake := extqueue.NewFake()
	for _, room := range []int{1, 2, 3, 4} {
		seedMessage(t, fake, room, "1")
	}

	bc := &recordingBroadcaster{}
	writer := &fakeWriter{accept: true}

	pool := New(fake, "chat-room-", []int{1, 2, 3, 4}, 2, 10, 5*time.Millisecond, time.Second, time.Minute, bc, writer)
	defer pool.Release()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bc.calls() >= 4 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected all 4 rooms processed across 2 workers, got %d broadcasts", bc.calls())
}

func TestPool_WorkerCountNeverExceedsRoomCount(t *testing.T) {
	fake := extqueue.NewFake()
	bc := &recordingBroadcaster{}
	writer := &fakeWriter{accept: true}

	// Requesting 10 worker threads for only 2 rooms must not panic or spin
	// up more workers than there are rooms to own.
	pool := New(fake, "chat-room-", []int{1, 2}, 10, 10, 5*time.Millisecond, time.Second, time.Minute, bc, writer)
	pool.Release()
}
