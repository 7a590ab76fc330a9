package extqueue

import (
	"context"
	"testing"
)

func TestAtoiSafe(t *testing.T) {
	cases := map[string]int{
		"0":    0,
		"42":   42,
		"":     0,
		"abc":  0,
		"1234": 1234,
	}
	for in, want := range cases {
		if got := atoiSafe(in); got != want {
			t.Errorf("atoiSafe(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestFake_SendAndReceive(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	url, err := f.GetURL(ctx, "chat-room-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.Send(ctx, url, `{"hello":"world"}`, "5", "msg-1"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	msgs, err := f.Receive(ctx, url, 10, 0, 0)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != `{"hello":"world"}` {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	if err := f.Delete(ctx, url, msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
}

func TestFake_SendBatch(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	url, _ := f.GetURL(ctx, "chat-room-1")

	entries := []SendEntry{
		{ID: "a", Body: "one", PartitionKey: "1", DeduplicationID: "d1"},
		{ID: "b", Body: "two", PartitionKey: "1", DeduplicationID: "d2"},
	}
	if err := f.SendBatch(ctx, url, entries); err != nil {
		t.Fatalf("send batch failed: %v", err)
	}
	if f.Len(url) != 2 {
		t.Fatalf("expected 2 queued messages, got %d", f.Len(url))
	}
}
