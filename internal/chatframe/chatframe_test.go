package chatframe

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func validFrameJSON() []byte {
	return []byte(`{"userId":"42","username":"alice","message":"hi","timestamp":"2025-01-01T00:00:00Z","messageType":"TEXT"}`)
}

func TestParse_Valid(t *testing.T) {
	f, err := Parse(validFrameJSON())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.UserID != "42" || f.Username != "alice" || f.Text != "hi" || f.Kind != KindText {
		t.Errorf("unexpected parsed frame: %+v", f)
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestValidate_UserIDBoundaries(t *testing.T) {
	cases := []struct {
		userID string
		ok     bool
	}{
		{"1", true},
		{"100000", true},
		{"0", false},
		{"100001", false},
		{"", false},
		{"abc", false},
	}
	for _, tc := range cases {
		f := &ChatFrame{UserID: tc.userID, Username: "alice", Text: "hi", ClientTimestamp: "2025-01-01T00:00:00Z", Kind: KindText}
		err := f.Validate()
		if tc.ok && err != nil {
			t.Errorf("userId=%q: expected valid, got error %v", tc.userID, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("userId=%q: expected error, got none", tc.userID)
		}
	}
}

func TestValidate_UsernameBoundaries(t *testing.T) {
	cases := []struct {
		username string
		ok       bool
	}{
		{"abc", true},
		{strings.Repeat("a", 20), true},
		{"ab", false},
		{strings.Repeat("a", 21), false},
		{"al-ce", false},
	}
	for _, tc := range cases {
		f := &ChatFrame{UserID: "1", Username: tc.username, Text: "hi", ClientTimestamp: "2025-01-01T00:00:00Z", Kind: KindText}
		err := f.Validate()
		if tc.ok && err != nil {
			t.Errorf("username=%q: expected valid, got error %v", tc.username, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("username=%q: expected error, got none", tc.username)
		}
	}
}

func TestValidate_TextBoundaries(t *testing.T) {
	cases := []struct {
		text string
		ok   bool
	}{
		{strings.Repeat("a", 1), true},
		{strings.Repeat("a", 500), true},
		{"", false},
		{strings.Repeat("a", 501), false},
	}
	for _, tc := range cases {
		f := &ChatFrame{UserID: "1", Username: "alice", Text: tc.text, ClientTimestamp: "2025-01-01T00:00:00Z", Kind: KindText}
		err := f.Validate()
		if tc.ok && err != nil {
			t.Errorf("text len=%d: expected valid, got error %v", len(tc.text), err)
		}
		if !tc.ok && err == nil {
			t.Errorf("text len=%d: expected error, got none", len(tc.text))
		}
	}
}

func TestValidate_BadTimestamp(t *testing.T) {
	f := &ChatFrame{UserID: "1", Username: "alice", Text: "hi", ClientTimestamp: "not-a-date", Kind: KindText}
	if err := f.Validate(); err == nil {
		t.Fatal("expected error for bad timestamp")
	}
}

func TestValidate_BadKind(t *testing.T) {
	f := &ChatFrame{UserID: "1", Username: "alice", Text: "hi", ClientTimestamp: "2025-01-01T00:00:00Z", Kind: Kind("BOGUS")}
	if err := f.Validate(); err == nil {
		t.Fatal("expected error for bad kind")
	}
}

func TestNewQueueMessage(t *testing.T) {
	f, err := Parse(validFrameJSON())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	msg := NewQueueMessage(f, 5, "node-a", "127.0.0.1")
	if msg.RoomID != 5 || msg.OriginServerID != "node-a" || msg.ClientAddress != "127.0.0.1" {
		t.Errorf("unexpected queue message: %+v", msg)
	}
	if _, err := uuid.Parse(msg.MessageID); err != nil {
		t.Errorf("expected messageId to be a valid UUID, got %q", msg.MessageID)
	}
}

func TestDecodeQueueMessage_RoundTrips(t *testing.T) {
	f, _ := Parse(validFrameJSON())
	_ = f.Validate()
	msg := NewQueueMessage(f, 5, "node-a", "127.0.0.1")

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := DecodeQueueMessage(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.MessageID != msg.MessageID || decoded.RoomID != msg.RoomID {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, msg)
	}
}

func TestNewAck(t *testing.T) {
	f, _ := Parse(validFrameJSON())
	_ = f.Validate()
	msg := NewQueueMessage(f, 5, "node-a", "127.0.0.1")

	ack := NewAck(msg, f.Raw())
	if ack.Status != "SUCCESS" || ack.MessageID != msg.MessageID {
		t.Errorf("unexpected ack: %+v", ack)
	}

	var echoed map[string]any
	if err := json.Unmarshal(ack.OriginalMessage, &echoed); err != nil {
		t.Fatalf("originalMessage did not round-trip: %v", err)
	}
	if echoed["userId"] != "42" {
		t.Errorf("expected echoed userId 42, got %v", echoed["userId"])
	}
}

func TestNewError(t *testing.T) {
	e := NewError("username must be 3-20 characters")
	if e.Status != "ERROR" || e.ErrorMessage != "username must be 3-20 characters" {
		t.Errorf("unexpected error response: %+v", e)
	}
}
