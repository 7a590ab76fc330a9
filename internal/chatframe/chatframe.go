// Package chatframe defines the wire-level chat frame accepted at ingress
// and the internal QueueMessage built from it, along with validation.
package chatframe

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"
)

// Kind enumerates the three frame kinds accepted over the socket.
type Kind string

const (
	KindText  Kind = "TEXT"
	KindJoin  Kind = "JOIN"
	KindLeave Kind = "LEAVE"
)

const (
	minUserID   = 1
	maxUserID   = 100000
	minUsername = 3
	maxUsername = 20
	minText     = 1
	maxText     = 500
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// wireFrame mirrors the client->server JSON shape exactly.
type wireFrame struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	MessageType string `json:"messageType"`
}

// ChatFrame is the parsed, validated representation of a client frame.
// It is immutable once constructed.
type ChatFrame struct {
	UserID          string
	Username        string
	Text            string
	ClientTimestamp string
	Kind            Kind

	raw json.RawMessage // original bytes, echoed back as originalMessage on ack
}

// Parse decodes raw JSON into a ChatFrame without validating field contents.
// A JSON syntax error is returned wrapped with a "malformed JSON" prefix;
// callers report it as a malformed-frame error.
func Parse(data []byte) (*ChatFrame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}

	return &ChatFrame{
		UserID:          w.UserID,
		Username:        w.Username,
		Text:            w.Message,
		ClientTimestamp: w.Timestamp,
		Kind:            Kind(w.MessageType),
		raw:             json.RawMessage(data),
	}, nil
}

// Raw returns the original frame bytes, used to echo originalMessage on ack.
func (f *ChatFrame) Raw() json.RawMessage {
	return f.raw
}

// Validate checks every field in the order listed in the ingress contract
// and returns the first failing reason as a human-readable message.
func (f *ChatFrame) Validate() error {
	if f.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	uid, err := strconv.Atoi(f.UserID)
	if err != nil || uid < minUserID || uid > maxUserID {
		return fmt.Errorf("userId must be an integer between %d and %d", minUserID, maxUserID)
	}

	if len(f.Username) < minUsername || len(f.Username) > maxUsername {
		return fmt.Errorf("username must be %d-%d characters", minUsername, maxUsername)
	}
	if !usernamePattern.MatchString(f.Username) {
		return fmt.Errorf("username must be alphanumeric")
	}

	if n := utf8.RuneCountInString(f.Text); n < minText || n > maxText {
		return fmt.Errorf("message must be %d-%d characters", minText, maxText)
	}

	if _, err := time.Parse(time.RFC3339, f.ClientTimestamp); err != nil {
		return fmt.Errorf("timestamp must be ISO-8601")
	}

	switch f.Kind {
	case KindText, KindJoin, KindLeave:
	default:
		return fmt.Errorf("messageType must be one of TEXT, JOIN, LEAVE")
	}

	return nil
}
