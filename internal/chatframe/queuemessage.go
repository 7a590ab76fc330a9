package chatframe

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QueueMessage is the internal and wire representation of a message once
// it has been accepted at ingress, from construction through broadcast and
// persistence.
type QueueMessage struct {
	MessageID       string `json:"messageId"`
	RoomID          int    `json:"roomId"`
	UserID          string `json:"userId"`
	Username        string `json:"username"`
	Text            string `json:"message"`
	ServerTimestamp string `json:"timestamp"`
	Kind            Kind   `json:"messageType"`
	OriginServerID  string `json:"serverId"`
	ClientAddress   string `json:"clientIp"`
}

// NewQueueMessage builds a QueueMessage from a validated ChatFrame, stamping
// a fresh UUIDv4 message id and the current server time.
func NewQueueMessage(frame *ChatFrame, roomID int, originServerID, clientAddress string) *QueueMessage {
	return &QueueMessage{
		MessageID:       uuid.NewString(),
		RoomID:          roomID,
		UserID:          frame.UserID,
		Username:        frame.Username,
		Text:            frame.Text,
		ServerTimestamp: time.Now().UTC().Format(time.RFC3339),
		Kind:            frame.Kind,
		OriginServerID:  originServerID,
		ClientAddress:   clientAddress,
	}
}

// Encode marshals the message to its wire shape; the struct tags above
// define that shape, so this simply delegates to json.Marshal.
func (m *QueueMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeQueueMessage parses a QueueMessage back out of its wire form, used
// by the consumer pool when deserializing a received external-queue body.
func DecodeQueueMessage(data []byte) (*QueueMessage, error) {
	var m QueueMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// AckResponse is the success envelope written back to the originating
// session's write queue.
type AckResponse struct {
	Status        string          `json:"status"`
	MessageID     string          `json:"messageId"`
	Timestamp     string          `json:"timestamp"`
	OriginalMessage json.RawMessage `json:"originalMessage"`
}

// ErrorResponse is returned to the sender on validation or producer failure.
type ErrorResponse struct {
	Status          string `json:"status"`
	ServerTimestamp string `json:"serverTimestamp,omitempty"`
	ErrorMessage    string `json:"errorMessage"`
}

// NewAck builds the ingress-accepted ack frame for a message.
func NewAck(msg *QueueMessage, original json.RawMessage) *AckResponse {
	return &AckResponse{
		Status:          "SUCCESS",
		MessageID:       msg.MessageID,
		Timestamp:       msg.ServerTimestamp,
		OriginalMessage: original,
	}
}

// NewError builds the ERROR frame for a validation or producer failure.
func NewError(reason string) *ErrorResponse {
	return &ErrorResponse{
		Status:       "ERROR",
		ErrorMessage: reason,
	}
}
