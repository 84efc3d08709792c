package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message is a chat message in a quest room.
type Message struct {
	QuestID  ID
	SenderID ID
	Text     string
	SentAt   time.Time
	// ServerID is only known for messages fetched or sent over HTTP.
	ServerID ID
}

// MessageKey identifies a message for deduplication.
type MessageKey struct {
	SenderID ID
	SentAt   int64
}

// Key returns the (sender, sent-at) identity of the message.
func (m Message) Key() MessageKey {
	return MessageKey{SenderID: m.SenderID, SentAt: m.SentAt.UnixNano()}
}

// Payload returns the wire form of m.
func (m Message) Payload() MessagePayload {
	return MessagePayload{
		QuestID: m.QuestID,
		UserID:  m.SenderID,
		Text:    m.Text,
		SentAt:  m.SentAt.UTC().Format(time.RFC3339Nano),
		ID:      m.ServerID,
	}
}

// ErrInvalidMessage is returned when a payload is missing required fields.
var ErrInvalidMessage = errors.New("invalid chat message")

// MessagePayload is the wire shape shared by the realtime channel and the
// HTTP send/list endpoints.
type MessagePayload struct {
	QuestID ID     `json:"questId"`
	UserID  ID     `json:"user_id"`
	Text    string `json:"message_text"`
	SentAt  string `json:"sent_at"`
	ID      ID     `json:"id,omitempty"`
}

// Message validates the payload and converts it.
func (p MessagePayload) Message() (Message, error) {
	if p.QuestID.IsZero() {
		return Message{}, fmt.Errorf("%w: missing questId", ErrInvalidMessage)
	}
	if p.UserID.IsZero() {
		return Message{}, fmt.Errorf("%w: missing user_id", ErrInvalidMessage)
	}
	if strings.TrimSpace(p.Text) == "" {
		return Message{}, fmt.Errorf("%w: missing message_text", ErrInvalidMessage)
	}
	sentAt, err := time.Parse(time.RFC3339Nano, p.SentAt)
	if err != nil {
		return Message{}, fmt.Errorf("%w: sent_at: %v", ErrInvalidMessage, err)
	}
	return Message{
		QuestID:  p.QuestID,
		SenderID: p.UserID,
		Text:     p.Text,
		SentAt:   sentAt,
		ServerID: p.ID,
	}, nil
}
