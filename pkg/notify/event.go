package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Topics published by a Channel.
const (
	// TopicMessages fires for every message-created event addressed to the
	// channel's user.
	TopicMessages = "messages"
	// TopicUnseen fires when the unseen signal flips from false to true.
	TopicUnseen = "unseen"
)

// Invalidation tells a subscriber that data under Topic is stale.
type Invalidation struct {
	Topic string    `json:"topic"`
	At    time.Time `json:"at"`
}

var errMalformed = errors.New("malformed notification payload")

// MessageCreated is the push payload sent by the messaging service. Only the
// receiver is required.
type MessageCreated struct {
	ReceiverID string `json:"-"`
	SenderID   string `json:"-"`
	SessionID  string `json:"-"`
	MessageID  string `json:"-"`
}

type rawMessageCreated struct {
	ReceiverID json.RawMessage `json:"receiverId"`
	SenderID   json.RawMessage `json:"senderId"`
	SessionID  json.RawMessage `json:"sessionId"`
	MessageID  json.RawMessage `json:"messageId"`
}

// ParseMessageCreated decodes a frame. Identifiers may be JSON strings or
// numbers; both compare by their textual form.
func ParseMessageCreated(data []byte) (MessageCreated, error) {
	var raw rawMessageCreated
	if err := json.Unmarshal(data, &raw); err != nil {
		return MessageCreated{}, errMalformed
	}

	receiver, ok := idString(raw.ReceiverID)
	if !ok || receiver == "" {
		return MessageCreated{}, errMalformed
	}

	ev := MessageCreated{ReceiverID: receiver}
	ev.SenderID, _ = idString(raw.SenderID)
	ev.SessionID, _ = idString(raw.SessionID)
	ev.MessageID, _ = idString(raw.MessageID)
	return ev, nil
}

func idString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n.String(), true
}
