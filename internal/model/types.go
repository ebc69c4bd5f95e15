package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedFrame is returned for payloads that are not a chat message envelope.
var ErrMalformedFrame = errors.New("malformed frame")

// ChatMessage is the normalized message record used regardless of source.
type ChatMessage struct {
	ID       int64     // Server-assigned ID (0 if the server did not send one)
	ClientID uuid.UUID // Set by the sending client (uuid.Nil if absent)
	Author   string
	Body     string
	SentAt   time.Time
}

// Envelope is the JSON object written to the live connection.
type Envelope struct {
	ClientID  string `json:"client_id,omitempty"`
	UserID    int64  `json:"user_id,omitempty"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewEnvelope builds the outbound envelope for a message.
func NewEnvelope(msg ChatMessage, userID int64) Envelope {
	env := Envelope{
		UserID:    userID,
		Username:  msg.Author,
		Message:   msg.Body,
		Timestamp: msg.SentAt.UTC().Format(time.RFC3339Nano),
	}
	if msg.ClientID != uuid.Nil {
		env.ClientID = msg.ClientID.String()
	}
	return env
}

// record is the tolerant inbound shape. Unknown fields are ignored so
// supersets of the envelope decode fine.
type record struct {
	ID        json.RawMessage `json:"id"`
	ClientID  string          `json:"client_id"`
	Username  string          `json:"username"`
	Message   *string         `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// DecodeFrame parses a single live frame. receivedAt stamps messages that
// carry no usable timestamp.
func DecodeFrame(data []byte, receivedAt time.Time) (ChatMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ChatMessage{}, fmt.Errorf("%w: not a json object", ErrMalformedFrame)
	}

	var rec record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return rec.normalize(receivedAt)
}

// DecodeHistory parses the history endpoint body: an ordered array of raw
// records. Records that are not valid messages are skipped and counted.
func DecodeHistory(data []byte, receivedAt time.Time) (msgs []ChatMessage, skipped int, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode history: %w", err)
	}

	msgs = make([]ChatMessage, 0, len(raw))
	for _, r := range raw {
		msg, err := DecodeFrame(r, receivedAt)
		if err != nil {
			skipped++
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, skipped, nil
}

func (r record) normalize(receivedAt time.Time) (ChatMessage, error) {
	if r.Message == nil || strings.TrimSpace(*r.Message) == "" {
		return ChatMessage{}, fmt.Errorf("%w: missing message body", ErrMalformedFrame)
	}

	msg := ChatMessage{
		ID:     parseID(r.ID),
		Author: r.Username,
		Body:   *r.Message,
	}
	if r.ClientID != "" {
		if id, err := uuid.Parse(r.ClientID); err == nil {
			msg.ClientID = id
		}
	}

	if ts, ok := ParseTimestamp(r.Timestamp); ok {
		msg.SentAt = ts
	} else {
		msg.SentAt = receivedAt
	}
	return msg, nil
}

// ParseTimestamp accepts an RFC 3339 string or a number of Unix milliseconds.
func ParseTimestamp(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return time.Time{}, false
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}

	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func parseID(raw json.RawMessage) int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	id, err := strconv.ParseInt(strings.Trim(string(raw), `"`), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
