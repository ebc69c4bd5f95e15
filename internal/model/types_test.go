package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDecodeFrame(t *testing.T) {
	receivedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		data       string
		wantErr    bool
		wantAuthor string
		wantBody   string
		wantAt     time.Time
		wantID     int64
	}{
		{
			name:       "full envelope",
			data:       `{"id":7,"username":"alice","message":"hi","timestamp":"2025-02-28T10:00:00Z"}`,
			wantAuthor: "alice",
			wantBody:   "hi",
			wantAt:     time.Date(2025, 2, 28, 10, 0, 0, 0, time.UTC),
			wantID:     7,
		},
		{
			name:       "missing timestamp stamped on receipt",
			data:       `{"username":"bob","message":"yo"}`,
			wantAuthor: "bob",
			wantBody:   "yo",
			wantAt:     receivedAt,
		},
		{
			name:       "malformed timestamp stamped on receipt",
			data:       `{"username":"bob","message":"yo","timestamp":"yesterday"}`,
			wantAuthor: "bob",
			wantBody:   "yo",
			wantAt:     receivedAt,
		},
		{
			name:       "unix millis timestamp",
			data:       `{"username":"carol","message":"x","timestamp":1740736800000}`,
			wantAuthor: "carol",
			wantBody:   "x",
			wantAt:     time.UnixMilli(1740736800000),
		},
		{
			name:       "superset with unknown fields",
			data:       `{"username":"dan","message":"m","room":"general","extra":{"a":1}}`,
			wantAuthor: "dan",
			wantBody:   "m",
			wantAt:     receivedAt,
		},
		{name: "not json", data: `hello`, wantErr: true},
		{name: "json array", data: `[1,2,3]`, wantErr: true},
		{name: "json null", data: `null`, wantErr: true},
		{name: "missing message", data: `{"username":"eve"}`, wantErr: true},
		{name: "blank message", data: `{"username":"eve","message":"   "}`, wantErr: true},
		{name: "message wrong type", data: `{"username":"eve","message":42}`, wantErr: true},
		{name: "truncated", data: `{"username":"eve","message":"a"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeFrame([]byte(tt.data), receivedAt)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedFrame) {
					t.Fatalf("err = %v, want ErrMalformedFrame", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFrame failed: %v", err)
			}
			if msg.Author != tt.wantAuthor {
				t.Errorf("Author = %q, want %q", msg.Author, tt.wantAuthor)
			}
			if msg.Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", msg.Body, tt.wantBody)
			}
			if !msg.SentAt.Equal(tt.wantAt) {
				t.Errorf("SentAt = %v, want %v", msg.SentAt, tt.wantAt)
			}
			if msg.ID != tt.wantID {
				t.Errorf("ID = %d, want %d", msg.ID, tt.wantID)
			}
		})
	}
}

func TestDecodeFrame_ClientID(t *testing.T) {
	id := uuid.New()
	data := `{"client_id":"` + id.String() + `","username":"a","message":"b"}`

	msg, err := DecodeFrame([]byte(data), time.Now())
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if msg.ClientID != id {
		t.Errorf("ClientID = %v, want %v", msg.ClientID, id)
	}

	msg, err = DecodeFrame([]byte(`{"client_id":"nope","username":"a","message":"b"}`), time.Now())
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if msg.ClientID != uuid.Nil {
		t.Errorf("ClientID = %v, want nil uuid", msg.ClientID)
	}
}

func TestDecodeHistory(t *testing.T) {
	receivedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	data := `[
		{"id":1,"username":"alice","message":"first","timestamp":"2025-02-28T10:00:00Z"},
		{"id":2,"username":"bob","message":"second"},
		{"id":3,"username":"bob"},
		"garbage",
		{"id":"4","username":"carol","message":"fourth","timestamp":null}
	]`

	msgs, skipped, err := DecodeHistory([]byte(data), receivedAt)
	if err != nil {
		t.Fatalf("DecodeHistory failed: %v", err)
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3", len(msgs))
	}

	wantBodies := []string{"first", "second", "fourth"}
	for i, want := range wantBodies {
		if msgs[i].Body != want {
			t.Errorf("msgs[%d].Body = %q, want %q", i, msgs[i].Body, want)
		}
	}
	if !msgs[1].SentAt.Equal(receivedAt) {
		t.Errorf("msgs[1].SentAt = %v, want receive time", msgs[1].SentAt)
	}
	if msgs[2].ID != 4 {
		t.Errorf("msgs[2].ID = %d, want 4", msgs[2].ID)
	}
}

func TestDecodeHistory_NotArray(t *testing.T) {
	if _, _, err := DecodeHistory([]byte(`{"messages":[]}`), time.Now()); err == nil {
		t.Error("expected error for non-array body")
	}
}

func TestDecodeHistory_Null(t *testing.T) {
	msgs, skipped, err := DecodeHistory([]byte(`null`), time.Now())
	if err != nil {
		t.Fatalf("DecodeHistory failed: %v", err)
	}
	if len(msgs) != 0 || skipped != 0 {
		t.Errorf("got %d msgs, %d skipped, want empty", len(msgs), skipped)
	}
}

func TestNewEnvelope(t *testing.T) {
	id := uuid.New()
	sentAt := time.Date(2025, 3, 1, 12, 30, 0, 500, time.FixedZone("X", 3600))
	env := NewEnvelope(ChatMessage{
		ClientID: id,
		Author:   "alice",
		Body:     "hello",
		SentAt:   sentAt,
	}, 42)

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	// The envelope must decode back through the inbound path unchanged.
	msg, err := DecodeFrame(data, time.Time{})
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if msg.ClientID != id {
		t.Errorf("ClientID = %v, want %v", msg.ClientID, id)
	}
	if msg.Author != "alice" || msg.Body != "hello" {
		t.Errorf("got %q/%q, want alice/hello", msg.Author, msg.Body)
	}
	if !msg.SentAt.Equal(sentAt) {
		t.Errorf("SentAt = %v, want %v", msg.SentAt, sentAt)
	}
	if env.UserID != 42 {
		t.Errorf("UserID = %d, want 42", env.UserID)
	}
}
