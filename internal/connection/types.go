package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/forum-chat/internal/model"
)

// Errors
var (
	ErrMissingCredential = errors.New("credential is required")
	ErrAuthRejected      = errors.New("credential rejected by chat service")
	ErrEmptyMessage      = errors.New("message body is empty")
	ErrStaleConnection   = errors.New("connection stale (no ping)")
	ErrAlreadyClosed     = errors.New("already closed")
)

// TransportError is a transient dial, read or write failure. It is retried.
type TransportError struct {
	Op  string // "dial", "read", "write"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HistoryLoadError reports a failed history fetch. It does not affect the live connection.
type HistoryLoadError struct {
	Err error
}

func (e *HistoryLoadError) Error() string {
	return fmt.Sprintf("load history: %v", e.Err)
}

func (e *HistoryLoadError) Unwrap() error { return e.Err }

// HandshakeError is returned by Dial when the server answers the upgrade
// request with an HTTP error status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind identifies what an Event reports.
type EventKind int

const (
	EventState EventKind = iota
	EventMessage
	EventHistoryLoaded
	EventHistoryFailed
	EventMalformedFrame
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventMessage:
		return "message"
	case EventHistoryLoaded:
		return "history_loaded"
	case EventHistoryFailed:
		return "history_failed"
	case EventMalformedFrame:
		return "malformed_frame"
	default:
		return "unknown"
	}
}

// Event is delivered to observers.
type Event struct {
	Kind    EventKind
	State   State             // Manager state when the event was emitted
	Attempt int               // Reconnect attempt counter (EventState)
	Message model.ChatMessage // EventMessage only
	Count   int               // Messages loaded (EventHistoryLoaded)
	Err     error             // Cause, if any
}

// Snapshot is a point-in-time view of the manager.
type Snapshot struct {
	State        State
	Attempt      int   // Failed handshakes since the last Open
	LastError    error // Cause of the last disconnect or failure
	HistoryError error // Set when the last history fetch failed
	Messages     int
	Pending      int // Outbound messages not yet written
	Sent         int64
	Malformed    int64
	Handshakes   int64
	Retries      int64 // Reconnects scheduled
}

// Status renders the state the way the chat view displays it.
func (s Snapshot) Status() string {
	switch s.State {
	case StateConnecting:
		if s.Attempt > 0 {
			return "disconnected - retrying"
		}
		return "connecting"
	case StateOpen:
		return "connected"
	case StateFailed:
		return "failed - re-authenticate"
	default:
		return s.State.String()
	}
}

// ClientConfig configures a WebSocket transport.
type ClientConfig struct {
	PingInterval     time.Duration // How often to ping the server
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	WSURL             string        // Live endpoint, e.g. ws://localhost:8082/ws
	ReconnectBaseWait time.Duration // Base wait time for reconnection
	ReconnectMaxWait  time.Duration // Max wait time for reconnection
	AuthCloseCodes    []int         // Close codes meaning the credential was rejected
	ObserverBuffer    int           // Buffer size of each observer channel
	FallbackAuthor    string        // Author for outbound messages when the credential has no username
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		AuthCloseCodes:    []int{4001, 4002},
		ObserverBuffer:    256,
		FallbackAuthor:    "Anonymous",
	}
}

// Backoff returns the reconnect delay for the given attempt:
// min(base * 2^attempt, max).
func Backoff(base, max time.Duration, attempt int) time.Duration {
	wait := base
	for i := 0; i < attempt; i++ {
		wait *= 2
		if wait >= max {
			return max
		}
	}
	if wait > max {
		wait = max
	}
	return wait
}
