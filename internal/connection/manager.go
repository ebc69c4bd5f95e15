package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/forum-chat/internal/auth"
	"github.com/rickgao/forum-chat/internal/model"
)

// Manager owns the live chat connection for one credential at a time.
type Manager interface {
	// Start fetches history and opens the live connection. The session lasts
	// until Stop, a newer Start, or ctx is done. It returns
	// ErrMissingCredential, and moves to StateFailed, if cred carries no token.
	Start(ctx context.Context, cred auth.Credential) error

	// Stop closes the connection, cancels any pending reconnect and waits
	// for internal goroutines until ctx is done. Safe to call repeatedly.
	Stop(ctx context.Context) error

	// Send stamps and queues a message. It never blocks on the network.
	Send(body string) (model.ChatMessage, error)

	// UpdateCredential replaces the credential used by later reconnects.
	UpdateCredential(cred auth.Credential)

	// Subscribe registers an observer. The returned func unsubscribes.
	Subscribe() (<-chan Event, func())

	State() State
	Messages() []model.ChatMessage
	Pending() []model.ChatMessage
	Snapshot() Snapshot
}

// HistoryFetcher loads the message history snapshot.
type HistoryFetcher interface {
	GetMessages(ctx context.Context, cred auth.Credential) ([]model.ChatMessage, error)
}

// afterFunc runs f once after d and returns a func that cancels it.
type afterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// outbound is a queued message together with its wire form.
type outbound struct {
	msg      model.ChatMessage
	envelope model.Envelope
}

// manager implements the Manager interface.
type manager struct {
	cfg     ManagerConfig
	dialer  Dialer
	history HistoryFetcher
	logger  *slog.Logger
	now     func() time.Time
	after   afterFunc

	queue *Queue[outbound]

	// Serializes flushes so a queued message is written by one goroutine at a time
	writeMu sync.Mutex
	wg      sync.WaitGroup

	mu     sync.Mutex
	state  State
	gen    uint64 // Bumped by Start and Stop; stale goroutines compare against it
	cred   auth.Credential
	ctx    context.Context
	cancel context.CancelFunc

	conn      Conn
	connDone  chan struct{} // Closed when conn is torn down; stops its write loop
	attempt   int
	stopRetry func() bool

	messages  []model.ChatMessage
	liveStart int // Index of the first message received live in this session
	lastStamp time.Time

	lastErr    error
	historyErr error
	sent       int64
	malformed  int64
	handshakes int64
	retries    int64

	observers map[int]chan Event
	nextObs   int
}

// NewManager creates a new Connection Manager. history may be nil, in which
// case Start only opens the live connection.
func NewManager(cfg ManagerConfig, dialer Dialer, history HistoryFetcher, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ObserverBuffer < 1 {
		cfg.ObserverBuffer = 1
	}

	return &manager{
		cfg:       cfg,
		dialer:    dialer,
		history:   history,
		logger:    logger,
		now:       time.Now,
		after:     timeAfterFunc,
		queue:     NewQueue[outbound](16),
		state:     StateIdle,
		observers: make(map[int]chan Event),
	}
}

// Start begins a new session.
func (m *manager) Start(ctx context.Context, cred auth.Credential) error {
	m.mu.Lock()
	stale := m.teardownLocked()
	err := m.startLocked(ctx, cred)
	m.mu.Unlock()

	m.closeConn(stale)
	return err
}

// startLocked launches the session goroutines. Must be called with mu held.
func (m *manager) startLocked(ctx context.Context, cred auth.Credential) error {
	if cred.IsZero() {
		m.lastErr = ErrMissingCredential
		m.setStateLocked(StateFailed, ErrMissingCredential)
		m.logger.Warn("start without credential")
		return ErrMissingCredential
	}
	if cred.Expired(m.now()) {
		m.logger.Warn("credential has expired, server may reject it", "expires_at", cred.ExpiresAt)
	}

	gen := m.gen
	m.cred = cred
	m.attempt = 0
	m.lastErr = nil
	m.historyErr = nil
	m.liveStart = len(m.messages)
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.setStateLocked(StateConnecting, nil)

	m.logger.Info("connection manager started", "credential", cred.String())

	m.wg.Add(3)
	go m.loadHistory(m.ctx, gen, cred)
	go m.connect(m.ctx, gen)
	go m.watchContext(m.ctx, gen)

	return nil
}

// Stop closes the session. Calling it again is a no-op.
func (m *manager) Stop(ctx context.Context) error {
	var stale Conn
	m.mu.Lock()
	if m.state != StateClosed {
		m.logger.Info("stopping connection manager")
		stale = m.teardownLocked()
		m.setStateLocked(StateClosed, nil)
	}
	m.mu.Unlock()

	// Unblocks the read loop before waiting on it
	m.closeConn(stale)

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, goroutines still running")
		return ctx.Err()
	}

	m.logger.Debug("connection manager stopped")
	return nil
}

// Send stamps the message and appends it to the outbound queue.
func (m *manager) Send(body string) (model.ChatMessage, error) {
	if strings.TrimSpace(body) == "" {
		return model.ChatMessage{}, ErrEmptyMessage
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	author := m.cred.Username
	if author == "" {
		author = m.cfg.FallbackAuthor
	}

	// Stamps never go backwards, even if the wall clock does
	now := m.now().Round(0)
	if !now.After(m.lastStamp) {
		now = m.lastStamp.Add(time.Microsecond)
	}
	m.lastStamp = now

	msg := model.ChatMessage{
		ClientID: uuid.New(),
		Author:   author,
		Body:     body,
		SentAt:   now,
	}

	// Pushed under mu so queue order matches stamp order
	m.queue.Push(outbound{msg: msg, envelope: model.NewEnvelope(msg, m.cred.UserID)})

	if m.state != StateOpen {
		m.logger.Debug("message queued until connected", "state", m.state, "pending", m.queue.Len())
	}
	return msg, nil
}

// UpdateCredential swaps the credential for the next handshake.
func (m *manager) UpdateCredential(cred auth.Credential) {
	if cred.IsZero() {
		return
	}
	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()
}

// Subscribe registers an observer channel.
func (m *manager) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextObs
	m.nextObs++
	ch := make(chan Event, m.cfg.ObserverBuffer)
	m.observers[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.observers[id]; ok {
			delete(m.observers, id)
			close(c)
		}
	}
}

// State returns the current lifecycle state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Messages returns a copy of the message sequence.
func (m *manager) Messages() []model.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.messages)
}

// Pending returns the messages not yet written, oldest first.
func (m *manager) Pending() []model.ChatMessage {
	items := m.queue.Items()
	msgs := make([]model.ChatMessage, len(items))
	for i, it := range items {
		msgs[i] = it.msg
	}
	return msgs
}

// Snapshot returns current statistics.
func (m *manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:        m.state,
		Attempt:      m.attempt,
		LastError:    m.lastErr,
		HistoryError: m.historyErr,
		Messages:     len(m.messages),
		Pending:      m.queue.Len(),
		Sent:         m.sent,
		Malformed:    m.malformed,
		Handshakes:   m.handshakes,
		Retries:      m.retries,
	}
}

// teardownLocked invalidates the current session and returns the transport
// the caller must close once mu is released. Must be called with mu held.
func (m *manager) teardownLocked() Conn {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.stopRetry != nil {
		m.stopRetry()
		m.stopRetry = nil
	}
	return m.dropConnLocked()
}

// dropConnLocked detaches the current transport, if any, and returns it.
// Closing can block on the close handshake, so callers close it after
// releasing mu. Must be called with mu held.
func (m *manager) dropConnLocked() Conn {
	conn := m.conn
	if conn == nil {
		return nil
	}
	close(m.connDone)
	m.conn = nil
	m.connDone = nil
	return conn
}

// closeConn closes a transport detached by dropConnLocked. Must be called without mu.
func (m *manager) closeConn(conn Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		m.logger.Debug("close connection", "error", err)
	}
}

// setStateLocked records a transition and notifies observers. Must be called with mu held.
func (m *manager) setStateLocked(s State, cause error) {
	if m.state != s {
		m.logger.Info("connection state changed", "from", m.state, "to", s, "attempt", m.attempt)
	}
	m.state = s
	m.emitLocked(Event{Kind: EventState, Attempt: m.attempt, Err: cause})
}

// emitLocked delivers ev to every observer without blocking. Must be called with mu held.
func (m *manager) emitLocked(ev Event) {
	ev.State = m.state
	for id, ch := range m.observers {
		select {
		case ch <- ev:
		default:
			m.logger.Warn("observer buffer full, dropping event", "observer", id, "kind", ev.Kind)
		}
	}
}

// watchContext stops the session when the Start context is cancelled.
func (m *manager) watchContext(ctx context.Context, gen uint64) {
	defer m.wg.Done()
	<-ctx.Done()

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.logger.Info("start context done, closing connection", "error", ctx.Err())
	stale := m.teardownLocked()
	m.setStateLocked(StateClosed, ctx.Err())
	m.mu.Unlock()

	m.closeConn(stale)
}

// loadHistory fetches the snapshot once. Failures are reported, never retried.
func (m *manager) loadHistory(ctx context.Context, gen uint64, cred auth.Credential) {
	defer m.wg.Done()

	if m.history == nil {
		return
	}

	msgs, err := m.history.GetMessages(ctx, cred)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}

	if err != nil {
		m.historyErr = &HistoryLoadError{Err: err}
		m.logger.Warn("failed to load message history", "error", err)
		m.emitLocked(Event{Kind: EventHistoryFailed, Err: m.historyErr})
		return
	}

	// History replaces the sequence; messages that arrived live before the
	// snapshot landed are kept after it unless the snapshot already has them.
	live := m.messages[m.liveStart:]
	merged := make([]model.ChatMessage, 0, len(msgs)+len(live))
	merged = append(merged, msgs...)
	for _, msg := range live {
		if !containsMessage(msgs, msg) {
			merged = append(merged, msg)
		}
	}
	m.messages = merged
	m.liveStart = 0

	m.logger.Info("loaded message history", "count", len(msgs))
	m.emitLocked(Event{Kind: EventHistoryLoaded, Count: len(msgs)})
}

func containsMessage(msgs []model.ChatMessage, msg model.ChatMessage) bool {
	return slices.ContainsFunc(msgs, func(h model.ChatMessage) bool {
		if msg.ID != 0 && h.ID == msg.ID {
			return true
		}
		return msg.ClientID != uuid.Nil && h.ClientID == msg.ClientID
	})
}

// connect performs one handshake. Callers must have done wg.Add(1).
func (m *manager) connect(ctx context.Context, gen uint64) {
	defer m.wg.Done()

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	cred := m.cred
	m.handshakes++
	m.mu.Unlock()

	target, err := cred.HandshakeURL(m.cfg.WSURL)
	if err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen == gen {
			m.lastErr = err
			m.setStateLocked(StateFailed, err)
		}
		return
	}

	conn, err := m.dialer.Dial(ctx, target, nil)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.closeConn(conn)
		return
	}
	defer m.mu.Unlock()

	if err != nil {
		m.handleDisconnectLocked(gen, "dial", err)
		return
	}

	m.conn = conn
	m.connDone = make(chan struct{})
	m.attempt = 0
	m.lastErr = nil
	m.stopRetry = nil
	m.setStateLocked(StateOpen, nil)

	m.wg.Add(2)
	go m.readLoop(gen, conn)
	go m.writeLoop(gen, conn, m.connDone)
}

// handleDisconnectLocked decides between Failed and a scheduled retry.
// Must be called with mu held.
func (m *manager) handleDisconnectLocked(gen uint64, op string, err error) {
	if m.isAuthRejection(err) {
		m.lastErr = fmt.Errorf("%w: %v", ErrAuthRejected, err)
		m.logger.Warn("credential rejected, not reconnecting", "error", err)
		m.setStateLocked(StateFailed, m.lastErr)
		return
	}

	m.lastErr = &TransportError{Op: op, Err: err}
	delay := Backoff(m.cfg.ReconnectBaseWait, m.cfg.ReconnectMaxWait, m.attempt)
	m.attempt++
	m.retries++
	m.setStateLocked(StateConnecting, m.lastErr)

	m.logger.Warn("connection lost, scheduling reconnect",
		"op", op,
		"error", err,
		"attempt", m.attempt,
		"wait", delay,
	)
	m.stopRetry = m.after(delay, func() { m.retry(gen) })
}

// retry runs when a backoff timer fires.
func (m *manager) retry(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.stopRetry = nil
	ctx := m.ctx
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("attempting reconnection")
	m.connect(ctx, gen)
}

func (m *manager) isAuthRejection(err error) bool {
	var hs *HandshakeError
	if errors.As(err, &hs) {
		return hs.StatusCode == 401 || hs.StatusCode == 403
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return slices.Contains(m.cfg.AuthCloseCodes, ce.Code)
	}
	return false
}

// readLoop reads frames until the transport fails.
func (m *manager) readLoop(gen uint64, conn Conn) {
	defer m.wg.Done()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(gen, conn, err)
			return
		}
		m.handleFrame(gen, data)
	}
}

func (m *manager) handleReadError(gen uint64, conn Conn, err error) {
	m.mu.Lock()
	// Closed by Stop or replaced by a newer connection
	if m.gen != gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.dropConnLocked()
	m.handleDisconnectLocked(gen, "read", err)
	m.mu.Unlock()

	m.closeConn(conn)
}

func (m *manager) handleFrame(gen uint64, data []byte) {
	msg, err := model.DecodeFrame(data, m.now())

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}

	if err != nil {
		m.malformed++
		m.logger.Warn("discarding malformed frame", "error", err, "size", len(data))
		m.emitLocked(Event{Kind: EventMalformedFrame, Err: err})
		return
	}

	m.messages = append(m.messages, msg)
	m.emitLocked(Event{Kind: EventMessage, Message: msg})
}

// writeLoop drains the outbound queue while conn is current.
func (m *manager) writeLoop(gen uint64, conn Conn, done <-chan struct{}) {
	defer m.wg.Done()
	// A signal taken here may belong to the connection that replaced this one
	defer m.queue.Signal()

	for {
		if !m.flush(gen, conn) {
			return
		}
		select {
		case <-done:
			return
		case <-m.queue.Ready():
		}
	}
}

// flush writes queued messages in order. A message is popped only after a
// successful write. Returns false once conn is no longer usable.
func (m *manager) flush(gen uint64, conn Conn) bool {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	for {
		m.mu.Lock()
		current := m.gen == gen && m.conn == conn && m.state == StateOpen
		m.mu.Unlock()
		if !current {
			return false
		}

		item, ok := m.queue.Peek()
		if !ok {
			return true
		}

		data, err := json.Marshal(item.envelope)
		if err != nil {
			m.logger.Error("failed to encode message, dropping", "error", err, "client_id", item.msg.ClientID)
			m.queue.Pop()
			continue
		}

		if err := conn.WriteMessage(data); err != nil {
			m.logger.Warn("write failed, message stays queued", "error", err, "pending", m.queue.Len())
			// Unblocks the read loop, which schedules the reconnect
			conn.Close()
			return false
		}

		m.queue.Pop()
		m.mu.Lock()
		m.sent++
		m.mu.Unlock()
	}
}
