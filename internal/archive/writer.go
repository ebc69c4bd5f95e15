package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/forum-chat/internal/connection"
	"github.com/rickgao/forum-chat/internal/model"
)

// WriterConfig holds common writer configuration.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// WriterMetrics tracks writer statistics.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// Writer consumes manager events and archives every received message.
type Writer struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the Connection Manager
	events <-chan connection.Event

	store Inserter
	now   func() time.Time

	// Batching
	batch   []Row
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewWriter creates a new Writer. events is usually a channel from
// connection.Manager.Subscribe.
func NewWriter(cfg WriterConfig, events <-chan connection.Event, store Inserter, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Writer{
		cfg:    cfg,
		events: events,
		store:  store,
		logger: logger,
		now:    time.Now,
		batch:  make([]Row, 0, cfg.BatchSize),
	}
}

// Start begins consuming events and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer and flushes what is left.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	if w.cancel != nil {
		w.cancel()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
	}

	// Final flush
	w.flush(ctx)

	w.logger.Info("archive writer stopped")
	return nil
}

// Add archives messages that did not arrive as live events, such as the
// history snapshot.
func (w *Writer) Add(msgs ...model.ChatMessage) {
	for _, msg := range msgs {
		w.handleMessage(msg)
	}
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads events until the source closes or the writer stops.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.events:
			if !ok {
				return
			}
			if ev.Kind == connection.EventMessage {
				w.handleMessage(ev.Message)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// handleMessage transforms and adds a message to the batch.
func (w *Writer) handleMessage(msg model.ChatMessage) {
	row := w.transform(msg)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		ctx := w.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		w.flush(ctx)
	}
}

// transform converts a ChatMessage to a Row.
func (w *Writer) transform(msg model.ChatMessage) Row {
	row := Row{
		ServerID:   msg.ID,
		ClientID:   msg.ClientID.String(),
		Author:     msg.Author,
		Body:       msg.Body,
		SentAt:     msg.SentAt.UTC(),
		ArchivedAt: w.now().UTC(),
	}
	row.Key = DedupKey(row.ServerID, row.ClientID, row.Author, row.SentAt)
	return row
}

// flush writes the current batch to the store.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if ctx.Err() != nil {
		// Stopping: give the final flush its own deadline
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	start := time.Now()

	conflicts, err := w.store.Insert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed messages",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}
