// Package batch buffers generated trials and flushes them to the store in
// ordered, atomic batches. Appends never wait on I/O: the active buffer is
// swapped out before the old one is handed to the write path.
package batch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/regstream/internal/observability"
	"github.com/harun/regstream/pkg/store"
)

// ErrPersistence is returned when a flush exhausts its retries.
var ErrPersistence = errors.New("persistence failure")

// retryBaseDelay is the initial backoff between flush attempts.
const retryBaseDelay = 50 * time.Millisecond

// Persister is the durable sink for trial batches.
type Persister interface {
	InsertTrials(trials []store.Trial) error
}

// Config controls buffering and flush behavior.
type Config struct {
	// Capacity is the hard cap on buffered trials. Reaching it forces a
	// synchronous flush instead of dropping data.
	Capacity int

	// FlushThreshold triggers a background flush once reached.
	FlushThreshold int

	// FlushInterval triggers a background flush on a timer.
	FlushInterval time.Duration

	// MaxRetries bounds flush attempts before the batch is requeued.
	MaxRetries int
}

// Writer is the batching layer between the generator and the store.
type Writer struct {
	cfg       Config
	persister Persister
	logger    zerolog.Logger

	mu  sync.Mutex
	buf []store.Trial

	// flushMu serializes flushes so batches reach the store in order.
	flushMu sync.Mutex

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewWriter returns a writer over the given persister. Start must be called
// before trials are appended.
func NewWriter(cfg Config, persister Persister, logger zerolog.Logger) *Writer {
	observability.EnsureRegistered()
	return &Writer{
		cfg:       cfg,
		persister: persister,
		logger:    logger,
		buf:       make([]store.Trial, 0, cfg.Capacity),
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (w *Writer) Start() {
	go w.run()
}

// Stop flushes any remaining trials and halts the background loop.
func (w *Writer) Stop() error {
	w.once.Do(func() { close(w.stop) })
	<-w.done
	return w.Flush()
}

// Append enqueues one trial. When the buffer hits capacity the call blocks
// on a synchronous flush; data integrity wins over generator latency.
func (w *Writer) Append(trial store.Trial) error {
	w.mu.Lock()
	w.buf = append(w.buf, trial)
	size := len(w.buf)
	w.mu.Unlock()

	observability.SetBufferOccupancy(size)

	if size >= w.cfg.Capacity {
		return w.flush("backpressure")
	}
	if size >= w.cfg.FlushThreshold {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush synchronously writes everything currently buffered.
func (w *Writer) Flush() error {
	return w.flush("demand")
}

// Buffered returns the number of trials awaiting flush.
func (w *Writer) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

func (w *Writer) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.flush("interval"); err != nil {
				w.logger.Error().Err(err).Msg("Interval flush failed")
			}
		case <-w.kick:
			if err := w.flush("threshold"); err != nil {
				w.logger.Error().Err(err).Msg("Threshold flush failed")
			}
		}
	}
}

// flush swaps the active buffer out and writes the old one. On persistent
// failure the batch is pushed back to the front so ordering survives.
func (w *Writer) flush(trigger string) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if len(w.buf) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.buf
	w.buf = make([]store.Trial, 0, w.cfg.Capacity)
	w.mu.Unlock()

	start := time.Now()
	err := w.writeWithRetry(batch)
	observability.RecordFlush(trigger, time.Since(start), err == nil)

	if err != nil {
		w.mu.Lock()
		w.buf = append(batch, w.buf...)
		size := len(w.buf)
		w.mu.Unlock()
		observability.SetBufferOccupancy(size)
		return err
	}

	observability.SetBufferOccupancy(w.Buffered())
	w.logger.Debug().
		Int("trials", len(batch)).
		Str("trigger", trigger).
		Dur("duration", time.Since(start)).
		Msg("Batch flushed")
	return nil
}

func (w *Writer) writeWithRetry(batch []store.Trial) error {
	var lastErr error
	delay := retryBaseDelay

	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			observability.RecordFlushRetry()
			time.Sleep(delay)
			delay *= 2
		}
		if lastErr = w.persister.InsertTrials(batch); lastErr == nil {
			return nil
		}
		w.logger.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Int("trials", len(batch)).
			Msg("Flush attempt failed")
	}
	return fmt.Errorf("%w: %v", ErrPersistence, lastErr)
}
