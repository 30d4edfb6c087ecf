package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pixelmuse/backend/internal/logging"
	"github.com/pixelmuse/backend/internal/monitoring"
)

// PersistFunc writes the current in-memory state of one session to durable
// storage.
type PersistFunc func(ctx context.Context, id string) error

// DebouncedWriter coalesces bursts of mutation events into one persisted
// write per session. Scheduling re-arms the window: only the last state
// within a window is written. Each session has its own timer, so writes for
// different sessions proceed independently.
type DebouncedWriter struct {
	mu       sync.Mutex
	window   time.Duration
	clock    Clock
	persist  PersistFunc
	timers   map[string]Timer
	inflight map[string]chan struct{}
	disabled bool

	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewDebouncedWriter creates a writer with the given debounce window.
func NewDebouncedWriter(window time.Duration, clock Clock, persist PersistFunc, logger *logging.Logger) *DebouncedWriter {
	if clock == nil {
		clock = NewRealClock()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DebouncedWriter{
		window:   window,
		clock:    clock,
		persist:  persist,
		timers:   make(map[string]Timer),
		inflight: make(map[string]chan struct{}),
		logger:   logger,
	}
}

// WithMetrics attaches a metrics collector.
func (w *DebouncedWriter) WithMetrics(m *monitoring.Metrics) *DebouncedWriter {
	w.metrics = m
	return w
}

// Schedule arms or re-arms the write timer for a session. A call landing
// before the previous timer fires cancels it, so rapid mutations collapse
// into a single write reflecting only the final state.
func (w *DebouncedWriter) Schedule(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.disabled {
		if w.metrics != nil {
			w.metrics.WritesDropped.Inc()
		}
		return
	}

	if prev, ok := w.timers[id]; ok {
		prev.Stop()
		if w.metrics != nil {
			w.metrics.WritesCoalesced.Inc()
		}
	}
	w.timers[id] = w.clock.AfterFunc(w.window, func() {
		w.fire(id)
	})
}

// fire runs when a debounce window elapses. The pending entry may have been
// claimed by a concurrent Flush; in that case the flush already wrote and
// this firing is a no-op.
func (w *DebouncedWriter) fire(id string) {
	w.mu.Lock()
	if _, ok := w.timers[id]; !ok {
		w.mu.Unlock()
		return
	}
	delete(w.timers, id)
	done := make(chan struct{})
	w.inflight[id] = done
	w.mu.Unlock()

	err := w.persist(context.Background(), id)

	w.mu.Lock()
	if w.inflight[id] == done {
		delete(w.inflight, id)
	}
	w.mu.Unlock()
	close(done)

	if err != nil {
		w.logger.Warn("debounced session write failed",
			zap.String("session_id", id),
			zap.Error(err),
		)
		if w.metrics != nil {
			w.metrics.WriteFailures.Inc()
		}
	}
}

// Flush cancels any pending timer for the session and performs the write
// immediately. The durable mirror is current when Flush returns: a write
// already claimed by an elapsed timer is waited for, not skipped. With
// nothing pending or in flight it is a no-op.
func (w *DebouncedWriter) Flush(ctx context.Context, id string) error {
	w.mu.Lock()
	t, ok := w.timers[id]
	if ok {
		t.Stop()
		delete(w.timers, id)
	}
	done := w.inflight[id]
	w.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !ok {
		return nil
	}

	start := time.Now()
	err := w.persist(ctx, id)
	if w.metrics != nil {
		w.metrics.FlushDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if w.metrics != nil {
			w.metrics.WriteFailures.Inc()
		}
		return err
	}
	return nil
}

// FlushAll flushes every session with a pending write. Used on teardown;
// failures are collected, not retried.
func (w *DebouncedWriter) FlushAll(ctx context.Context) error {
	w.mu.Lock()
	ids := make(map[string]struct{}, len(w.timers)+len(w.inflight))
	for id := range w.timers {
		ids[id] = struct{}{}
	}
	for id := range w.inflight {
		ids[id] = struct{}{}
	}
	w.mu.Unlock()

	var errs []error
	for id := range ids {
		if err := w.Flush(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetDisabled toggles the diagnostic kill switch. While disabled, scheduled
// writes are silently dropped; pending timers are canceled on the way in.
func (w *DebouncedWriter) SetDisabled(disabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.disabled = disabled
	if disabled {
		for id, t := range w.timers {
			t.Stop()
			delete(w.timers, id)
		}
	}
}

// Pending reports whether a write is scheduled for the session.
func (w *DebouncedWriter) Pending(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.timers[id]
	return ok
}
