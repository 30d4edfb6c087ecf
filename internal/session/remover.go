package session

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pixelmuse/backend/internal/logging"
	"github.com/pixelmuse/backend/internal/monitoring"
)

// RemovalResult aggregates the outcome of one deletion batch.
type RemovalResult struct {
	Requested int
	Removed   int
	Failed    int
}

// FileRemover deletes backing image files asynchronously and best-effort.
// Paths queued close together are removed as one batch, and outcomes are
// aggregated into a single result instead of surfacing per file. A missing
// file counts as removed: the logical deleted bit is authoritative and a
// file that is already gone needs no work.
type FileRemover struct {
	queue    chan string
	batchGap time.Duration
	onResult func(RemovalResult)

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewFileRemover starts the removal worker. onResult receives one call per
// batch and may be nil.
func NewFileRemover(batchGap time.Duration, onResult func(RemovalResult), logger *logging.Logger) *FileRemover {
	if logger == nil {
		logger = logging.NewNop()
	}
	if batchGap <= 0 {
		batchGap = 100 * time.Millisecond
	}
	r := &FileRemover{
		queue:    make(chan string, 256),
		batchGap: batchGap,
		onResult: onResult,
		logger:   logger,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// WithMetrics attaches a metrics collector.
func (r *FileRemover) WithMetrics(m *monitoring.Metrics) *FileRemover {
	r.metrics = m
	return r
}

// Enqueue queues file paths for removal. Safe to call from the handler
// path; removal happens off the caller's goroutine. After Close, paths are
// dropped with a warning: a command can still arrive on a connection that
// outlives the HTTP shutdown.
func (r *FileRemover) Enqueue(paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Warn("file removal queue closed, dropping paths", zap.Int("count", len(paths)))
		return
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		select {
		case r.queue <- p:
		default:
			// Queue full: drop and log rather than block the handler.
			r.logger.Warn("file removal queue full, dropping path", zap.String("path", p))
		}
	}
}

// Close drains the queue and stops the worker. Idempotent.
func (r *FileRemover) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *FileRemover) run() {
	defer r.wg.Done()
	for path, ok := <-r.queue; ok; path, ok = <-r.queue {
		batch := []string{path}
		batch = append(batch, r.collect()...)
		r.removeBatch(batch)
	}
}

// collect drains paths that arrive within the batch gap of one another, so
// a multi-image delete turns into one batch.
func (r *FileRemover) collect() []string {
	var batch []string
	timer := time.NewTimer(r.batchGap)
	defer timer.Stop()
	for {
		select {
		case path, ok := <-r.queue:
			if !ok {
				return batch
			}
			batch = append(batch, path)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(r.batchGap)
		case <-timer.C:
			return batch
		}
	}
}

func (r *FileRemover) removeBatch(paths []string) {
	result := RemovalResult{Requested: len(paths)}
	for _, path := range paths {
		err := os.Remove(path)
		switch {
		case err == nil, os.IsNotExist(err):
			result.Removed++
			if r.metrics != nil {
				r.metrics.ImageDeletions.WithLabelValues("removed").Inc()
			}
		default:
			result.Failed++
			if r.metrics != nil {
				r.metrics.ImageDeletions.WithLabelValues("failed").Inc()
			}
			r.logger.Warn("failed to remove image file",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}
	r.logger.Info("image file batch removed",
		zap.Int("requested", result.Requested),
		zap.Int("removed", result.Removed),
		zap.Int("failed", result.Failed),
	)
	if r.onResult != nil {
		r.onResult(result)
	}
}
