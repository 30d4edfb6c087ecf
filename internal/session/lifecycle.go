package session

import (
	"fmt"

	"github.com/pixelmuse/backend/internal/logging"
	"github.com/pixelmuse/backend/internal/monitoring"
	"github.com/pixelmuse/backend/internal/types"
)

// ImageLifecycle owns the per-image visibility state machine. Each image
// index moves Visible -> Hidden and back freely; Deleted is terminal and
// reachable from either. Committing a deletion flips the bit first, then
// queues the backing file for asynchronous removal — the bit never rolls
// back, whatever happens to the file.
type ImageLifecycle struct {
	remover Remover
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// Remover queues file paths for asynchronous removal.
type Remover interface {
	Enqueue(paths ...string)
}

// NewImageLifecycle creates the lifecycle controller.
func NewImageLifecycle(remover Remover, logger *logging.Logger) *ImageLifecycle {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ImageLifecycle{remover: remover, logger: logger}
}

// WithMetrics attaches a metrics collector.
func (l *ImageLifecycle) WithMetrics(m *monitoring.Metrics) *ImageLifecycle {
	l.metrics = m
	return l
}

// Apply merges an incoming state update into the message, returning whether
// anything changed. Redundant updates from the UI (identical to the applied
// state) are suppressed so they neither mutate the message nor re-arm the
// write debounce. Indices already deleted stay deleted regardless of the
// incoming bits, and their paths are never re-queued for removal.
func (l *ImageLifecycle) Apply(msg *types.Message, incoming *types.ImageStates) (bool, error) {
	if msg == nil || msg.ImageData == nil {
		return false, fmt.Errorf("message has no image data")
	}
	if incoming == nil {
		return false, fmt.Errorf("missing image states")
	}

	n := len(msg.ImageData.SavedFilePaths)
	current := normalize(msg.ImageData.ImageStates, n)
	next := normalize(incoming, n)

	// Deleted is terminal: merge, never clear.
	var newlyDeleted []string
	for i := 0; i < n; i++ {
		if current.Deleted[i] {
			next.Deleted[i] = true
			continue
		}
		if next.Deleted[i] {
			newlyDeleted = append(newlyDeleted, msg.ImageData.SavedFilePaths[i])
		}
	}

	if current.Equal(next) {
		if l.metrics != nil {
			l.metrics.StateUpdates.WithLabelValues("duplicate").Inc()
		}
		return false, nil
	}

	msg.ImageData.ImageStates = next
	if l.metrics != nil {
		l.metrics.StateUpdates.WithLabelValues("applied").Inc()
	}
	if len(newlyDeleted) > 0 && l.remover != nil {
		l.remover.Enqueue(newlyDeleted...)
	}
	return true, nil
}

// normalize clones states and pads or truncates both slices to n entries,
// so a partial update from the UI cannot break the parallel-length
// invariant.
func normalize(s *types.ImageStates, n int) *types.ImageStates {
	out := &types.ImageStates{
		Deleted: make([]bool, n),
		Hidden:  make([]bool, n),
	}
	if s != nil {
		copy(out.Deleted, s.Deleted)
		copy(out.Hidden, s.Hidden)
	}
	return out
}
