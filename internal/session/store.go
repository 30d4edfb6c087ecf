package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pixelmuse/backend/internal/logging"
	"github.com/pixelmuse/backend/internal/monitoring"
	"github.com/pixelmuse/backend/internal/storage"
	"github.com/pixelmuse/backend/internal/types"
)

// ErrNotFound signals a switch to a session id the store does not know.
// The current session pointer is left unchanged.
var ErrNotFound = errors.New("unknown session id")

// Config wires a Store's collaborators.
type Config struct {
	Backend   *storage.Backend
	Index     *storage.IndexFile
	Lifecycle *ImageLifecycle
	Window    time.Duration
	Clock     Clock
	Disabled  bool
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics
}

// Store is the in-memory authority for sessions and the current-session
// pointer. Mutations happen in memory first and are mirrored to durable
// storage through the debounced writer; the membership index is small and
// written synchronously when it changes.
//
// Live session structs never leave the store: every accessor returns a
// deep-copied snapshot, so callers on different connection goroutines can
// read state while mutations proceed under the store's lock.
type Store struct {
	mu         sync.Mutex
	initMu     sync.Mutex // single-flights session creation and tier loads
	index      *types.SessionIndex
	loaded     map[string]*types.Session
	backend    *storage.Backend
	indexFile  *storage.IndexFile
	writer     *DebouncedWriter
	lifecycle  *ImageLifecycle
	serializer Serializer

	logger  *logging.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewStore creates a store and loads the persisted membership index.
func NewStore(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	index, err := cfg.Index.Load()
	if err != nil {
		// A corrupt index loses the listing, not the sessions: content
		// records remain loadable by id through the tiers.
		logger.Warn("session index unreadable, starting empty", zap.Error(err))
		index = &types.SessionIndex{}
	}

	s := &Store{
		index:     index,
		loaded:    make(map[string]*types.Session),
		backend:   cfg.Backend,
		indexFile: cfg.Index,
		lifecycle: cfg.Lifecycle,
		logger:    logger,
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
	s.writer = NewDebouncedWriter(cfg.Window, cfg.Clock, s.persistSession, logger)
	if cfg.Metrics != nil {
		s.writer.WithMetrics(cfg.Metrics)
		cfg.Metrics.SessionsActive.Set(float64(len(index.Sessions)))
	}
	s.writer.SetDisabled(cfg.Disabled)
	return s, nil
}

// WithNow overrides the time source, for tests.
func (s *Store) WithNow(now func() time.Time) *Store {
	s.now = now
	return s
}

// Writer exposes the debounced writer for teardown and diagnostics.
func (s *Store) Writer() *DebouncedWriter { return s.writer }

// current returns the live current session, creating an empty one if none
// is loaded yet. The pointer must not escape the store; exported accessors
// hand out snapshots only.
func (s *Store) current(ctx context.Context) *types.Session {
	if sess := s.currentLoaded(); sess != nil {
		return sess
	}

	// Single-flight the slow path: concurrent callers with no loaded
	// session must agree on one created or loaded instance.
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if sess := s.currentLoaded(); sess != nil {
		return sess
	}

	s.mu.Lock()
	id := s.index.CurrentID
	s.mu.Unlock()

	if id == "" {
		return s.create(ctx)
	}

	// Current id persisted by a previous process: load it through the tiers.
	sess, err := s.backend.Load(ctx, id)
	if err != nil {
		s.logger.Info("current session not in any storage tier, starting empty",
			zap.String("session_id", id),
		)
		sess = s.emptyFromSummary(id)
	}

	s.mu.Lock()
	s.loaded[id] = sess
	s.mu.Unlock()
	return sess
}

func (s *Store) currentLoaded() *types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index.CurrentID == "" {
		return nil
	}
	return s.loaded[s.index.CurrentID]
}

// Create flushes any pending write for the outgoing session, creates a new
// empty session, prepends it to the list, makes it current, and persists
// the membership index synchronously. Returns a summary snapshot.
func (s *Store) Create(ctx context.Context) types.SessionSummary {
	sess := s.create(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return sess.ToSummary()
}

func (s *Store) create(ctx context.Context) *types.Session {
	s.mu.Lock()
	outgoing := s.index.CurrentID
	s.mu.Unlock()

	if outgoing != "" {
		if err := s.writer.Flush(ctx, outgoing); err != nil {
			s.logger.Warn("flush of outgoing session failed",
				zap.String("session_id", outgoing),
				zap.Error(err),
			)
		}
	}

	now := s.now()
	sess := &types.Session{
		ID:           uuid.New().String(),
		Title:        "New chat",
		Messages:     []types.Message{},
		CreatedAt:    now,
		LastActivity: now,
	}

	s.mu.Lock()
	s.loaded[sess.ID] = sess
	s.index.Sessions = append([]types.SessionSummary{sess.ToSummary()}, s.index.Sessions...)
	s.index.CurrentID = sess.ID
	snapshot := s.indexSnapshotLocked()
	count := len(s.index.Sessions)
	s.mu.Unlock()

	s.saveIndex(snapshot)
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
		s.metrics.SessionsActive.Set(float64(count))
	}
	s.logger.Info("session created", zap.String("session_id", sess.ID))
	return sess
}

// Switch makes another session current and returns a snapshot of its
// messages. Pending writes for the outgoing session are flushed before the
// pointer moves, so no mutation is lost. An unknown id returns ErrNotFound
// and leaves the current session unchanged.
func (s *Store) Switch(ctx context.Context, id string) ([]types.Message, error) {
	s.mu.Lock()
	if !s.knownLocked(id) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	outgoing := s.index.CurrentID
	s.mu.Unlock()

	if outgoing != "" && outgoing != id {
		if err := s.writer.Flush(ctx, outgoing); err != nil {
			s.logger.Warn("flush of outgoing session failed",
				zap.String("session_id", outgoing),
				zap.Error(err),
			)
		}
	}

	s.mu.Lock()
	sess, ok := s.loaded[id]
	s.mu.Unlock()

	if !ok {
		// Single-flight the load so concurrent switches to the same id
		// install one instance.
		s.initMu.Lock()
		s.mu.Lock()
		sess, ok = s.loaded[id]
		s.mu.Unlock()
		if !ok {
			loaded, err := s.backend.Load(ctx, id)
			if err != nil {
				// Listed but gone from every tier: treat as new and empty
				// rather than failing the switch.
				s.logger.Warn("session missing from all storage tiers",
					zap.String("session_id", id),
				)
				loaded = s.emptyFromSummary(id)
			}
			sess = loaded
			s.mu.Lock()
			s.loaded[id] = sess
			s.mu.Unlock()
		}
		s.initMu.Unlock()
	}

	s.mu.Lock()
	s.index.CurrentID = id
	snapshot := s.indexSnapshotLocked()
	msgs := cloneMessages(sess.Messages)
	s.mu.Unlock()

	s.saveIndex(snapshot)
	if s.metrics != nil {
		s.metrics.SessionSwitches.Inc()
	}
	s.logger.Info("session switched", zap.String("session_id", id))
	return msgs, nil
}

// Append adds a message to the current session, stamps activity, and
// schedules a debounced write. The session stores its own copy; the
// returned message is the caller's, with id and timestamp filled in.
func (s *Store) Append(ctx context.Context, msg types.Message) types.Message {
	sess := s.current(ctx)

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}

	s.mu.Lock()
	sess.Messages = append(sess.Messages, msg.Clone())
	sess.LastActivity = s.now()
	if sess.Title == "New chat" && msg.Sender == types.SenderUser && msg.Text != "" {
		sess.Title = deriveTitle(msg.Text)
	}
	s.updateSummaryLocked(sess)
	id := sess.ID
	s.mu.Unlock()

	s.writer.Schedule(id)
	return msg
}

// UpdateImageStates applies an image-state update to a message of the
// current session. Duplicate updates are suppressed and do not re-arm the
// write debounce.
func (s *Store) UpdateImageStates(ctx context.Context, messageIndex int, states *types.ImageStates) (bool, error) {
	sess := s.current(ctx)

	s.mu.Lock()
	if messageIndex < 0 || messageIndex >= len(sess.Messages) {
		s.mu.Unlock()
		return false, fmt.Errorf("message index %d out of range", messageIndex)
	}
	applied, err := s.lifecycle.Apply(&sess.Messages[messageIndex], states)
	s.mu.Unlock()

	if err != nil {
		return false, err
	}
	if applied {
		s.writer.Schedule(sess.ID)
	}
	return applied, nil
}

// History returns the current session id and a snapshot of its messages.
func (s *Store) History(ctx context.Context) (string, []types.Message) {
	sess := s.current(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return sess.ID, cloneMessages(sess.Messages)
}

// Summaries returns the session list ordered by last activity, most recent
// first.
func (s *Store) Summaries() []types.SessionSummary {
	s.mu.Lock()
	out := make([]types.SessionSummary, len(s.index.Sessions))
	copy(out, s.index.Sessions)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// CurrentID returns the current session id, or empty if none.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.CurrentID
}

// Close cancels pending timers with a best-effort final flush. A failed
// flush is logged, not retried; teardown does not block on storage.
func (s *Store) Close(ctx context.Context) {
	if err := s.writer.FlushAll(ctx); err != nil {
		s.logger.Warn("final session flush failed", zap.Error(err))
	}
}

// persistSession is the debounced writer's persist target: snapshot the
// in-memory session, produce the durable form, and write it to the fastest
// tier along with the refreshed index.
func (s *Store) persistSession(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.loaded[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	durable, err := s.serializer.Serialize(sess)
	snapshot := s.indexSnapshotLocked()
	s.mu.Unlock()

	if err != nil {
		// Malformed in-memory state: skip the write and keep memory
		// intact. The mirror stays stale until the next clean write.
		s.logger.Error("session serialization failed, write skipped",
			zap.String("session_id", id),
			zap.Error(err),
		)
		return err
	}

	if err := s.backend.Write(ctx, id, durable); err != nil {
		return fmt.Errorf("persist session %s: %w", id, err)
	}
	if s.metrics != nil {
		s.metrics.WritesPersisted.Inc()
	}
	s.saveIndex(snapshot)
	return nil
}

func (s *Store) saveIndex(index *types.SessionIndex) {
	if err := s.indexFile.Save(index); err != nil {
		s.logger.Warn("session index write failed", zap.Error(err))
		if s.metrics != nil {
			s.metrics.WriteFailures.Inc()
		}
	}
}

func (s *Store) knownLocked(id string) bool {
	for i := range s.index.Sessions {
		if s.index.Sessions[i].ID == id {
			return true
		}
	}
	return false
}

func (s *Store) updateSummaryLocked(sess *types.Session) {
	for i := range s.index.Sessions {
		if s.index.Sessions[i].ID == sess.ID {
			s.index.Sessions[i] = sess.ToSummary()
			return
		}
	}
	s.index.Sessions = append([]types.SessionSummary{sess.ToSummary()}, s.index.Sessions...)
}

func (s *Store) indexSnapshotLocked() *types.SessionIndex {
	out := &types.SessionIndex{
		Sessions:  make([]types.SessionSummary, len(s.index.Sessions)),
		CurrentID: s.index.CurrentID,
	}
	copy(out.Sessions, s.index.Sessions)
	return out
}

// emptyFromSummary builds a fresh session carrying over whatever the index
// still knows about it.
func (s *Store) emptyFromSummary(id string) *types.Session {
	now := s.now()
	sess := &types.Session{
		ID:           id,
		Title:        "New chat",
		Messages:     []types.Message{},
		CreatedAt:    now,
		LastActivity: now,
	}
	s.mu.Lock()
	for i := range s.index.Sessions {
		if s.index.Sessions[i].ID == id {
			sess.Title = s.index.Sessions[i].Title
			sess.CreatedAt = s.index.Sessions[i].CreatedAt
			sess.LastActivity = s.index.Sessions[i].LastActivity
			break
		}
	}
	s.mu.Unlock()
	return sess
}

func cloneMessages(msgs []types.Message) []types.Message {
	out := make([]types.Message, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Clone()
	}
	return out
}

// deriveTitle turns the first user message into a session title.
func deriveTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	const max = 48
	if runes := []rune(title); len(runes) > max {
		title = strings.TrimSpace(string(runes[:max])) + "..."
	}
	if title == "" {
		title = "New chat"
	}
	return title
}
