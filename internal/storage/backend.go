package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pixelmuse/backend/internal/logging"
	"github.com/pixelmuse/backend/internal/monitoring"
	"github.com/pixelmuse/backend/internal/types"
)

// Backend composes an ordered list of tiers into a single read/write
// surface. The first tier is the write target; the rest are consulted on
// reads only, in order, until one yields a valid session.
type Backend struct {
	tiers   []Tier
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewBackend creates a backend over the given tiers. The slice order is the
// read precedence; tiers[0] receives all writes.
func NewBackend(tiers []Tier, logger *logging.Logger) *Backend {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Backend{tiers: tiers, logger: logger}
}

// WithMetrics attaches a metrics collector.
func (b *Backend) WithMetrics(m *monitoring.Metrics) *Backend {
	b.metrics = m
	return b
}

// Load reads a session, probing tiers in preference order. A tier error is
// a miss, not a failure; ErrNotFound is returned only when every tier
// missed.
func (b *Backend) Load(ctx context.Context, id string) (*types.Session, error) {
	for _, tier := range b.tiers {
		session, err := tier.Read(ctx, id)
		if err != nil {
			b.recordRead(tier.Name(), "miss")
			b.logger.Debug("storage tier miss",
				zap.String("tier", tier.Name()),
				zap.String("session_id", id),
				zap.Error(err),
			)
			continue
		}
		if !valid(session, id) {
			b.recordRead(tier.Name(), "invalid")
			b.logger.Debug("storage tier returned invalid session",
				zap.String("tier", tier.Name()),
				zap.String("session_id", id),
			)
			continue
		}
		b.recordRead(tier.Name(), "hit")
		return session, nil
	}
	return nil, ErrNotFound
}

// Write persists a session to the fastest tier.
func (b *Backend) Write(ctx context.Context, id string, session *types.Session) error {
	if len(b.tiers) == 0 {
		return fmt.Errorf("no storage tiers configured")
	}
	return b.tiers[0].Write(ctx, id, session)
}

func (b *Backend) recordRead(tier, outcome string) {
	if b.metrics != nil {
		b.metrics.RecordTierRead(tier, outcome)
	}
}

// valid applies the minimal schema check a tier result must pass: a
// non-empty id matching the requested one.
func valid(s *types.Session, id string) bool {
	return s != nil && s.ID != "" && s.ID == id
}
