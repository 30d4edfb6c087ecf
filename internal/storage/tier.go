// Package storage provides tiered durable persistence for chat sessions.
//
// Reads probe an ordered list of tiers and take the first parseable,
// schema-valid result; writes always land on the fastest tier. Older tiers
// exist only for compatibility with sessions persisted by earlier storage
// generations.
package storage

import (
	"context"
	"errors"

	"github.com/pixelmuse/backend/internal/types"
)

// ErrNotFound signals that no tier holds a record for the session.
var ErrNotFound = errors.New("session not found")

// ErrReadOnly signals a tier retained for read compatibility only.
var ErrReadOnly = errors.New("storage tier is read-only")

// Tier is a single storage generation. Read returns ErrNotFound (or any
// other error, treated identically as a miss) when the tier cannot produce
// a valid session.
type Tier interface {
	Name() string
	Read(ctx context.Context, id string) (*types.Session, error)
	Write(ctx context.Context, id string, session *types.Session) error
}
