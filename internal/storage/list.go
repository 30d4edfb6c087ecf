package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pixelmuse/backend/internal/types"
)

// legacyList is the oldest persisted shape: every session inline in one
// document, plus the current pointer.
type legacyList struct {
	Sessions  []types.Session `json:"sessions"`
	CurrentID string          `json:"currentId,omitempty"`
}

// ListTier scans the original full-list record at <root>/sessions.json.
// It predates both the key-value and per-session tiers and is consulted
// only when both newer tiers miss.
type ListTier struct {
	root string
}

// NewListTier creates a list tier rooted at the given storage directory.
func NewListTier(root string) *ListTier {
	return &ListTier{root: root}
}

// Name identifies the tier in logs and metrics.
func (t *ListTier) Name() string { return "list" }

// Read scans the full session list for the requested id.
func (t *ListTier) Read(ctx context.Context, id string) (*types.Session, error) {
	data, err := os.ReadFile(filepath.Join(t.root, "sessions.json"))
	if err != nil {
		return nil, err
	}
	var list legacyList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("malformed session list: %w", err)
	}
	for i := range list.Sessions {
		if list.Sessions[i].ID == id {
			return &list.Sessions[i], nil
		}
	}
	return nil, ErrNotFound
}

// Write is unsupported; the full-list format is retained for reads only.
func (t *ListTier) Write(ctx context.Context, id string, session *types.Session) error {
	return ErrReadOnly
}
