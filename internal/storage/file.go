package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pixelmuse/backend/internal/types"
)

// FileTier stores one JSON file per session under <root>/sessions. This is
// the fastest tier and the only one receiving new writes: per-session files
// keep each write proportional to one session's size instead of the whole
// history.
type FileTier struct {
	root string
}

// NewFileTier creates a file tier rooted at the given storage directory.
func NewFileTier(root string) *FileTier {
	return &FileTier{root: root}
}

// Name identifies the tier in logs and metrics.
func (t *FileTier) Name() string { return "file" }

// Read loads and parses the per-session file.
func (t *FileTier) Read(ctx context.Context, id string) (*types.Session, error) {
	data, err := os.ReadFile(t.sessionPath(id))
	if err != nil {
		return nil, err
	}
	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("malformed session file: %w", err)
	}
	return &session, nil
}

// Write persists the session atomically: write to a temp file in the same
// directory, then rename over the target.
func (t *FileTier) Write(ctx context.Context, id string, session *types.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	dir := filepath.Join(t.root, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create sessions dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.sessionPath(id)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

func (t *FileTier) sessionPath(id string) string {
	return filepath.Join(t.root, "sessions", id+".json")
}
