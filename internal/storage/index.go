package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pixelmuse/backend/internal/types"
)

// IndexFile persists the session membership record: the ordered summary
// list and the current session id. It is small and written synchronously on
// membership changes, unlike session content.
type IndexFile struct {
	root string
}

// NewIndexFile creates an index store rooted at the given storage directory.
func NewIndexFile(root string) *IndexFile {
	return &IndexFile{root: root}
}

// Load reads the index. A missing file yields an empty index, not an error.
func (f *IndexFile) Load() (*types.SessionIndex, error) {
	data, err := os.ReadFile(f.path())
	if err != nil {
		if os.IsNotExist(err) {
			return &types.SessionIndex{}, nil
		}
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}
	var index types.SessionIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("malformed session index: %w", err)
	}
	return &index, nil
}

// Save writes the index atomically.
func (f *IndexFile) Save(index *types.SessionIndex) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to marshal session index: %w", err)
	}
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return fmt.Errorf("failed to create storage dir: %w", err)
	}
	tmp, err := os.CreateTemp(f.root, "index.*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace session index: %w", err)
	}
	return nil
}

func (f *IndexFile) path() string {
	return filepath.Join(f.root, "index.json")
}
