package images

import (
	"encoding/base64"
	"os"

	"github.com/pixelmuse/backend/internal/types"
)

// Resolver reconstructs presentable image references from saved file paths
// on demand. The durable session record never carries image bytes; this is
// the presentation-side inverse of that stripping.
type Resolver struct {
	// MaxInline is the largest file size inlined as a data URI. Larger
	// files are referenced by path and left to the UI surface to fetch.
	MaxInline int64
}

// NewResolver creates a resolver with a 2 MiB inline cap.
func NewResolver() *Resolver {
	return &Resolver{MaxInline: 2 << 20}
}

// Resolve returns one presentable reference per saved path, index-aligned.
// Deleted and hidden indices resolve to the empty string; unhiding an
// image surfaces it on the next history request.
func (r *Resolver) Resolve(d *types.ImageData) []string {
	if d == nil {
		return nil
	}
	refs := make([]string, len(d.SavedFilePaths))
	for i, path := range d.SavedFilePaths {
		if suppressed(d.ImageStates, i) {
			continue
		}
		refs[i] = r.resolveOne(path)
	}
	return refs
}

func suppressed(s *types.ImageStates, i int) bool {
	if s == nil {
		return false
	}
	if i < len(s.Deleted) && s.Deleted[i] {
		return true
	}
	return i < len(s.Hidden) && s.Hidden[i]
}

func (r *Resolver) resolveOne(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	if info.Size() > r.MaxInline {
		return "file://" + path
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}
