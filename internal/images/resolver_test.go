package images

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmuse/backend/internal/types"
)

func TestResolverInlinesSmallFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o644))

	r := NewResolver()
	refs := r.Resolve(&types.ImageData{SavedFilePaths: []string{path}})
	require.Len(t, refs, 1)
	assert.True(t, strings.HasPrefix(refs[0], "data:image/png;base64,"))
}

func TestResolverReferencesLargeFilesByPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.png")
	require.NoError(t, os.WriteFile(path, make([]byte, 128), 0o644))

	r := &Resolver{MaxInline: 64}
	refs := r.Resolve(&types.ImageData{SavedFilePaths: []string{path}})
	require.Len(t, refs, 1)
	assert.Equal(t, "file://"+path, refs[0])
}

func TestResolverSkipsDeletedHiddenAndMissing(t *testing.T) {
	dir := t.TempDir()
	kept := filepath.Join(dir, "kept.png")
	require.NoError(t, os.WriteFile(kept, []byte("x"), 0o644))
	gone := filepath.Join(dir, "gone.png")

	r := NewResolver()
	data := &types.ImageData{
		SavedFilePaths: []string{kept, gone, kept, kept},
		ImageStates: &types.ImageStates{
			Deleted: []bool{false, false, true, false},
			Hidden:  []bool{false, false, false, true},
		},
	}
	refs := r.Resolve(data)
	require.Len(t, refs, 4)
	assert.NotEmpty(t, refs[0])
	assert.Empty(t, refs[1], "missing file resolves to empty")
	assert.Empty(t, refs[2], "deleted index resolves to empty")
	assert.Empty(t, refs[3], "hidden index resolves to empty")

	// Unhiding restores the reference on the next resolve
	data.ImageStates.Hidden[3] = false
	refs = r.Resolve(data)
	assert.NotEmpty(t, refs[3])
}

func TestResolverNilData(t *testing.T) {
	assert.Nil(t, NewResolver().Resolve(nil))
}
