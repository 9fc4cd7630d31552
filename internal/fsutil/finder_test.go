package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
}

func TestFindFilesByExtension(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "b.hcl", "a.yaml", "nested/c.yml", "notes.txt", "nested/deeper/d.hcl")

	got, err := FindFilesByExtension(root, ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "b.hcl"),
		filepath.Join(root, "nested/deeper/d.hcl"),
	}, got)

	got, err = FindFilesByExtension(root, ".yaml", ".yml")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	assert.Panics(t, func() { _, _ = FindFilesByExtension(root) })
}

func TestCollectFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "templates/a.hcl", "templates/b.hcl", "single.hcl", "other.yaml")

	got, err := CollectFiles([]string{
		filepath.Join(root, "templates"),
		filepath.Join(root, "templates", "a.hcl"),
		filepath.Join(root, "single.hcl"),
		filepath.Join(root, "other.yaml"),
		filepath.Join(root, "missing"),
	}, ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "templates", "a.hcl"),
		filepath.Join(root, "templates", "b.hcl"),
		filepath.Join(root, "single.hcl"),
	}, got)
}
