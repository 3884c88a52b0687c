package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFindDocuments(t *testing.T) {
	// --- Arrange ---
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.md"), "")
	writeFile(t, filepath.Join(root, "a.markdown"), "")
	writeFile(t, filepath.Join(root, "sub", "c.md"), "")
	writeFile(t, filepath.Join(root, "notes.txt"), "")
	writeFile(t, filepath.Join(root, ".git", "d.md"), "")

	// --- Act ---
	docs, err := FindDocuments([]string{root, filepath.Join(root, "b.md")})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.markdown"),
		filepath.Join(root, "b.md"),
		filepath.Join(root, "sub", "c.md"),
	}, docs)
}

func TestFindDocuments_CustomExtensionAndMissingInput(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "x.lit"), "")
	writeFile(t, filepath.Join(root, "y.md"), "")

	docs, err := FindDocuments([]string{root}, ".lit")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "x.lit")}, docs)

	_, err = FindDocuments([]string{filepath.Join(root, "missing")})
	assert.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}
