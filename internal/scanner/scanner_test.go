package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"b.eml",
		"a.EML",
		"notes.txt",
		"2024/jan/c.eml",
		".hidden/d.eml",
	)

	files, err := NewScanner(root).Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "2024", "jan", "c.eml"),
		filepath.Join(root, "a.EML"),
		filepath.Join(root, "b.eml"),
	}, files)

	n, err := NewScanner(root).Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestScanExtensions(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.eml", "b.msg", "c.txt")

	files, err := NewScanner(root, "msg", ".TXT").Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "b.msg"), filepath.Join(root, "c.txt")}, files)
	assert.Equal(t, root, NewScanner(root).RootPath())
}

func TestScanMissingDirectory(t *testing.T) {
	_, err := NewScanner(filepath.Join(t.TempDir(), "missing")).Scan()
	assert.Error(t, err)
}

func TestScanEmptyDirectory(t *testing.T) {
	files, err := NewScanner(t.TempDir()).Scan()
	require.NoError(t, err)
	assert.Empty(t, files)
}
