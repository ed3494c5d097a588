package selector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clearsrc/scadex/internal/domain"
)

func writeFile(t *testing.T, root string, rel string, size int) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func collect(t *testing.T, s *Selector) []domain.SourceUnit {
	t.Helper()
	var units []domain.SourceUnit
	err := s.Walk(context.Background(), func(u domain.SourceUnit) error {
		units = append(units, u)
		return nil
	})
	require.NoError(t, err)
	return units
}

func defaultConfig(root string) Config {
	return Config{
		Root:         root,
		Extensions:   []string{".py", ".js", ".c"},
		ExcludeDirs:  []string{"tests", "docs"},
		MaxFileBytes: 1024,
	}
}

func TestWalk_FiltersAndRelativePaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pypi/requests/api.py", 10)
	writeFile(t, root, "pypi/requests/README.md", 10)       // wrong extension
	writeFile(t, root, "pypi/requests/big.py", 2048)        // too large
	writeFile(t, root, "pypi/requests/tests/test_api.py", 10) // excluded dir
	writeFile(t, root, "npm/lodash/index.js", 10)

	units := collect(t, New(defaultConfig(root), zap.NewNop()))

	require.Len(t, units, 2)
	require.Equal(t, "npm", units[0].Ecosystem)
	require.Equal(t, "lodash", units[0].Package)
	require.Equal(t, "npm/lodash/index.js", units[0].Path)
	require.Equal(t, ".js", units[0].Extension)
	require.Equal(t, "pypi/requests/api.py", units[1].Path)
}

func TestWalk_ExcludedDirCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pypi/flask/Tests/test_x.py", 10)
	writeFile(t, root, "pypi/flask/app.py", 10)

	units := collect(t, New(defaultConfig(root), zap.NewNop()))

	require.Len(t, units, 1)
	require.Equal(t, "pypi/flask/app.py", units[0].Path)
}

func TestWalk_PerPackageCap(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pypi/numpy/a.py", 10)
	writeFile(t, root, "pypi/numpy/b.py", 10)
	writeFile(t, root, "pypi/numpy/c.py", 10)
	writeFile(t, root, "pypi/pandas/d.py", 10)

	cfg := defaultConfig(root)
	cfg.MaxFilesPerPackage = 2
	units := collect(t, New(cfg, zap.NewNop()))

	require.Len(t, units, 3) // 2 from numpy + 1 from pandas
}

func TestWalk_PerEcosystemCap(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pypi/aaa/a.py", 10)
	writeFile(t, root, "pypi/bbb/b.py", 10)
	writeFile(t, root, "pypi/ccc/c.py", 10)

	cfg := defaultConfig(root)
	cfg.MaxPackagesPerEcosystem = 2
	units := collect(t, New(cfg, zap.NewNop()))

	require.Len(t, units, 2)
	require.Equal(t, "aaa", units[0].Package)
	require.Equal(t, "bbb", units[1].Package)
}

func TestWalk_DeterministicOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "npm/zlib/z.js", 10)
	writeFile(t, root, "npm/axios/a.js", 10)
	writeFile(t, root, "cpp/curl/c.c", 10)

	s := New(defaultConfig(root), zap.NewNop())
	first := collect(t, s)
	for i := 0; i < 3; i++ {
		require.Equal(t, first, collect(t, s))
	}
	require.Equal(t, "cpp/curl/c.c", first[0].Path)
	require.Equal(t, "npm/axios/a.js", first[1].Path)
	require.Equal(t, "npm/zlib/z.js", first[2].Path)
}

func TestWalk_ContextCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pypi/requests/a.py", 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(defaultConfig(root), zap.NewNop())
	err := s.Walk(ctx, func(domain.SourceUnit) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
