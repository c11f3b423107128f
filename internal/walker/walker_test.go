package walker

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, root string, recursive bool, exts map[string]bool) []FileInfo {
	t.Helper()
	files, errs := Walk(context.Background(), root, recursive, exts, nil)
	var out []FileInfo
	for f := range files {
		out = append(out, f)
	}
	require.NoError(t, <-errs)
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWalkFiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "text")
	writeFile(t, filepath.Join(dir, "b.md"), "markdown")
	writeFile(t, filepath.Join(dir, "c.exe"), "binary")

	files := collect(t, dir, true, map[string]bool{"txt": true, "md": true})
	require.Len(t, files, 2)
}

func TestWalkNonRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "top.txt"), "top")
	writeFile(t, filepath.Join(dir, "sub", "nested.txt"), "nested")

	files := collect(t, dir, false, map[string]bool{"txt": true})
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dir, "top.txt"), files[0].Path)
}

func TestWalkSkipsEmptyFilesAndHiddenDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "real.txt"), "content")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0o644))
	writeFile(t, filepath.Join(dir, ".hidden", "secret.txt"), "secret")
	writeFile(t, filepath.Join(dir, "node_modules", "dep.txt"), "dep")

	files := collect(t, dir, true, map[string]bool{"txt": true})
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dir, "real.txt"), files[0].Path)
}

func TestWalkSymlinkCycleTerminates(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sub", "file.txt"), "content")
	// sub/loop points back at the root, creating a cycle.
	require.NoError(t, os.Symlink(dir, filepath.Join(dir, "sub", "loop")))

	files := collect(t, dir, true, map[string]bool{"txt": true})
	require.Len(t, files, 1)
}

func TestWalkWarnsOnInjectedLogger(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sub", "file.txt"), "content")
	require.NoError(t, os.Symlink(dir, filepath.Join(dir, "sub", "loop")))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	files, errs := Walk(context.Background(), dir, true, map[string]bool{"txt": true}, logger)
	for range files {
	}
	require.NoError(t, <-errs)
	assert.Contains(t, buf.String(), "symlink cycle detected")
}

func TestWalkCancellation(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 10; i++ {
		writeFile(t, filepath.Join(dir, "f"+string(rune('a'+i))+".txt"), "x")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	files, errs := Walk(ctx, dir, true, map[string]bool{"txt": true}, nil)
	for range files {
	}
	assert.ErrorIs(t, <-errs, context.Canceled)
}
