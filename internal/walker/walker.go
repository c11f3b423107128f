package walker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileInfo holds metadata about a discovered file.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// maxFileSize is the largest file we'll consider (512 MB); media files can be
// large but something bigger is almost certainly not user content.
const maxFileSize = 512 << 20

// skipDirs are directory names never worth scanning.
var skipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"__pycache__":  true,
	".ferret":      true,
}

// Walk traverses the tree rooted at root and sends discovered files on the
// returned channel. Only files whose extension is in allowedExts are emitted.
// Symlinked directories are followed, with a visited set of resolved paths
// guarding against cycles; a detected cycle is logged and skipped, never an
// error. Cancelling ctx stops the walk early. A nil logger falls back to
// slog.Default().
func Walk(ctx context.Context, root string, recursive bool, allowedExts map[string]bool, logger *slog.Logger) (<-chan FileInfo, <-chan error) {
	files := make(chan FileInfo, 64)
	errs := make(chan error, 1)
	if logger == nil {
		logger = slog.Default()
	}

	go func() {
		defer close(files)
		defer close(errs)

		absRoot, err := filepath.Abs(root)
		if err != nil {
			errs <- err
			return
		}

		w := &walker{
			ctx:     ctx,
			exts:    allowedExts,
			visited: make(map[string]bool),
			out:     files,
			logger:  logger,
		}
		if err := w.walkDir(absRoot, recursive); err != nil {
			errs <- err
		}
	}()

	return files, errs
}

type walker struct {
	ctx     context.Context
	exts    map[string]bool
	visited map[string]bool
	out     chan<- FileInfo
	logger  *slog.Logger
}

func (w *walker) walkDir(dir string, recurse bool) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		w.logger.Warn("skipping unresolvable directory", "path", dir, "error", err)
		return nil
	}
	if w.visited[resolved] {
		w.logger.Warn("symlink cycle detected, skipping directory", "path", dir, "resolved", resolved)
		return nil
	}
	w.visited[resolved] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("skipping unreadable directory", "path", dir, "error", err)
		return nil
	}

	for _, entry := range entries {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() || isSymlinkToDir(path, entry) {
			if !recurse {
				continue
			}
			name := entry.Name()
			if skipDirs[name] || strings.HasPrefix(name, ".") {
				continue
			}
			if err := w.walkDir(path, true); err != nil {
				return err
			}
			continue
		}

		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if !w.exts[ext] {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() > maxFileSize || info.Size() == 0 {
			continue
		}

		select {
		case w.out <- FileInfo{Path: path, Size: info.Size(), ModTime: info.ModTime()}:
		case <-w.ctx.Done():
			return w.ctx.Err()
		}
	}
	return nil
}

func isSymlinkToDir(path string, entry os.DirEntry) bool {
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
