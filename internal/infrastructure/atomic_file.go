package infrastructure

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/yourusername/wallcache-go/internal/domain"
)

// ProgressWriter wraps a writer to report bytes written so far
type ProgressWriter struct {
	Writer   io.Writer
	Total    int64
	Written  int64
	OnUpdate func(written, total int64)
}

// Write implements io.Writer, tracking progress and calling OnUpdate
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.Written += int64(n)
	if pw.OnUpdate != nil {
		pw.OnUpdate(pw.Written, pw.Total)
	}
	return n, err
}

// FileExists reports whether path names an existing regular file
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// IsWithinDir reports whether path lies strictly inside root after both are
// made absolute and cleaned. root itself is not within root.
func IsWithinDir(root, path string) bool {
	if root == "" || path == "" {
		return false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// WriteStreamAtomic streams r into a temp file next to dest, syncs it and
// renames it over dest. Nothing is visible under dest unless every byte was
// written and ctx is still live at rename time; on any failure the temp file
// is removed.
func WriteStreamAtomic(ctx context.Context, dest string, r io.Reader, size int64, onUpdate func(written, total int64)) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, &domain.FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}

	pending, err := renameio.NewPendingFile(dest,
		renameio.WithTempDir(dir),
		renameio.WithPermissions(0644))
	if err != nil {
		return 0, &domain.FilesystemError{Op: "create temp", Path: dest, Err: err}
	}
	defer pending.Cleanup()

	pw := &ProgressWriter{Writer: pending, Total: size, OnUpdate: onUpdate}
	written, err := io.Copy(pw, r)
	if err != nil {
		var netErr *domain.NetworkError
		var pathErr *os.PathError
		switch {
		case ctx.Err() != nil:
			return written, ctx.Err()
		case errors.As(err, &netErr):
			return written, err
		case errors.As(err, &pathErr):
			return written, &domain.FilesystemError{Op: "write", Path: pending.Name(), Err: err}
		default:
			return written, &domain.NetworkError{Transient: true, Err: err}
		}
	}

	if size >= 0 && written != size {
		return written, &domain.NetworkError{Transient: true, Err: io.ErrUnexpectedEOF}
	}

	if err := ctx.Err(); err != nil {
		return written, err
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return written, &domain.FilesystemError{Op: "rename", Path: dest, Err: err}
	}
	syncDir(dir)

	return written, nil
}

// WriteFileAtomic replaces path with data using temp file, fsync and rename
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &domain.FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}
	if err := renameio.WriteFile(path, data, 0644, renameio.WithTempDir(dir)); err != nil {
		return &domain.FilesystemError{Op: "replace", Path: path, Err: err}
	}
	syncDir(dir)
	return nil
}

// syncDir flushes directory metadata so a completed rename survives a crash.
// Not every platform supports syncing directories; failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
