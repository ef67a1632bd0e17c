package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// DefaultMaxSize is the active file size that triggers rotation.
	DefaultMaxSize int64 = 1 << 20
	// DefaultKeep is how many rotated copies (.1 .. .N) are retained.
	DefaultKeep = 3
)

var errDropping = errors.New("log writer is dropping records")

// RotatingFile is an io.Writer over a log file that rotates by size.
//
// Before each write the tracked size is compared with MaxSize; at or above
// it the file is shifted to ".1", older copies move up one suffix and
// anything beyond Keep is discarded.
//
// Write never returns an error. When the primary path cannot be opened or
// written, the writer redirects once to its fallback path; if that fails
// too, records are dropped and Degraded reports true.
type RotatingFile struct {
	mu         sync.Mutex
	path       string
	fallback   string
	maxSize    int64
	keep       int
	file       *os.File
	size       int64
	redirected bool
	dropping   bool
	lastErr    error
}

// RotateOption configures a RotatingFile.
type RotateOption func(*RotatingFile)

// WithMaxSize sets the rotation threshold in bytes.
func WithMaxSize(n int64) RotateOption {
	return func(w *RotatingFile) {
		if n > 0 {
			w.maxSize = n
		}
	}
}

// WithKeep sets how many rotated copies are retained.
func WithKeep(n int) RotateOption {
	return func(w *RotatingFile) {
		if n >= 0 {
			w.keep = n
		}
	}
}

// WithFallback sets the path used once the primary path fails.
// An empty string disables redirection so failures drop records directly.
func WithFallback(path string) RotateOption {
	return func(w *RotatingFile) {
		w.fallback = path
	}
}

// DefaultFallbackPath returns $TMPDIR/meshctl/meshctl.log.
func DefaultFallbackPath() string {
	return filepath.Join(os.TempDir(), "meshctl", "meshctl.log")
}

// NewRotatingFile creates a writer for path. The file is opened lazily on
// the first write.
func NewRotatingFile(path string, opts ...RotateOption) *RotatingFile {
	w := &RotatingFile{
		path:     path,
		fallback: DefaultFallbackPath(),
		maxSize:  DefaultMaxSize,
		keep:     DefaultKeep,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write appends p to the active file, rotating first when needed.
func (w *RotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if err := w.ensureOpen(); err != nil {
			return len(p), nil
		}

		if w.size >= w.maxSize {
			if err := w.rotate(); err != nil {
				w.fail(err)
				continue
			}
		}

		n, err := w.file.Write(p)
		w.size += int64(n)
		if err == nil {
			return len(p), nil
		}
		w.fail(err)
	}
	return len(p), nil
}

// Sync flushes the active file to disk.
func (w *RotatingFile) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	// Sync errors on pipes and some filesystems are not actionable.
	_ = w.file.Sync()
	return nil
}

// Close closes the active file.
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Path returns the path records are currently written to.
func (w *RotatingFile) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Degraded reports whether the writer has given up and is dropping records.
func (w *RotatingFile) Degraded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropping
}

// Redirected reports whether the writer moved to its fallback path.
func (w *RotatingFile) Redirected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.redirected
}

// LastError returns the most recent open, write or rotate failure.
func (w *RotatingFile) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *RotatingFile) ensureOpen() error {
	for w.file == nil {
		if w.dropping {
			return errDropping
		}
		if err := w.open(); err != nil {
			w.fail(err)
		}
	}
	return nil
}

func (w *RotatingFile) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck // Already failing
		return err
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// fail records err and moves to the fallback path, or starts dropping when
// the fallback has already been tried.
func (w *RotatingFile) fail(err error) {
	w.lastErr = err
	if w.file != nil {
		w.file.Close() //nolint:errcheck // Already failing
		w.file = nil
	}
	if !w.redirected && w.fallback != "" && w.fallback != w.path {
		w.path = w.fallback
		w.redirected = true
		return
	}
	w.dropping = true
}

func (w *RotatingFile) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return err
		}
		w.file = nil
	}

	if w.keep == 0 {
		if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return w.open()
	}

	// Drop the oldest copy, then shift .N-1 -> .N down to .1 -> .2.
	if err := os.Remove(rotatedName(w.path, w.keep)); err != nil && !os.IsNotExist(err) {
		return err
	}
	for i := w.keep - 1; i >= 1; i-- {
		if err := os.Rename(rotatedName(w.path, i), rotatedName(w.path, i+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.Rename(w.path, rotatedName(w.path, 1)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return w.open()
}

func rotatedName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}
