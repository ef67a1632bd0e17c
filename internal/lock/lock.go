// Package lock serializes operations on a directory tree across meshctl
// processes. It uses mkdir as the atomic primitive: the lock is held while
// the lock directory exists, and info.json inside it names the holder.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/logger"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultStale   = 10 * time.Minute
	DefaultPoll    = 250 * time.Millisecond

	infoFileName = "info.json"
)

// Config controls acquisition.
type Config struct {
	// Timeout bounds how long Acquire waits for a held lock.
	Timeout time.Duration
	// Stale is the holder age after which a lock is broken. Zero disables
	// age-based breaking; orphaned holders on this host are still broken.
	Stale time.Duration
	// Poll is the wait between attempts.
	Poll time.Duration
	// Command is recorded in the holder info.
	Command string
	Log     logger.Logger
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Poll <= 0 {
		c.Poll = DefaultPoll
	}
	if c.Log == nil {
		c.Log = logger.Noop()
	}
	return c
}

// Lock represents an acquired lock.
type Lock struct {
	Dir  string    // The lock directory path
	Info *LockInfo // Info about the lock holder (us)
}

// Acquire takes the lock at dir, waiting up to cfg.Timeout while another
// process holds it. Stale or orphaned locks are removed and acquisition
// continues immediately.
func Acquire(ctx context.Context, dir string, cfg Config) (*Lock, error) {
	cfg = cfg.withDefaults()
	deadline := time.Now().Add(cfg.Timeout)

	for {
		l, err := tryAcquire(dir, cfg)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, ErrLocked) {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, errors.WrapWithCode(ErrLocked, errors.ErrLock,
				fmt.Sprintf("Timed out waiting for lock after %s", cfg.Timeout),
				fmt.Sprintf("Lock held by: %s. Wait for it to finish, or remove %s if that process is gone.", Holder(dir), dir))
		}

		t := time.NewTimer(cfg.Poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.WrapWithCode(ctx.Err(), errors.ErrCancelled,
				"Cancelled while waiting for lock", "")
		case <-t.C:
		}
	}
}

// TryAcquire makes a single attempt and returns ErrLocked (wrapped) when
// the lock is held.
func TryAcquire(dir string, cfg Config) (*Lock, error) {
	return tryAcquire(dir, cfg.withDefaults())
}

func tryAcquire(dir string, cfg Config) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrResource,
			fmt.Sprintf("Couldn't create %s", filepath.Dir(dir)),
			"Check permissions on the backup directory.")
	}

	if breakIfStale(dir, cfg) {
		cfg.Log.Warn("removed stale lock %s", dir)
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return nil, ErrLocked
		}
		return nil, errors.WrapWithCode(err, errors.ErrLock,
			fmt.Sprintf("Couldn't create lock directory %s", dir),
			"Check permissions on the backup directory.")
	}

	info := NewLockInfo(cfg.Command)
	data, err := info.Marshal()
	if err == nil {
		err = renameio.WriteFile(filepath.Join(dir, infoFileName), data, 0o644)
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, errors.WrapWithCode(err, errors.ErrLock,
			"Failed to write lock info file",
			"Check disk space and permissions on the backup directory.")
	}

	cfg.Log.Debug("acquired lock %s", dir)
	return &Lock{Dir: dir, Info: info}, nil
}

// Release removes the lock, allowing others to acquire it.
func (l *Lock) Release() error {
	if l == nil {
		return nil // Nothing to release
	}
	if err := os.RemoveAll(l.Dir); err != nil {
		return errors.WrapWithCode(err, errors.ErrLock,
			fmt.Sprintf("Failed to remove lock directory: %s", l.Dir),
			"Remove it by hand if no meshctl process is running.")
	}
	return nil
}

// ForceRelease forcibly removes a lock directory, regardless of who holds it.
// Use with caution - this should only be used for stuck or abandoned locks.
func ForceRelease(dir string) error {
	return (&Lock{Dir: dir}).Release()
}

// Holder returns information about who holds the lock (if readable).
func Holder(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, infoFileName))
	if err != nil {
		return "unknown"
	}
	info, err := ParseLockInfo(data)
	if err != nil {
		// Fall back to raw content
		return strings.TrimSpace(string(data))
	}
	return info.String()
}

// Abandoned reports whether the lock at dir is held by a holder older than
// stale or by a dead process on this host. A lock directory without
// readable info only counts once the directory itself is older than stale,
// since the holder may be between mkdir and writing info.json.
func Abandoned(dir string, stale time.Duration) bool {
	data, err := os.ReadFile(filepath.Join(dir, infoFileName))
	if err != nil {
		st, statErr := os.Stat(dir)
		return statErr == nil && stale > 0 && time.Since(st.ModTime()) > stale
	}
	info, err := ParseLockInfo(data)
	if err != nil {
		return false
	}
	return (stale > 0 && info.Age() > stale) || info.Orphaned()
}

// Held reports whether a lock directory exists at dir.
func Held(dir string) bool {
	st, err := os.Stat(dir)
	return err == nil && st.IsDir()
}

// breakIfStale removes dir when Abandoned says so.
func breakIfStale(dir string, cfg Config) bool {
	if !Abandoned(dir, cfg.Stale) {
		return false
	}
	return os.RemoveAll(dir) == nil
}
