// Package backup keeps timestamped snapshots of the mesh configuration
// directories, prunes them to a retention bound, restores them, and moves
// them in and out of portable archives.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/rileyhilliard/meshctl/internal/archive"
	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/exec"
	"github.com/rileyhilliard/meshctl/internal/lock"
	"github.com/rileyhilliard/meshctl/internal/logger"
)

// DefaultKeep is the retention bound used when none is configured.
const DefaultKeep = 3

const lockDirName = ".lock"

// Config locates snapshots and the directories they capture.
type Config struct {
	// Root holds one subdirectory per snapshot.
	Root string
	// Sources are the directories captured by CreateSnapshot when called
	// without arguments.
	Sources []string
	// ImportRoot receives the top-level directories of an imported archive.
	ImportRoot string
	// ExpectedDirs are the recognized top-level archive directories.
	ExpectedDirs []string
	LockTimeout  time.Duration
	LockStale    time.Duration
}

// Manager owns the snapshot root. Create, prune, delete, restore and
// import hold the root's lock, so a prune never races a snapshot that is
// still being written.
type Manager struct {
	cfg       Config
	runner    exec.CommandRunner
	validator *archive.Validator
	log       logger.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithClock replaces time.Now for snapshot IDs.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager. The runner is used for archive listing,
// compression and extraction.
func NewManager(cfg Config, runner exec.CommandRunner, opts ...Option) (*Manager, error) {
	if cfg.Root == "" {
		return nil, errors.New(errors.ErrConfig,
			"No backup directory configured",
			"Set backup.root in your config.")
	}
	m := &Manager{
		cfg:    cfg,
		runner: runner,
		log:    logger.Noop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.validator = archive.NewValidator(runner, cfg.ExpectedDirs, m.log)
	return m, nil
}

// Root returns the snapshot root.
func (m *Manager) Root() string {
	return m.cfg.Root
}

// Sources returns the configured source directories.
func (m *Manager) Sources() []string {
	return m.cfg.Sources
}

// LockDir is the directory whose existence means the store is locked.
func (m *Manager) LockDir() string {
	return filepath.Join(m.cfg.Root, lockDirName)
}

// LockStale is how old a lock has to be before it is treated as abandoned.
func (m *Manager) LockStale() time.Duration {
	if m.cfg.LockStale > 0 {
		return m.cfg.LockStale
	}
	return lock.DefaultStale
}

func (m *Manager) lock(ctx context.Context, command string) (*lock.Lock, error) {
	if err := os.MkdirAll(m.cfg.Root, 0o700); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrResource,
			"Can't create backup directory "+m.cfg.Root,
			"Check your permissions.")
	}
	return lock.Acquire(ctx, m.LockDir(), lock.Config{
		Timeout: m.cfg.LockTimeout,
		Stale:   m.cfg.LockStale,
		Command: command,
		Log:     m.log,
	})
}

func (m *Manager) release(l *lock.Lock) {
	if err := l.Release(); err != nil {
		m.log.Warn("releasing backup lock: %v", err)
	}
}

// CreateSnapshot copies each existing directory in sources (the configured
// sources when empty) into a new snapshot. Missing directories are skipped.
// The snapshot appears under its ID only once it is complete.
func (m *Manager) CreateSnapshot(ctx context.Context, sources ...string) (Snapshot, error) {
	l, err := m.lock(ctx, "backup create")
	if err != nil {
		return Snapshot{}, err
	}
	defer m.release(l)
	return m.createSnapshot(ctx, sources)
}

func (m *Manager) createSnapshot(ctx context.Context, sources []string) (Snapshot, error) {
	if len(sources) == 0 {
		sources = m.cfg.Sources
	}
	if err := checkSourceNames(sources); err != nil {
		return Snapshot{}, err
	}

	existing, err := listSnapshots(m.cfg.Root)
	if err != nil {
		return Snapshot{}, err
	}
	createdAt := m.now().UTC()
	id := nextID(m.cfg.Root, createdAt, existing)

	staging, err := os.MkdirTemp(m.cfg.Root, ".staging-"+id+"-")
	if err != nil {
		return Snapshot{}, errors.WrapWithCode(err, errors.ErrResource,
			"Can't create snapshot staging directory", "Check free space and permissions in "+m.cfg.Root)
	}
	defer os.RemoveAll(staging)

	var captured []Source
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, errors.WrapWithCode(err, errors.ErrCancelled, "Snapshot cancelled", "")
		}
		ok, err := exists(src)
		if err != nil {
			return Snapshot{}, errors.WrapWithCode(err, errors.ErrResource,
				"Can't read "+src, "Check your permissions.")
		}
		if !ok {
			m.log.Debug("snapshot %s: skipping missing %s", id, src)
			continue
		}
		name := filepath.Base(src)
		if err := copyTree(src, filepath.Join(staging, name)); err != nil {
			return Snapshot{}, errors.WrapWithCode(err, errors.ErrResource,
				fmt.Sprintf("Couldn't copy %s into the snapshot", src),
				"Check free space in "+m.cfg.Root)
		}
		captured = append(captured, Source{Name: name, Path: src})
	}

	if err := writeManifest(staging, manifest{ID: id, CreatedAt: createdAt, Sources: captured}); err != nil {
		return Snapshot{}, errors.WrapWithCode(err, errors.ErrResource, "Couldn't write snapshot manifest", "")
	}
	final := filepath.Join(m.cfg.Root, id)
	if err := os.Rename(staging, final); err != nil {
		return Snapshot{}, errors.WrapWithCode(err, errors.ErrResource, "Couldn't finalize snapshot "+id, "")
	}

	snap := Snapshot{ID: id, CreatedAt: createdAt, Sources: captured, SizeBytes: dirSize(final), Path: final}
	m.log.Info("created snapshot %s with %d of %d sources", id, len(captured), len(sources))
	return snap, nil
}

func checkSourceNames(sources []string) error {
	seen := make(map[string]string, len(sources))
	for _, src := range sources {
		name := filepath.Base(filepath.Clean(src))
		if name == "." || name == string(filepath.Separator) || name == ".." {
			return errors.New(errors.ErrPermanent,
				fmt.Sprintf("Can't back up '%s'", src),
				"List the configuration directories themselves, not a root.")
		}
		if prev, ok := seen[name]; ok {
			return errors.New(errors.ErrPermanent,
				fmt.Sprintf("Backup sources %s and %s share the name '%s'", prev, src, name),
				"Each source directory needs a distinct base name.")
		}
		seen[name] = src
	}
	return nil
}

// ListSnapshots returns all complete snapshots in ascending ID order.
func (m *Manager) ListSnapshots() ([]Snapshot, error) {
	return listSnapshots(m.cfg.Root)
}

// Get returns the snapshot with id.
func (m *Manager) Get(id string) (Snapshot, error) {
	if !ValidID(id) {
		return Snapshot{}, errors.New(errors.ErrPermanent,
			fmt.Sprintf("'%s' is not a snapshot ID", id),
			"Run 'meshctl backup list' to see snapshot IDs.")
	}
	s, err := readSnapshot(m.cfg.Root, id)
	if err != nil {
		return Snapshot{}, errors.WrapWithCode(err, errors.ErrPermanent,
			fmt.Sprintf("Snapshot %s not found", id),
			"Run 'meshctl backup list' to see snapshot IDs.")
	}
	return s, nil
}

// PruneRetained deletes the oldest snapshots until at most keep remain and
// returns the deleted ones, oldest first.
func (m *Manager) PruneRetained(ctx context.Context, keep int) ([]Snapshot, error) {
	if keep < 0 {
		return nil, errors.New(errors.ErrPermanent,
			fmt.Sprintf("Can't keep %d snapshots", keep),
			"Use a retention count of zero or more.")
	}

	l, err := m.lock(ctx, "backup prune")
	if err != nil {
		return nil, err
	}
	defer m.release(l)

	snaps, err := listSnapshots(m.cfg.Root)
	if err != nil {
		return nil, err
	}
	if len(snaps) <= keep {
		return nil, nil
	}

	var deleted []Snapshot
	for _, s := range snaps[:len(snaps)-keep] {
		if err := os.RemoveAll(s.Path); err != nil {
			return deleted, errors.WrapWithCode(err, errors.ErrResource,
				"Can't delete snapshot "+s.ID, "Check your permissions.")
		}
		m.log.Info("pruned snapshot %s", s.ID)
		deleted = append(deleted, s)
	}
	return deleted, nil
}

// DeleteSnapshot removes one snapshot. It refuses without confirmed.
func (m *Manager) DeleteSnapshot(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return errors.NewNotConfirmed("delete snapshot " + id)
	}
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	l, err := m.lock(ctx, "backup delete")
	if err != nil {
		return err
	}
	defer m.release(l)

	if err := os.RemoveAll(s.Path); err != nil {
		return errors.WrapWithCode(err, errors.ErrResource,
			"Can't delete snapshot "+id, "Check your permissions.")
	}
	m.log.Info("deleted snapshot %s", id)
	return nil
}

// RestoreSnapshot copies every directory in snapshot id back over its live
// location, replacing it. targets maps a source name to a destination and
// overrides the path recorded at capture time. Nothing is touched unless
// confirmed is true. Per-directory failures are collected and returned
// together; the directories that were restored are returned either way.
func (m *Manager) RestoreSnapshot(ctx context.Context, id string, targets map[string]string, confirmed bool) ([]string, error) {
	if !confirmed {
		return nil, errors.NewNotConfirmed("restore snapshot " + id)
	}
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	l, err := m.lock(ctx, "backup restore")
	if err != nil {
		return nil, err
	}
	defer m.release(l)

	var restored []string
	var result *multierror.Error
	for _, src := range s.Sources {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		dst := src.Path
		if t, ok := targets[src.Name]; ok {
			dst = t
		}
		if dst == "" {
			result = multierror.Append(result, fmt.Errorf("%s: no destination", src.Name))
			continue
		}
		if err := replaceDir(filepath.Join(s.Path, src.Name), dst); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", src.Name, err))
			continue
		}
		m.log.Info("restored %s from snapshot %s to %s", src.Name, id, dst)
		restored = append(restored, src.Name)
	}

	if err := result.ErrorOrNil(); err != nil {
		return restored, errors.WrapWithCode(err, errors.ErrResource,
			fmt.Sprintf("Restored %d of %d directories from %s", len(restored), len(s.Sources), id),
			"Directories that failed were left as they were.")
	}
	return restored, nil
}
