package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/exec"
	exectesting "github.com/rileyhilliard/meshctl/internal/exec/testing"
	"github.com/rileyhilliard/meshctl/internal/lock"
	"github.com/rileyhilliard/meshctl/internal/logger"
)

// steppingClock returns start, start+step, start+2*step ...
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	next := start
	return func() time.Time {
		t := next
		next = next.Add(step)
		return t
	}
}

type fixture struct {
	home    string
	root    string
	sources []string
	log     *logger.BufferLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	f := &fixture{
		home: filepath.Join(base, "home"),
		root: filepath.Join(base, "backups"),
		log:  logger.NewBufferLogger(),
	}
	f.sources = []string{
		filepath.Join(f.home, ".reticulum"),
		filepath.Join(f.home, ".nomadnetwork"),
		filepath.Join(f.home, ".lxmf"),
	}
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(f.home, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.home, rel))
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) manager(t *testing.T, runner exec.CommandRunner) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Root:        f.root,
		Sources:     f.sources,
		ImportRoot:  f.home,
		LockTimeout: 200 * time.Millisecond,
	}, runner,
		WithLogger(f.log),
		WithClock(steppingClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), time.Second)))
	require.NoError(t, err)
	return m
}

func TestNewManager_RequiresRoot(t *testing.T) {
	_, err := NewManager(Config{}, exectesting.NewFakeRunner())
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestCreateSnapshot_SkipsMissingSources(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".reticulum/config", "[reticulum]\n")
	f.write(t, ".reticulum/storage/identity", "key")
	f.write(t, ".lxmf/config", "lxmf")
	m := f.manager(t, exectesting.NewFakeRunner())

	s, err := m.CreateSnapshot(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "20250301-120000.000000", s.ID)
	assert.Equal(t, []string{".reticulum", ".lxmf"}, s.Names())
	assert.False(t, s.Has(".nomadnetwork"))
	assert.Positive(t, s.SizeBytes)

	data, err := os.ReadFile(filepath.Join(s.Path, ".reticulum", "storage", "identity"))
	require.NoError(t, err)
	assert.Equal(t, "key", string(data))
	assert.FileExists(t, filepath.Join(s.Path, "manifest.json"))
	assert.NoDirExists(t, filepath.Join(f.root, ".lock"), "lock released")
}

func TestCreateSnapshot_NothingPresent(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, exectesting.NewFakeRunner())

	s, err := m.CreateSnapshot(context.Background())

	require.NoError(t, err)
	assert.Empty(t, s.Sources)
}

func TestCreateSnapshot_UniqueIDsUnderFrozenClock(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".reticulum/config", "x")
	frozen := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := NewManager(Config{Root: f.root, Sources: f.sources}, exectesting.NewFakeRunner(),
		WithClock(func() time.Time { return frozen }))
	require.NoError(t, err)

	a, err := m.CreateSnapshot(context.Background())
	require.NoError(t, err)
	b, err := m.CreateSnapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "20250301-120000.000000", a.ID)
	assert.Equal(t, "20250301-120000.000001", b.ID)
}

func TestCreateSnapshot_DuplicateNames(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, exectesting.NewFakeRunner())

	_, err := m.CreateSnapshot(context.Background(), "/a/.reticulum", "/b/.reticulum")

	assert.True(t, errors.IsCode(err, errors.ErrPermanent))
}

func TestCreateSnapshot_WaitsForLock(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, exectesting.NewFakeRunner())
	held, err := lock.TryAcquire(filepath.Join(f.root, ".lock"), lock.Config{})
	require.NoError(t, err)
	defer held.Release()

	_, err = m.CreateSnapshot(context.Background())

	assert.True(t, errors.IsCode(err, errors.ErrLock))
	snaps, err := m.ListSnapshots()
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestListSnapshots_SortedAndFiltered(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".reticulum/config", "x")
	m := f.manager(t, exectesting.NewFakeRunner())
	for i := 0; i < 3; i++ {
		_, err := m.CreateSnapshot(context.Background())
		require.NoError(t, err)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, ".staging-leftover"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "not-a-snapshot"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "20990101-000000.000000"), 0o755)) // no manifest

	snaps, err := m.ListSnapshots()

	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, "20250301-120000.000000", snaps[0].ID)
	assert.Equal(t, "20250301-120001.000000", snaps[1].ID)
	assert.Equal(t, "20250301-120002.000000", snaps[2].ID)
}

func TestListSnapshots_MissingRoot(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, exectesting.NewFakeRunner())

	snaps, err := m.ListSnapshots()

	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestPruneRetained(t *testing.T) {
	tests := []struct {
		name        string
		count       int
		keep        int
		wantDeleted []string
		wantKept    []string
	}{
		{
			name:        "five keep three",
			count:       5,
			keep:        3,
			wantDeleted: []string{"20250301-120000.000000", "20250301-120001.000000"},
			wantKept:    []string{"20250301-120002.000000", "20250301-120003.000000", "20250301-120004.000000"},
		},
		{
			name:     "three keep three",
			count:    3,
			keep:     3,
			wantKept: []string{"20250301-120000.000000", "20250301-120001.000000", "20250301-120002.000000"},
		},
		{
			name:     "two keep three",
			count:    2,
			keep:     3,
			wantKept: []string{"20250301-120000.000000", "20250301-120001.000000"},
		},
		{
			name:        "keep zero",
			count:       2,
			keep:        0,
			wantDeleted: []string{"20250301-120000.000000", "20250301-120001.000000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.write(t, ".reticulum/config", "x")
			m := f.manager(t, exectesting.NewFakeRunner())
			for i := 0; i < tt.count; i++ {
				_, err := m.CreateSnapshot(context.Background())
				require.NoError(t, err)
			}

			deleted, err := m.PruneRetained(context.Background(), tt.keep)
			require.NoError(t, err)

			var deletedIDs []string
			for _, s := range deleted {
				deletedIDs = append(deletedIDs, s.ID)
			}
			assert.Equal(t, tt.wantDeleted, deletedIDs)

			remaining, err := m.ListSnapshots()
			require.NoError(t, err)
			var keptIDs []string
			for _, s := range remaining {
				keptIDs = append(keptIDs, s.ID)
			}
			assert.Equal(t, tt.wantKept, keptIDs)
		})
	}
}

func TestPruneRetained_NegativeKeep(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, exectesting.NewFakeRunner())

	_, err := m.PruneRetained(context.Background(), -1)

	assert.True(t, errors.IsCode(err, errors.ErrPermanent))
}

func TestRestoreSnapshot_RequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".reticulum/config", "old")
	m := f.manager(t, exectesting.NewFakeRunner())
	s, err := m.CreateSnapshot(context.Background())
	require.NoError(t, err)
	f.write(t, ".reticulum/config", "new")

	restored, err := m.RestoreSnapshot(context.Background(), s.ID, nil, false)

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotConfirmed)
	assert.Empty(t, restored)
	assert.Equal(t, "new", f.read(t, ".reticulum/config"))
}

func TestRestoreSnapshot_ReplacesTargets(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".reticulum/config", "old")
	f.write(t, ".lxmf/config", "lxmf-old")
	m := f.manager(t, exectesting.NewFakeRunner())
	s, err := m.CreateSnapshot(context.Background())
	require.NoError(t, err)

	f.write(t, ".reticulum/config", "new")
	f.write(t, ".reticulum/added-later", "junk")
	require.NoError(t, os.RemoveAll(filepath.Join(f.home, ".lxmf")))

	restored, err := m.RestoreSnapshot(context.Background(), s.ID, nil, true)

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".reticulum", ".lxmf"}, restored)
	assert.Equal(t, "old", f.read(t, ".reticulum/config"))
	assert.Equal(t, "lxmf-old", f.read(t, ".lxmf/config"))
	assert.NoFileExists(t, filepath.Join(f.home, ".reticulum", "added-later"))
}

func TestRestoreSnapshot_TargetOverride(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".reticulum/config", "old")
	m := f.manager(t, exectesting.NewFakeRunner())
	s, err := m.CreateSnapshot(context.Background())
	require.NoError(t, err)
	elsewhere := filepath.Join(t.TempDir(), "rns")

	_, err = m.RestoreSnapshot(context.Background(), s.ID, map[string]string{".reticulum": elsewhere}, true)

	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(elsewhere, "config"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestRestoreSnapshot_UnknownID(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, exectesting.NewFakeRunner())

	_, err := m.RestoreSnapshot(context.Background(), "../../etc", nil, true)
	assert.True(t, errors.IsCode(err, errors.ErrPermanent))

	_, err = m.RestoreSnapshot(context.Background(), "20250101-000000.000000", nil, true)
	assert.True(t, errors.IsCode(err, errors.ErrPermanent))
}

func TestDeleteSnapshot(t *testing.T) {
	f := newFixture(t)
	f.write(t, ".reticulum/config", "x")
	m := f.manager(t, exectesting.NewFakeRunner())
	s, err := m.CreateSnapshot(context.Background())
	require.NoError(t, err)

	err = m.DeleteSnapshot(context.Background(), s.ID, false)
	assert.ErrorIs(t, err, errors.ErrNotConfirmed)
	assert.DirExists(t, s.Path)

	require.NoError(t, m.DeleteSnapshot(context.Background(), s.ID, true))
	assert.NoDirExists(t, s.Path)
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("20250301-120000.000000"))
	assert.False(t, ValidID("20250301-120000"))
	assert.False(t, ValidID("../20250301-120000.000000"))
	assert.False(t, ValidID(""))
}
