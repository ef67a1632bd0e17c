package lock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/logger"
)

func TestLockInfo_NewLockInfo(t *testing.T) {
	info := NewLockInfo("backup create")

	assert.NotEmpty(t, info.User)
	assert.NotEmpty(t, info.Hostname)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, "backup create", info.Command)
	assert.WithinDuration(t, time.Now(), info.Started, time.Second)
}

func TestLockInfo_Age(t *testing.T) {
	info := &LockInfo{Started: time.Now().Add(-5 * time.Minute)}

	assert.InDelta(t, float64(5*time.Minute), float64(info.Age()), float64(time.Second))
}

func TestLockInfo_MarshalRoundTrip(t *testing.T) {
	info := &LockInfo{
		User:     "testuser",
		Hostname: "testhost",
		Started:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		PID:      12345,
	}

	data, err := info.Marshal()
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "testuser", parsed["user"])
	assert.NotContains(t, parsed, "command", "empty command is omitted")

	back, err := ParseLockInfo(data)
	require.NoError(t, err)
	assert.Equal(t, info.PID, back.PID)
	assert.True(t, info.Started.Equal(back.Started))
}

func TestParseLockInfo_Invalid(t *testing.T) {
	_, err := ParseLockInfo([]byte("not json"))
	assert.Error(t, err)
}

func TestLockInfo_String(t *testing.T) {
	info := &LockInfo{User: "alice", Hostname: "pi", PID: 42, Command: "backup prune"}

	s := info.String()

	assert.Contains(t, s, "alice@pi (pid 42, backup prune")
}

func TestLockInfo_Orphaned(t *testing.T) {
	hostname, err := os.Hostname()
	require.NoError(t, err)

	assert.False(t, (&LockInfo{Hostname: hostname, PID: os.Getpid()}).Orphaned())
	assert.False(t, (&LockInfo{Hostname: "some-other-host", PID: 999999999}).Orphaned())
}

func TestAcquireRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups", ".lock")

	l, err := Acquire(context.Background(), dir, Config{Command: "test"})
	require.NoError(t, err)

	assert.DirExists(t, dir)
	assert.FileExists(t, filepath.Join(dir, "info.json"))
	assert.Contains(t, Holder(dir), "(pid ")

	require.NoError(t, l.Release())
	assert.NoDirExists(t, dir)

	l2, err := Acquire(context.Background(), dir, Config{})
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestRelease_Nil(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release())
}

func TestTryAcquire_Held(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".lock")
	l, err := TryAcquire(dir, Config{})
	require.NoError(t, err)
	defer l.Release()

	_, err = TryAcquire(dir, Config{})

	assert.ErrorIs(t, err, ErrLocked)
}

func TestAcquire_TimesOut(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".lock")
	l, err := TryAcquire(dir, Config{})
	require.NoError(t, err)
	defer l.Release()

	start := time.Now()
	_, err = Acquire(context.Background(), dir, Config{Timeout: 100 * time.Millisecond, Poll: 10 * time.Millisecond})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrLock))
	assert.ErrorIs(t, err, ErrLocked)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAcquire_Cancelled(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".lock")
	l, err := TryAcquire(dir, Config{})
	require.NoError(t, err)
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Acquire(ctx, dir, Config{Timeout: time.Minute, Poll: 10 * time.Millisecond})

	assert.True(t, errors.IsCode(err, errors.ErrCancelled))
}

func writeInfo(t *testing.T, dir string, info *LockInfo) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := info.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "info.json"), data, 0o644))
}

func TestAcquire_BreaksStaleLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".lock")
	writeInfo(t, dir, &LockInfo{
		User:     "ghost",
		Hostname: "elsewhere",
		PID:      1,
		Started:  time.Now().Add(-time.Hour),
	})
	log := logger.NewBufferLogger()

	l, err := Acquire(context.Background(), dir, Config{Stale: time.Minute, Timeout: time.Second, Log: log})

	require.NoError(t, err)
	defer l.Release()
	assert.Equal(t, os.Getpid(), l.Info.PID)
	assert.True(t, log.HasLevel("warn"))
}

func TestAcquire_KeepsFreshForeignLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".lock")
	writeInfo(t, dir, &LockInfo{
		User:     "other",
		Hostname: "elsewhere",
		PID:      1,
		Started:  time.Now(),
	})

	_, err := TryAcquire(dir, Config{Stale: time.Hour})

	assert.ErrorIs(t, err, ErrLocked)
}

func TestAcquire_BreaksOrphanedLock(t *testing.T) {
	hostname, err := os.Hostname()
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), ".lock")
	writeInfo(t, dir, &LockInfo{
		User:     "me",
		Hostname: hostname,
		// Above the Linux pid_max ceiling, so no process can have it.
		PID:     1 << 30,
		Started: time.Now(),
	})

	l, err := TryAcquire(dir, Config{Stale: time.Hour})

	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestForceRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".lock")
	_, err := TryAcquire(dir, Config{})
	require.NoError(t, err)

	require.NoError(t, ForceRelease(dir))

	assert.NoDirExists(t, dir)
}

func TestHolder_Unreadable(t *testing.T) {
	assert.Equal(t, "unknown", Holder(filepath.Join(t.TempDir(), "missing")))
}

func TestAbandoned(t *testing.T) {
	hostname, err := os.Hostname()
	require.NoError(t, err)

	tests := []struct {
		name string
		info *LockInfo
		want bool
	}{
		{"fresh foreign holder", &LockInfo{Hostname: "elsewhere", PID: 1, Started: time.Now()}, false},
		{"old foreign holder", &LockInfo{Hostname: "elsewhere", PID: 1, Started: time.Now().Add(-time.Hour)}, true},
		{"live local holder", &LockInfo{Hostname: hostname, PID: os.Getpid(), Started: time.Now()}, false},
		{"dead local holder", &LockInfo{Hostname: hostname, PID: 1 << 30, Started: time.Now()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), ".lock")
			writeInfo(t, dir, tt.info)
			assert.True(t, Held(dir))
			assert.Equal(t, tt.want, Abandoned(dir, time.Minute))
		})
	}
}

func TestAbandoned_NoInfoYet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".lock")
	require.NoError(t, os.Mkdir(dir, 0o755))

	assert.False(t, Abandoned(dir, time.Minute))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(dir, old, old))
	assert.True(t, Abandoned(dir, time.Minute))
}

func TestHeld_Missing(t *testing.T) {
	assert.False(t, Held(filepath.Join(t.TempDir(), ".lock")))
}
