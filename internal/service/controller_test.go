package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/exec"
	exectesting "github.com/rileyhilliard/meshctl/internal/exec/testing"
	"github.com/rileyhilliard/meshctl/internal/logger"
	"github.com/rileyhilliard/meshctl/internal/status"
)

// fakeDaemon simulates a service whose liveness flips a number of alive
// checks after a start or stop command.
type fakeDaemon struct {
	alive bool
	// flipAfter is how many alive checks after a command still report the
	// old state. Negative means never flip.
	flipAfter int
	pending   *bool
	checks    int

	startResult exec.Result
	stopResult  exec.Result
}

func newFakeDaemon(alive bool) *fakeDaemon {
	return &fakeDaemon{
		alive:       alive,
		startResult: exectesting.Success(""),
		stopResult:  exectesting.Success(""),
	}
}

func (d *fakeDaemon) runner() *exectesting.FakeRunner {
	r := exectesting.NewFakeRunner()
	r.On("pgrep", func(exec.Spec) exec.Result {
		d.checks++
		if d.pending != nil {
			if d.flipAfter == 0 {
				d.alive = *d.pending
				d.pending = nil
			} else if d.flipAfter > 0 {
				d.flipAfter--
			}
		}
		if d.alive {
			return exectesting.Success("4242\n")
		}
		return exectesting.Failure(1, "")
	})
	r.On("systemctl --user start", func(exec.Spec) exec.Result {
		target := true
		d.pending = &target
		return d.startResult
	})
	r.On("systemctl --user stop", func(exec.Spec) exec.Result {
		target := false
		d.pending = &target
		return d.stopResult
	})
	r.Returns("rnsd --version", exectesting.Success("rnsd 0.9.2\n"))
	return r
}

type sleepCounter struct {
	calls int
	total time.Duration
}

func (s *sleepCounter) sleep(ctx context.Context, d time.Duration) error {
	s.calls++
	s.total += d
	return ctx.Err()
}

func testDescriptor() Descriptor {
	return Descriptor{
		Name:           "rnsd",
		AliveCheck:     []string{"pgrep", "-x", "rnsd"},
		StartCommand:   []string{"systemctl", "--user", "start", "rnsd"},
		StopCommand:    []string{"systemctl", "--user", "stop", "rnsd"},
		VersionCommand: []string{"rnsd", "--version"},
		PollInterval:   500 * time.Millisecond,
		MaxWait:        2 * time.Second,
	}
}

func newTestController(t *testing.T, d *fakeDaemon, r *exectesting.FakeRunner, opts ...Option) (*Controller, *sleepCounter) {
	t.Helper()
	sleeper := &sleepCounter{}
	opts = append([]Option{WithSleep(sleeper.sleep), WithLogger(logger.Noop())}, opts...)
	c, err := New(context.Background(), testDescriptor(), r, status.NewCache(), opts...)
	require.NoError(t, err)
	return c, sleeper
}

func TestNew_InitialState(t *testing.T) {
	tests := []struct {
		name  string
		alive bool
		want  State
	}{
		{"running", true, StateRunning},
		{"stopped", false, StateStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDaemon(tt.alive)
			r := d.runner()
			c, _ := newTestController(t, d, r)

			assert.Equal(t, tt.want, c.State())
			assert.Equal(t, 1, r.CallCount("pgrep"))
		})
	}
}

func TestNew_InitialCheckBypassesCache(t *testing.T) {
	d := newFakeDaemon(false)
	r := d.runner()
	cache := status.NewCache()
	_, err := cache.Get("service:rnsd:alive", time.Hour, func() (any, error) { return true, nil })
	require.NoError(t, err)

	c, err := New(context.Background(), testDescriptor(), r, cache)
	require.NoError(t, err)

	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 1, r.CallCount("pgrep"))
}

func TestNew_InvalidDescriptor(t *testing.T) {
	desc := testDescriptor()
	desc.AliveCheck = nil

	c, err := New(context.Background(), desc, exectesting.NewFakeRunner(), status.NewCache())

	assert.Nil(t, c)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestNew_AliveCheckUnavailable(t *testing.T) {
	r := exectesting.NewFakeRunner()
	r.Returns("pgrep", exectesting.Failure(127, "sh: pgrep: command not found"))

	c, err := New(context.Background(), testDescriptor(), r, status.NewCache())

	require.Error(t, err)
	require.NotNil(t, c)
	assert.Equal(t, StateUnknown, c.State())
}

func TestStart_AlreadyRunningIsNoop(t *testing.T) {
	d := newFakeDaemon(true)
	r := d.runner()
	c, sleeper := newTestController(t, d, r)
	r.Reset()

	out, err := c.Start(context.Background())

	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Equal(t, StateRunning, out.State)
	assert.Equal(t, 0, r.CallCount("systemctl"))
	assert.Equal(t, 1, r.CallCount("pgrep"), "exactly one fresh status check")
	assert.Zero(t, sleeper.calls)
}

func TestStart_TwiceIsIdempotent(t *testing.T) {
	d := newFakeDaemon(false)
	r := d.runner()
	c, _ := newTestController(t, d, r)

	first, err := c.Start(context.Background())
	require.NoError(t, err)
	require.True(t, first.Changed)
	require.Equal(t, StateRunning, first.State)

	second, err := c.Start(context.Background())
	require.NoError(t, err)

	assert.False(t, second.Changed)
	assert.Equal(t, 1, r.CallCount("systemctl --user start"))
}

func TestStart_ConvergesAfterPolls(t *testing.T) {
	d := newFakeDaemon(false)
	d.flipAfter = 2
	r := d.runner()
	c, sleeper := newTestController(t, d, r)

	out, err := c.Start(context.Background())

	require.NoError(t, err)
	assert.False(t, out.Stuck)
	assert.Equal(t, StateRunning, out.State)
	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, 3, out.Polls)
	assert.Equal(t, 2, sleeper.calls)
	assert.True(t, out.Command.Succeeded)
}

func TestStart_StuckIsReportedNotReturned(t *testing.T) {
	d := newFakeDaemon(false)
	d.flipAfter = -1
	r := d.runner()
	c, sleeper := newTestController(t, d, r)

	out, err := c.Start(context.Background())

	require.NoError(t, err)
	assert.True(t, out.Stuck)
	assert.True(t, out.Changed)
	assert.Equal(t, StateStarting, out.State)
	// 2s / 500ms = 4 intervals, plus the check right after the command.
	assert.Equal(t, 5, out.Polls)
	assert.Equal(t, 4, sleeper.calls)
	assert.Equal(t, 2*time.Second, sleeper.total)

	cond := out.Condition()
	require.Error(t, cond)
	assert.True(t, errors.IsCode(cond, errors.ErrStuck))
}

// hangingRunner reports the service stopped until hang is set, after which
// every alive check blocks until its context is done.
type hangingRunner struct {
	hang atomic.Bool
}

func (h *hangingRunner) Run(ctx context.Context, spec exec.Spec) exec.Result {
	if spec.Argv[0] != "pgrep" {
		h.hang.Store(true)
		return exectesting.Success("")
	}
	if !h.hang.Load() {
		return exectesting.Failure(1, "")
	}
	<-ctx.Done()
	return exec.Result{
		Attempts:  1,
		ExitCode:  -1,
		Class:     errors.ErrCancelled,
		LastError: errors.WrapWithCode(ctx.Err(), errors.ErrCancelled, "cancelled", ""),
	}
}

func TestStart_HungAliveCheckBoundedByMaxWait(t *testing.T) {
	desc := testDescriptor()
	desc.PollInterval = 10 * time.Millisecond
	desc.MaxWait = 50 * time.Millisecond
	c, err := New(context.Background(), desc, &hangingRunner{}, status.NewCache())
	require.NoError(t, err)

	started := time.Now()
	out, err := c.Start(context.Background())
	elapsed := time.Since(started)

	require.NoError(t, err)
	assert.True(t, out.Stuck)
	assert.Equal(t, 1, out.Polls, "the first check hangs until the deadline")
	assert.Less(t, elapsed, 2*time.Second)
}

func TestStart_CommandFailureWithoutConvergence(t *testing.T) {
	d := newFakeDaemon(false)
	d.flipAfter = -1
	d.startResult = exectesting.Failure(5, "Failed to start rnsd.service: Unit not loaded.")
	r := d.runner()
	c, _ := newTestController(t, d, r)

	out, err := c.Start(context.Background())

	require.Error(t, err)
	assert.False(t, out.Stuck)
	assert.Equal(t, StateUnknown, out.State)
	assert.Contains(t, err.Error(), "Unit not loaded")
}

func TestStart_LivenessDecidesOverExitCode(t *testing.T) {
	d := newFakeDaemon(false)
	d.startResult = exectesting.Failure(1, "warning: already activating")
	r := d.runner()
	c, _ := newTestController(t, d, r)

	out, err := c.Start(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateRunning, out.State)
	assert.False(t, out.Command.Succeeded)
}

func TestStart_InvalidatesCacheAfterCommand(t *testing.T) {
	d := newFakeDaemon(false)
	r := d.runner()
	c, _ := newTestController(t, d, r, WithAliveTTL(time.Hour))

	state, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateStopped, state)

	_, err = c.Start(context.Background())
	require.NoError(t, err)

	r.Reset()
	state, err = c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state, "the post-start reading must be cached, not the pre-start one")
	assert.Zero(t, r.CallCount("pgrep"))
}

func TestStart_CancelledWhilePolling(t *testing.T) {
	d := newFakeDaemon(false)
	d.flipAfter = -1
	r := d.runner()
	ctx, cancel := context.WithCancel(context.Background())
	c, err := New(context.Background(), testDescriptor(), r, status.NewCache(),
		WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}))
	require.NoError(t, err)

	out, err := c.Start(ctx)

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCancelled))
	assert.Equal(t, 1, out.Polls)
	assert.Equal(t, StateUnknown, out.State)
}

func TestStart_NoStartCommand(t *testing.T) {
	d := newFakeDaemon(false)
	r := d.runner()
	desc := testDescriptor()
	desc.StartCommand = nil
	c, err := New(context.Background(), desc, r, status.NewCache())
	require.NoError(t, err)

	_, err = c.Start(context.Background())

	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestStop(t *testing.T) {
	t.Run("already stopped", func(t *testing.T) {
		d := newFakeDaemon(false)
		r := d.runner()
		c, _ := newTestController(t, d, r)

		out, err := c.Stop(context.Background())

		require.NoError(t, err)
		assert.False(t, out.Changed)
		assert.Equal(t, 0, r.CallCount("systemctl"))
	})

	t.Run("converges", func(t *testing.T) {
		d := newFakeDaemon(true)
		d.flipAfter = 1
		r := d.runner()
		c, _ := newTestController(t, d, r)

		out, err := c.Stop(context.Background())

		require.NoError(t, err)
		assert.True(t, out.Changed)
		assert.Equal(t, StateStopped, out.State)
		assert.Equal(t, 2, out.Polls)
	})

	t.Run("stuck", func(t *testing.T) {
		d := newFakeDaemon(true)
		d.flipAfter = -1
		r := d.runner()
		c, _ := newTestController(t, d, r)

		out, err := c.Stop(context.Background())

		require.NoError(t, err)
		assert.True(t, out.Stuck)
		assert.Equal(t, StateStopping, out.State)
	})
}

func TestRestart(t *testing.T) {
	d := newFakeDaemon(true)
	r := d.runner()
	c, _ := newTestController(t, d, r)

	out, err := c.Restart(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ActionRestart, out.Action)
	assert.True(t, out.Changed)
	assert.Equal(t, StateRunning, out.State)
	assert.Equal(t, 1, r.CallCount("systemctl --user stop"))
	assert.Equal(t, 1, r.CallCount("systemctl --user start"))
}

func TestRestart_StuckStopSkipsStart(t *testing.T) {
	d := newFakeDaemon(true)
	d.flipAfter = -1
	r := d.runner()
	c, _ := newTestController(t, d, r)

	out, err := c.Restart(context.Background())

	require.NoError(t, err)
	assert.True(t, out.Stuck)
	assert.Equal(t, 0, r.CallCount("systemctl --user start"))
}

func TestVersion_Cached(t *testing.T) {
	d := newFakeDaemon(true)
	r := d.runner()
	c, _ := newTestController(t, d, r)

	v1, err := c.Version(context.Background())
	require.NoError(t, err)
	v2, err := c.Version(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "rnsd 0.9.2", v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, r.CallCount("rnsd --version"))
}

func TestVersion_ErrorNotCached(t *testing.T) {
	d := newFakeDaemon(true)
	r := d.runner()
	calls := 0
	r.On("nomadnet --version", func(exec.Spec) exec.Result {
		calls++
		return exectesting.Failure(1, "boom")
	})
	desc := testDescriptor()
	desc.VersionCommand = []string{"nomadnet", "--version"}
	c, err := New(context.Background(), desc, r, status.NewCache())
	require.NoError(t, err)

	_, err = c.Version(context.Background())
	require.Error(t, err)
	_, err = c.Version(context.Background())
	require.Error(t, err)

	assert.Equal(t, 2, calls)
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Descriptor)
		ok     bool
	}{
		{"valid", func(*Descriptor) {}, true},
		{"no name", func(d *Descriptor) { d.Name = "" }, false},
		{"no alive check", func(d *Descriptor) { d.AliveCheck = nil }, false},
		{"zero poll interval", func(d *Descriptor) { d.PollInterval = 0 }, false},
		{"max wait below interval", func(d *Descriptor) { d.MaxWait = time.Millisecond }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDescriptor()
			tt.mutate(&d)
			err := d.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.IsCode(err, errors.ErrConfig))
			}
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "unknown", State(99).String())
}
