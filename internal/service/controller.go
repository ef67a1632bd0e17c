// Package service drives a managed daemon through start and stop and waits,
// for a bounded time, until its liveness probe agrees.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/exec"
	"github.com/rileyhilliard/meshctl/internal/logger"
	"github.com/rileyhilliard/meshctl/internal/status"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultMaxWait      = 15 * time.Second
	DefaultVersionTTL   = 10 * time.Minute

	aliveTimeout = 5 * time.Second
)

// Controller tracks and changes one service's state.
type Controller struct {
	desc   Descriptor
	runner exec.CommandRunner
	cache  *status.Cache
	log    logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	aliveTTL   time.Duration
	versionTTL time.Duration

	mu    sync.Mutex
	state State
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// WithSleep replaces the wait between polls. The function must return
// ctx.Err() early when ctx is done.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		c.sleep = fn
	}
}

// WithClock replaces time.Now for elapsed-time reporting.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithAliveTTL sets how long a liveness reading may be reused by Status.
func WithAliveTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		c.aliveTTL = ttl
	}
}

// WithVersionTTL sets how long a version lookup is cached.
func WithVersionTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		c.versionTTL = ttl
	}
}

// New validates desc and determines the initial state with a fresh alive
// check. When that check fails the controller is still returned, in
// StateUnknown, together with the error.
func New(ctx context.Context, desc Descriptor, runner exec.CommandRunner, cache *status.Cache, opts ...Option) (*Controller, error) {
	if desc.PollInterval <= 0 {
		desc.PollInterval = DefaultPollInterval
	}
	if desc.MaxWait <= 0 {
		desc.MaxWait = DefaultMaxWait
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		desc:       desc,
		runner:     runner,
		cache:      cache,
		log:        logger.Noop(),
		sleep:      sleepContext,
		now:        time.Now,
		aliveTTL:   cache.DefaultTTL(),
		versionTTL: DefaultVersionTTL,
		state:      StateUnknown,
	}
	for _, opt := range opts {
		opt(c)
	}

	if _, err := c.Refresh(ctx); err != nil {
		return c, err
	}
	return c, nil
}

// Name returns the service name.
func (c *Controller) Name() string {
	return c.desc.Name
}

// Descriptor returns the descriptor the controller was built from.
func (c *Controller) Descriptor() Descriptor {
	return c.desc
}

// State returns the last observed state without probing.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// AliveKey is the status cache key holding this service's liveness.
func (c *Controller) AliveKey() string {
	return "service:" + c.desc.Name + ":alive"
}

// VersionKey is the status cache key holding this service's version.
func (c *Controller) VersionKey() string {
	return "service:" + c.desc.Name + ":version"
}

// Status returns the service state, reusing a cached liveness reading
// younger than the alive TTL. Dashboards call this; lifecycle operations
// always check fresh.
func (c *Controller) Status(ctx context.Context) (State, error) {
	alive, err := c.alive(ctx)
	return c.observe(alive, err)
}

// Refresh is Status with the cache entry dropped first.
func (c *Controller) Refresh(ctx context.Context) (State, error) {
	c.cache.Invalidate(c.AliveKey())
	return c.Status(ctx)
}

func (c *Controller) observe(alive bool, err error) (State, error) {
	switch {
	case err != nil:
		c.setState(StateUnknown)
		return StateUnknown, err
	case alive:
		c.setState(StateRunning)
		return StateRunning, nil
	default:
		c.setState(StateStopped)
		return StateStopped, nil
	}
}

// alive runs the alive check through the cache. The check is run once
// without retries: exit 0 means alive, any other exit status means not
// alive, and a check that could not produce an exit status is an error.
func (c *Controller) alive(ctx context.Context) (bool, error) {
	return status.Fetch(c.cache, c.AliveKey(), c.aliveTTL, func() (bool, error) {
		res := c.runner.Run(ctx, exec.Spec{
			Argv:        c.desc.AliveCheck,
			Timeout:     aliveTimeout,
			MaxAttempts: 1,
		})
		switch {
		case res.Succeeded:
			return true, nil
		case res.ExitCode > 0 && res.Class != errors.ErrPermanent:
			return false, nil
		default:
			return false, errors.WrapWithCode(res.LastError, res.Class,
				fmt.Sprintf("Couldn't check whether %s is running", c.desc.Name),
				"Check services."+c.desc.Name+".alive in your config.")
		}
	})
}

// Start brings the service up. When a fresh check already sees it running
// nothing else is executed.
func (c *Controller) Start(ctx context.Context) (Outcome, error) {
	return c.converge(ctx, ActionStart, true)
}

// Stop brings the service down. When a fresh check already sees it stopped
// nothing else is executed.
func (c *Controller) Stop(ctx context.Context) (Outcome, error) {
	return c.converge(ctx, ActionStop, false)
}

// Restart stops then starts the service. A stop that fails or gets stuck
// is returned without attempting the start.
func (c *Controller) Restart(ctx context.Context) (Outcome, error) {
	started := c.now()

	stop, err := c.Stop(ctx)
	if err != nil || stop.Stuck {
		stop.Action = ActionRestart
		stop.Elapsed = c.now().Sub(started)
		return stop, err
	}

	start, err := c.Start(ctx)
	start.Action = ActionRestart
	start.Changed = start.Changed || stop.Changed
	start.Polls += stop.Polls
	start.Elapsed = c.now().Sub(started)
	return start, err
}

func (c *Controller) converge(ctx context.Context, action Action, wantAlive bool) (Outcome, error) {
	started := c.now()
	out := Outcome{Service: c.desc.Name, Action: action}
	finish := func(err error) (Outcome, error) {
		out.State = c.State()
		out.Elapsed = c.now().Sub(started)
		return out, err
	}

	state, err := c.Refresh(ctx)
	if err != nil {
		return finish(err)
	}
	if (state == StateRunning) == wantAlive {
		c.log.Debug("%s already %s, nothing to do", c.desc.Name, state)
		return finish(nil)
	}

	argv, transitional := c.desc.StartCommand, StateStarting
	if !wantAlive {
		argv, transitional = c.desc.StopCommand, StateStopping
	}
	if len(argv) == 0 {
		return finish(errors.New(errors.ErrConfig,
			fmt.Sprintf("No %s command configured for %s", action, c.desc.Name),
			fmt.Sprintf("Set services.%s.%s in your config.", c.desc.Name, action)))
	}

	c.setState(transitional)
	c.log.Info("%s %s: running %s", action, c.desc.Name, exec.Spec{Argv: argv})
	out.Changed = true
	out.Command = c.runner.Run(ctx, exec.Spec{Argv: argv})
	c.cache.Invalidate(c.AliveKey())

	if out.Command.Class == errors.ErrCancelled {
		c.setState(StateUnknown)
		return finish(out.Command.LastError)
	}
	if !out.Command.Succeeded {
		c.log.Warn("%s command for %s failed after %d attempt(s): %v",
			action, c.desc.Name, out.Command.Attempts, out.Command.LastError)
	}

	converged, err := c.poll(ctx, &out, wantAlive)
	switch {
	case err != nil:
		c.setState(StateUnknown)
		return finish(err)
	case converged:
		if wantAlive {
			c.setState(StateRunning)
		} else {
			c.setState(StateStopped)
		}
		c.log.Info("%s %s after %d check(s)", c.desc.Name, c.State(), out.Polls)
		return finish(nil)
	case !out.Command.Succeeded:
		c.setState(StateUnknown)
		return finish(errors.WrapWithCode(out.Command.LastError, out.Command.Class,
			fmt.Sprintf("Couldn't %s %s", action, c.desc.Name),
			lastLine(out.Command.Stderr)))
	default:
		out.Stuck = true
		c.log.Warn("%s still %s after %s (%d checks)", c.desc.Name, transitional, c.desc.MaxWait, out.Polls)
		return finish(nil)
	}
}

// poll checks liveness up to desc.polls() times, sleeping PollInterval
// between checks, and never past MaxWait of wall-clock time: a hung alive
// check is cut off at the deadline. Each check drops the cache entry
// first. Only cancellation of ctx is returned as an error; a failing check
// or the deadline passing counts as not converged.
func (c *Controller) poll(ctx context.Context, out *Outcome, wantAlive bool) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.desc.MaxWait)
	defer cancel()

	cancelled := func() (bool, error) {
		return false, errors.WrapWithCode(ctx.Err(), errors.ErrCancelled,
			fmt.Sprintf("Cancelled while waiting for %s", c.desc.Name), "")
	}

	n := c.desc.polls()
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := c.sleep(waitCtx, c.desc.PollInterval); err != nil {
				if ctx.Err() != nil {
					return cancelled()
				}
				c.log.Debug("%s: wait deadline of %s passed after %d check(s)", c.desc.Name, c.desc.MaxWait, out.Polls)
				return false, nil
			}
		}
		c.cache.Invalidate(c.AliveKey())
		out.Polls++
		alive, err := c.alive(waitCtx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return cancelled()
			case waitCtx.Err() != nil:
				c.log.Debug("%s: alive check cut off at the %s deadline", c.desc.Name, c.desc.MaxWait)
				return false, nil
			}
			c.log.Debug("alive check for %s failed during poll %d: %v", c.desc.Name, i+1, err)
			continue
		}
		if alive == wantAlive {
			return true, nil
		}
	}
	return false, nil
}

// Version returns the first line the version command prints, cached for
// the version TTL.
func (c *Controller) Version(ctx context.Context) (string, error) {
	if len(c.desc.VersionCommand) == 0 {
		return "", errors.New(errors.ErrConfig,
			fmt.Sprintf("No version command configured for %s", c.desc.Name),
			fmt.Sprintf("Set services.%s.version in your config.", c.desc.Name))
	}
	return status.Fetch(c.cache, c.VersionKey(), c.versionTTL, func() (string, error) {
		res := c.runner.Run(ctx, exec.Spec{Argv: c.desc.VersionCommand})
		if !res.Succeeded {
			return "", errors.WrapWithCode(res.LastError, res.Class,
				fmt.Sprintf("Couldn't read the %s version", c.desc.Name), "Is it installed?")
		}
		out := strings.TrimSpace(res.Stdout)
		if out == "" {
			out = strings.TrimSpace(res.Stderr)
		}
		if i := strings.IndexByte(out, '\n'); i >= 0 {
			out = out[:i]
		}
		return out, nil
	})
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
