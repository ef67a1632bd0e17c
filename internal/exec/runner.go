// Package exec is the only place meshctl starts external processes.
//
// Every invocation is an argument vector resolved through PATH; nothing is
// ever handed to a shell. Each attempt runs under a hard timeout that kills
// the child's whole process group, and failed attempts are retried with
// exponential backoff up to a fixed bound.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/logger"
)

// Defaults applied to zero-valued Spec fields.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 30 * time.Second

	// killGrace bounds how long Wait keeps reading output after the child
	// was killed, in case a grandchild still holds the pipes.
	killGrace = 2 * time.Second
)

// Spec describes one external invocation. It is treated as immutable.
type Spec struct {
	// Argv is the program and its arguments. Argv[0] is resolved via PATH.
	Argv []string
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxAttempts bounds the total number of launches.
	MaxAttempts int
	// BackoffBase is the delay after the first failure; it doubles per
	// attempt up to BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// Dir is the working directory; empty uses the current one.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
	// NonRetryable stderr patterns end the loop on the attempt that
	// produced them.
	NonRetryable []*regexp.Regexp
}

// Command returns a Spec for argv with every other field left to the
// runner's defaults.
func Command(argv ...string) Spec {
	return Spec{Argv: argv}
}

// String renders the argv for logs. It is never executed.
func (s Spec) String() string {
	quoted := make([]string, len(s.Argv))
	for i, a := range s.Argv {
		if a == "" || strings.ContainsAny(a, " \t\n'\"") {
			quoted[i] = fmt.Sprintf("%q", a)
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}

// Result reports the outcome of Run. Attempts is always between 1 and the
// effective MaxAttempts.
type Result struct {
	Succeeded bool
	Attempts  int
	// ExitCode of the last attempt; -1 when it never produced one
	// (launch failure, timeout, cancellation).
	ExitCode int
	Stdout   string
	Stderr   string
	// LastError is nil on success, otherwise a structured error whose code
	// is the final classification.
	LastError error
	// Class is the final classification: "" on success, else one of
	// errors.ErrTransient, ErrPermanent or ErrCancelled.
	Class string
}

// Err returns LastError, or nil when the command succeeded.
func (r Result) Err() error {
	if r.Succeeded {
		return nil
	}
	return r.LastError
}

// CommandRunner executes Specs. Components depend on this interface so
// tests can substitute a scripted fake.
type CommandRunner interface {
	Run(ctx context.Context, spec Spec) Result
}

// Runner is the process-backed CommandRunner.
type Runner struct {
	defaults Spec
	log      logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	lookPath func(file string) (string, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithDefaults sets the values used for zero-valued Spec fields.
func WithDefaults(timeout time.Duration, maxAttempts int, base, ceiling time.Duration) Option {
	return func(r *Runner) {
		if timeout > 0 {
			r.defaults.Timeout = timeout
		}
		if maxAttempts > 0 {
			r.defaults.MaxAttempts = maxAttempts
		}
		if base >= 0 {
			r.defaults.BackoffBase = base
		}
		if ceiling > 0 {
			r.defaults.BackoffCap = ceiling
		}
	}
}

// WithLogger sets the logger for attempt records.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		r.log = l
	}
}

// WithSleep replaces the backoff sleep. The function must return early
// with ctx.Err() when ctx is done.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		r.sleep = fn
	}
}

// WithLookPath replaces PATH resolution of Argv[0].
func WithLookPath(fn func(file string) (string, error)) Option {
	return func(r *Runner) {
		r.lookPath = fn
	}
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		defaults: Spec{
			Timeout:     DefaultTimeout,
			MaxAttempts: DefaultMaxAttempts,
			BackoffBase: DefaultBackoffBase,
			BackoffCap:  DefaultBackoffCap,
		},
		log:      logger.Noop(),
		sleep:    sleepContext,
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) withDefaults(spec Spec) Spec {
	if spec.Timeout <= 0 {
		spec.Timeout = r.defaults.Timeout
	}
	if spec.MaxAttempts <= 0 {
		spec.MaxAttempts = r.defaults.MaxAttempts
	}
	if spec.BackoffBase <= 0 {
		spec.BackoffBase = r.defaults.BackoffBase
	}
	if spec.BackoffCap <= 0 {
		spec.BackoffCap = r.defaults.BackoffCap
	}
	return spec
}

// Run executes spec until it exits 0, hits a non-retryable failure, the
// attempt limit is reached, or ctx is done. It never panics on a bad spec
// and never returns without at least one recorded attempt.
func (r *Runner) Run(ctx context.Context, spec Spec) Result {
	spec = r.withDefaults(spec)

	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return Result{
			Attempts: 1,
			ExitCode: -1,
			Class:    errors.ErrPermanent,
			LastError: errors.New(errors.ErrPermanent,
				"No command to run",
				"This is a bug: the caller built an empty argument vector."),
		}
	}

	schedule := newSchedule(spec.BackoffBase, spec.BackoffCap)
	var res Result

	for attempt := 1; attempt <= spec.MaxAttempts; attempt++ {
		res = r.attempt(ctx, spec)
		res.Attempts = attempt

		if res.Succeeded {
			if attempt > 1 {
				r.log.Info("%s succeeded on attempt %d/%d", spec.Argv[0], attempt, spec.MaxAttempts)
			}
			return res
		}

		r.log.Warn("%s failed (attempt %d/%d, class %s, exit %d)",
			spec, attempt, spec.MaxAttempts, res.Class, res.ExitCode)

		if res.Class != errors.ErrTransient || attempt == spec.MaxAttempts {
			break
		}

		delay := schedule.NextBackOff()
		r.log.Debug("retrying %s in %s", spec.Argv[0], delay)
		if err := r.sleep(ctx, delay); err != nil {
			res.Class = errors.ErrCancelled
			res.LastError = errors.WrapWithCode(err, errors.ErrCancelled,
				fmt.Sprintf("Cancelled while waiting to retry %s", spec.Argv[0]),
				"")
			break
		}
	}
	return res
}

// attempt performs one launch. Attempts is filled in by the caller.
func (r *Runner) attempt(ctx context.Context, spec Spec) Result {
	if err := ctx.Err(); err != nil {
		return Result{
			ExitCode: -1,
			Class:    errors.ErrCancelled,
			LastError: errors.WrapWithCode(err, errors.ErrCancelled,
				fmt.Sprintf("Cancelled before running %s", spec.Argv[0]), ""),
		}
	}

	path, err := r.lookPath(spec.Argv[0])
	if err != nil {
		// The binary may be briefly absent while a package upgrade swaps it.
		return Result{
			ExitCode: -1,
			Class:    errors.ErrTransient,
			LastError: errors.WrapWithCode(err, errors.ErrTransient,
				fmt.Sprintf("Couldn't find '%s' in PATH", spec.Argv[0]),
				"Make sure it is installed and on your PATH."),
		}
	}

	actx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	cmd := exec.CommandContext(actx, path, spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGrace
	setProcessGroup(cmd)

	r.log.Debug("running %s (timeout %s)", spec, spec.Timeout)
	runErr := cmd.Run()

	res := Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	switch {
	case runErr == nil:
		res.ExitCode = 0
		res.Succeeded = true
	case ctx.Err() != nil:
		res.Class = errors.ErrCancelled
		res.LastError = errors.WrapWithCode(ctx.Err(), errors.ErrCancelled,
			fmt.Sprintf("Cancelled while running %s", spec.Argv[0]), "")
	case actx.Err() == context.DeadlineExceeded:
		res.Class = errors.ErrTransient
		res.LastError = errors.WrapWithCode(actx.Err(), errors.ErrTransient,
			fmt.Sprintf("%s timed out after %s and was killed", spec.Argv[0], spec.Timeout),
			"The command may be hung; it will be retried if attempts remain.")
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		res.Class = errors.ErrTransient
		if res.ExitCode >= 0 && isPermanent(res.Stderr, res.ExitCode, spec.NonRetryable) {
			res.Class = errors.ErrPermanent
		}
		res.LastError = errors.WrapWithCode(runErr, res.Class,
			fmt.Sprintf("%s failed with exit code %d", spec.Argv[0], res.ExitCode),
			summarize(res.Stderr))
	}
	return res
}

// newSchedule returns base, 2*base, 4*base ... capped at ceiling, with no
// jitter and no overall elapsed limit (the attempt count bounds the loop).
func newSchedule(base, ceiling time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = ceiling
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// BackoffDelays returns the sleeps a spec would take between its attempts.
func BackoffDelays(base, ceiling time.Duration, maxAttempts int) []time.Duration {
	if maxAttempts <= 1 {
		return nil
	}
	s := newSchedule(base, ceiling)
	delays := make([]time.Duration, 0, maxAttempts-1)
	for i := 1; i < maxAttempts; i++ {
		delays = append(delays, s.NextBackOff())
	}
	return delays
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// summarize keeps the last non-empty stderr line as the error suggestion.
func summarize(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
