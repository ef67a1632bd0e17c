// Package testing provides test doubles for the exec package.
package testing

import (
	"context"
	"strings"
	"sync"

	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/exec"
)

// Handler produces the result for a matched invocation.
type Handler func(spec exec.Spec) exec.Result

type route struct {
	prefix string
	fn     Handler
}

// Call records one invocation of Run.
type Call struct {
	Argv []string
	Spec exec.Spec
}

// FakeRunner is a scripted exec.CommandRunner. Invocations are matched
// against registered argv prefixes in registration order; unmatched
// invocations return Unmatched.
type FakeRunner struct {
	mu     sync.Mutex
	routes []route

	// Calls lists every invocation in order.
	Calls []Call

	// Unmatched is returned when no route matches.
	Unmatched exec.Result
}

// NewFakeRunner creates a runner that fails unmatched commands permanently.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Unmatched: Failure(127, "fake: no route for command"),
	}
}

// On routes invocations whose space-joined argv starts with prefix to fn.
func (f *FakeRunner) On(prefix string, fn Handler) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, route{prefix: prefix, fn: fn})
	return f
}

// Returns routes prefix to a fixed result.
func (f *FakeRunner) Returns(prefix string, res exec.Result) *FakeRunner {
	return f.On(prefix, func(exec.Spec) exec.Result { return res })
}

// Run implements exec.CommandRunner.
func (f *FakeRunner) Run(ctx context.Context, spec exec.Spec) exec.Result {
	joined := strings.Join(spec.Argv, " ")

	f.mu.Lock()
	f.Calls = append(f.Calls, Call{Argv: append([]string(nil), spec.Argv...), Spec: spec})
	var fn Handler
	for _, r := range f.routes {
		if strings.HasPrefix(joined, r.prefix) {
			fn = r.fn
			break
		}
	}
	unmatched := f.Unmatched
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return exec.Result{
			Attempts:  1,
			ExitCode:  -1,
			Class:     errors.ErrCancelled,
			LastError: errors.WrapWithCode(err, errors.ErrCancelled, "cancelled", ""),
		}
	}

	res := unmatched
	if fn != nil {
		res = fn(spec)
	}
	if res.Attempts == 0 {
		res.Attempts = 1
	}
	return res
}

// CallCount returns how many invocations started with prefix.
func (f *FakeRunner) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if strings.HasPrefix(strings.Join(c.Argv, " "), prefix) {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls but keeps routes.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = nil
}

// Success builds a successful result with the given stdout.
func Success(stdout string) exec.Result {
	return exec.Result{Succeeded: true, Attempts: 1, ExitCode: 0, Stdout: stdout}
}

// Failure builds a transient failure with the given exit code and stderr.
func Failure(exitCode int, stderr string) exec.Result {
	class := errors.ErrTransient
	if exitCode == 127 {
		class = errors.ErrPermanent
	}
	return exec.Result{
		Attempts: 1,
		ExitCode: exitCode,
		Stderr:   stderr,
		Class:    class,
		LastError: errors.New(class,
			"fake command failed", stderr),
	}
}
