package service

import (
	"fmt"
	"time"

	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/exec"
)

// State is the controller's view of a managed service.
type State int

const (
	StateUnknown State = iota
	StateStopped
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Action names a lifecycle request.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

// Descriptor describes how to observe and drive one service. Every command
// is an argument vector.
type Descriptor struct {
	Name           string
	AliveCheck     []string
	StartCommand   []string
	StopCommand    []string
	VersionCommand []string
	PollInterval   time.Duration
	MaxWait        time.Duration
}

// Validate reports the first problem that would stop the descriptor from
// being usable.
func (d Descriptor) Validate() error {
	switch {
	case d.Name == "":
		return errors.New(errors.ErrConfig, "Service has no name", "Give every entry under 'services' a name.")
	case len(d.AliveCheck) == 0:
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Service '%s' has no alive check", d.Name),
			"Set services."+d.Name+".alive, e.g. [pgrep, -x, "+d.Name+"].")
	case d.PollInterval <= 0:
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Service '%s' has a non-positive poll interval", d.Name),
			"Set services."+d.Name+".poll_interval to something like 500ms.")
	case d.MaxWait < d.PollInterval:
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Service '%s' max_wait is shorter than its poll interval", d.Name),
			"max_wait must allow at least one poll.")
	}
	return nil
}

// polls is the number of alive checks one convergence wait performs: one
// right after the command and one per interval until MaxWait.
func (d Descriptor) polls() int {
	return int(d.MaxWait/d.PollInterval) + 1
}

// Outcome reports a Start, Stop or Restart. A Stuck outcome is a normal
// return, not an error; the caller decides whether to warn or retry.
type Outcome struct {
	Service string
	Action  Action
	State   State
	// Changed is true when a lifecycle command was issued.
	Changed bool
	// Stuck is true when polling exhausted MaxWait without reaching the
	// target state.
	Stuck bool
	// Polls counts alive checks made after the command.
	Polls   int
	Command exec.Result
	Elapsed time.Duration
}

// Condition returns a STUCK error describing a stuck outcome, or nil.
func (o Outcome) Condition() error {
	if !o.Stuck {
		return nil
	}
	return errors.New(errors.ErrStuck,
		fmt.Sprintf("%s did not finish %s after %d checks (still %s)", o.Service, verb(o.Action), o.Polls, o.State),
		"It may still be converging. Run 'meshctl status' in a moment, or check the service's own logs.")
}

func verb(a Action) string {
	switch a {
	case ActionStart:
		return "starting"
	case ActionStop:
		return "stopping"
	default:
		return "restarting"
	}
}
