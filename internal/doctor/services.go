package doctor

import (
	"context"
	"fmt"

	"github.com/rileyhilliard/meshctl/internal/service"
)

// ServiceCheck runs a fresh alive check. A stopped service is a warning;
// an alive check that can't run at all is a failure.
type ServiceCheck struct {
	Controller *service.Controller
}

func (c *ServiceCheck) Name() string     { return "service_" + c.Controller.Name() }
func (c *ServiceCheck) Category() string { return CategoryServices }

func (c *ServiceCheck) Run(ctx context.Context) CheckResult {
	name := c.Controller.Name()
	state, err := c.Controller.Refresh(ctx)
	switch {
	case err != nil:
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("%s: alive check failed", name),
			Suggestion: firstLine(err),
		}
	case state == service.StateRunning:
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: fmt.Sprintf("%s is running", name),
		}
	default:
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("%s is %s", name, state),
			Suggestion: fmt.Sprintf("Start it with 'meshctl service start %s'.", name),
		}
	}
}

// Fix leaves service state to 'meshctl service'.
func (c *ServiceCheck) Fix() error {
	return nil
}
