package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/meshctl/internal/config"
	"github.com/rileyhilliard/meshctl/internal/service"
	"github.com/rileyhilliard/meshctl/internal/ui"
)

// serviceCmd groups the lifecycle commands.
var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Start, stop or restart a managed service",
	Long: `Drive a service through its configured start/stop commands and wait,
polling its alive check, until it reaches the requested state.

A service that does not get there within its max_wait is reported as
stuck (exit status 4); meshctl never loops on it.`,
}

func newServiceActionCmd(action service.Action, short string) *cobra.Command {
	return &cobra.Command{
		Use:               string(action) + " <service>",
		Short:             short,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeServiceNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()
			return serviceCommand(cmd.Context(), cmd.OutOrStdout(), app, action, args[0])
		},
	}
}

func init() {
	serviceCmd.AddCommand(
		newServiceActionCmd(service.ActionStart, "Start a service and wait until it is running"),
		newServiceActionCmd(service.ActionStop, "Stop a service and wait until it is stopped"),
		newServiceActionCmd(service.ActionRestart, "Stop then start a service"),
	)
	rootCmd.AddCommand(serviceCmd)
}

// serviceCommand runs one lifecycle action with a spinner.
func serviceCommand(ctx context.Context, w io.Writer, app *App, action service.Action, name string) error {
	ctrl, err := app.Service(ctx, name)
	if ctrl == nil {
		return err
	}
	if err != nil {
		// The action re-checks liveness itself; a failed startup probe is
		// only worth a log line.
		app.Log.Warn("initial check of %s failed: %v", name, firstLine(err.Error()))
	}

	spinner := ui.NewSpinner(fmt.Sprintf("%s %s", actionLabel(action), name))
	spinner.SetOutput(func(s string) { fmt.Fprint(w, s) })
	spinner.Start()

	var out service.Outcome
	switch action {
	case service.ActionStart:
		out, err = ctrl.Start(ctx)
	case service.ActionStop:
		out, err = ctrl.Stop(ctx)
	default:
		out, err = ctrl.Restart(ctx)
	}

	switch {
	case err != nil:
		spinner.Fail()
		return err
	case out.Stuck:
		spinner.Warn(fmt.Sprintf("still %s", out.State))
		return out.Condition()
	case !out.Changed:
		spinner.Skip("already " + out.State.String())
	default:
		spinner.Success()
	}
	return nil
}

func actionLabel(a service.Action) string {
	s := string(a)
	if strings.HasSuffix(s, "p") {
		s += "p"
	}
	return strings.ToUpper(s[:1]) + s[1:] + "ing"
}

// completeServiceNames offers configured service names for shell completion.
func completeServiceNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	cfg, _, err := config.LoadOrDefault(Config())
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return cfg.ServiceNames(), cobra.ShellCompDirectiveNoFileComp
}
