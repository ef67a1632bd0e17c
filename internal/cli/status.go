package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/monitor"
	"github.com/rileyhilliard/meshctl/internal/ui"
)

var (
	statusWatch    bool
	statusInterval string
)

// statusCmd shows the service and backup dashboard.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service state and the latest backup",
	Long: `Show whether each managed service is running, its installed version,
and the state of the snapshot store.

Readings are cached for cache.ttl, so repeated calls within that window
do not re-probe the services. Use --watch for a live dashboard.

Examples:
  meshctl status
  meshctl status --json
  meshctl status --watch --interval 5s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusCommand(cmd.Context(), cmd.OutOrStdout(), statusWatch, statusInterval)
	},
}

func init() {
	AddJSONFlag(statusCmd)
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "keep refreshing in a full-screen dashboard")
	statusCmd.Flags().StringVar(&statusInterval, "interval", monitor.DefaultInterval.String(), "refresh interval for --watch")
	rootCmd.AddCommand(statusCmd)
}

// StatusOutput is the --json form of the dashboard.
type StatusOutput struct {
	Services   []ServiceStatusJSON `json:"services"`
	Snapshots  int                 `json:"snapshots"`
	Latest     string              `json:"latest,omitempty"`
	BackupRoot string              `json:"backup_root"`
	LogPath    string              `json:"log_path"`
	ConfigPath string              `json:"config_path,omitempty"`
}

// ServiceStatusJSON is one service in StatusOutput.
type ServiceStatusJSON struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

func statusCommand(ctx context.Context, w io.Writer, watch bool, interval string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()
	return showStatus(ctx, w, app, watch, interval)
}

// showStatus prints the dashboard once, or runs it live when watch is set.
func showStatus(ctx context.Context, w io.Writer, app *App, watch bool, interval string) error {
	collector := app.Collector(ctx)

	if watch {
		d, err := ParseInterval(interval, monitor.MinInterval)
		if err != nil {
			return err
		}
		if !interactive() {
			return errors.New(errors.ErrConfig,
				"--watch needs a terminal",
				"Run 'meshctl status' without --watch when piping output.")
		}
		return monitor.Run(ctx, collector, d)
	}

	report := collector.Collect(ctx)
	if MachineMode() {
		return WriteJSONSuccess(w, app.statusOutput(report))
	}

	fmt.Fprint(w, monitor.Render(report))
	fmt.Fprintln(w)
	configPath := app.ConfigPath
	if configPath == "" {
		configPath = "built-in defaults"
	}
	fmt.Fprint(w, ui.RenderKeyValues([]ui.KeyValue{
		{Key: "config", Value: configPath},
		{Key: "log", Value: app.file.Path()},
		{Key: "backups", Value: app.Backups.Root()},
	}))
	return nil
}

func (a *App) statusOutput(r monitor.Report) StatusOutput {
	out := StatusOutput{
		Services:   make([]ServiceStatusJSON, 0, len(r.Services)),
		Snapshots:  len(r.Snapshots),
		BackupRoot: a.Backups.Root(),
		LogPath:    a.file.Path(),
		ConfigPath: a.ConfigPath,
	}
	for _, s := range r.Services {
		js := ServiceStatusJSON{Name: s.Name, State: s.State.String(), Version: s.Version}
		if s.Err != nil {
			js.Error = firstLine(s.Err.Error())
		}
		out.Services = append(out.Services, js)
	}
	if latest, ok := r.Latest(); ok {
		out.Latest = latest.ID
	}
	return out
}
