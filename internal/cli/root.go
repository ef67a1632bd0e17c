package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/ui"
)

// Global flags
var (
	cfgFile string
	yesFlag bool
	noColor bool
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "meshctl",
	Short: "Keep a Reticulum mesh node running and its configuration backed up",
	Long: `meshctl supervises the Reticulum daemon (rnsd) and companion services,
and keeps timestamped snapshots of their configuration directories.

Run without arguments on a terminal to open the interactive menu.

Examples:
  meshctl status
  meshctl service restart rnsd
  meshctl backup create
  meshctl backup import ~/mesh-config.tar.gz`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || os.Getenv("NO_COLOR") != "" {
			ui.DisableColors()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !interactive() {
			return cmd.Help()
		}
		return menuCommand(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/meshctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "confirm destructive operations without prompting")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Config returns the --config flag value.
func Config() string {
	return cfgFile
}

// Execute runs the root command and exits with a status derived from the
// error class.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err == nil {
		return
	}
	if MachineMode() {
		_ = WriteJSONFromError(os.Stdout, err)
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps an error class to a process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	switch errors.CodeOf(err) {
	case errors.ErrSecurity:
		return 3
	case errors.ErrStuck:
		return 4
	case errors.ErrLock:
		return 5
	case errors.ErrCancelled:
		return 130
	default:
		return 1
	}
}
