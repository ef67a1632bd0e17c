package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/meshctl/internal/config"
	"github.com/rileyhilliard/meshctl/internal/ui"
)

var initForce bool

// initCmd writes a starter config file.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the defaults",
	Long: `Write the default configuration to ~/.config/meshctl/config.yaml (or the
path given with --config) so it can be edited.

Examples:
  meshctl init
  meshctl init --force
  meshctl --config /etc/meshctl.yaml init`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initCommand(cmd.OutOrStdout(), Config(), initForce)
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing config")
	rootCmd.AddCommand(initCmd)
}

func initCommand(w io.Writer, path string, force bool) error {
	if path == "" {
		path = config.DefaultPath()
	}
	path = config.ExpandPath(path)

	cfg := config.DefaultConfig()
	if err := config.WriteFile(path, cfg, force); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s Wrote %s\n", ui.ToneOK.Style().Render(ui.SymbolSuccess), path)
	fmt.Fprintln(w, ui.Muted("Managed services: "+strings.Join(cfg.ServiceNames(), ", ")))
	fmt.Fprintln(w, ui.Muted("Next: meshctl status"))
	return nil
}
