package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/meshctl/internal/archive"
	"github.com/rileyhilliard/meshctl/internal/backup"
	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/lock"
	"github.com/rileyhilliard/meshctl/internal/ui"
)

// Command-specific flags
var (
	backupNoPrune         bool
	backupPruneKeep       int
	backupRestoreTo       []string
	backupExportSources   []string
	backupImportDest      string
	backupAllowUnexpected bool
)

// backupCmd groups the snapshot commands.
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot, restore and move mesh configuration",
	Long: `Keep timestamped snapshots of the Reticulum configuration directories
(~/.reticulum, ~/.nomadnetwork, ~/.lxmf, ~/.rnsh by default).

Destructive commands (prune, restore, delete, import) ask for confirmation,
or need --yes when there is no terminal.`,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create [dir...]",
	Short: "Snapshot the configuration directories",
	Long: `Copy the configured source directories (or the ones given) into a new
snapshot, then prune to backup.keep snapshots unless --no-prune is set or
backup.keep is 0. Directories that don't exist are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(app *App) error {
			return backupCreateCommand(cmd.Context(), cmd.OutOrStdout(), app, args, !backupNoPrune)
		})
	},
}

var backupListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List snapshots, oldest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(app *App) error {
			return backupListCommand(cmd.OutOrStdout(), app)
		})
	},
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete the oldest snapshots beyond the retention count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(app *App) error {
			keep := app.Config.Backup.Keep
			if cmd.Flags().Changed("keep") {
				keep = backupPruneKeep
			}
			return backupPruneCommand(cmd.Context(), cmd.OutOrStdout(), app, keep)
		})
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <snapshot-id>",
	Short: "Replace the live directories with a snapshot",
	Long: `Copy every directory in the snapshot back over the place it was captured
from. Use --to name=path to restore a directory somewhere else.

Examples:
  meshctl backup restore 20250301-120000.000000
  meshctl backup restore 20250301-120000.000000 --to .reticulum=/tmp/rns-check`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeSnapshotIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := parseTargets(backupRestoreTo)
		if err != nil {
			return err
		}
		return withApp(func(app *App) error {
			return backupRestoreCommand(cmd.Context(), cmd.OutOrStdout(), app, args[0], targets)
		})
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:               "delete <snapshot-id>",
	Aliases:           []string{"rm"},
	Short:             "Delete one snapshot",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeSnapshotIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(app *App) error {
			return backupDeleteCommand(cmd.Context(), cmd.OutOrStdout(), app, args[0])
		})
	},
}

var backupExportCmd = &cobra.Command{
	Use:   "export [archive]",
	Short: "Write the configuration directories to a .tar.gz",
	Long: `Write the configured source directories to a gzip-compressed tar archive,
each under its own name at the top level. The default archive name is
meshctl-config-<timestamp>.tar.gz in the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := ""
		if len(args) == 1 {
			dest = args[0]
		}
		return withApp(func(app *App) error {
			return backupExportCommand(cmd.Context(), cmd.OutOrStdout(), app, dest, backupExportSources)
		})
	},
}

var backupUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Remove the backup store lock",
	Long: `Remove the lock another meshctl process left on the backup store.

An abandoned lock (its process is gone, or it is older than backup.lock_stale)
is removed straight away. A lock that still looks live needs confirmation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(app *App) error {
			return backupUnlockCommand(cmd.OutOrStdout(), app)
		})
	},
}

var backupImportCmd = &cobra.Command{
	Use:   "import <archive>",
	Short: "Replace the configuration directories with an archive's contents",
	Long: `Validate a .tar.gz and, if it is safe, extract it over the configuration
directories. The current state is snapshotted first.

Archives with absolute paths or '..' components are always rejected. An
archive without any recognized configuration directory is only imported
with --allow-unexpected or after confirming the prompt.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(app *App) error {
			return backupImportCommand(cmd.Context(), cmd.OutOrStdout(), app, args[0], backupImportDest, backupAllowUnexpected)
		})
	},
}

func init() {
	backupCreateCmd.Flags().BoolVar(&backupNoPrune, "no-prune", false, "keep every snapshot after creating this one")
	AddJSONFlag(backupListCmd)
	backupPruneCmd.Flags().IntVar(&backupPruneKeep, "keep", backup.DefaultKeep, "number of snapshots to keep (default backup.keep)")
	backupRestoreCmd.Flags().StringArrayVar(&backupRestoreTo, "to", nil, "restore NAME to PATH instead of its original location (NAME=PATH)")
	backupExportCmd.Flags().StringArrayVar(&backupExportSources, "source", nil, "directory to export (repeatable; default backup.sources)")
	backupImportCmd.Flags().StringVar(&backupImportDest, "dest", "", "directory to extract into (default backup.import_root)")
	backupImportCmd.Flags().BoolVar(&backupAllowUnexpected, "allow-unexpected", false, "import even without a recognized configuration directory")

	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupPruneCmd, backupRestoreCmd,
		backupDeleteCmd, backupExportCmd, backupImportCmd, backupUnlockCmd)
	rootCmd.AddCommand(backupCmd)
}

// withApp opens the App for the duration of fn.
func withApp(fn func(app *App) error) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func backupCreateCommand(ctx context.Context, w io.Writer, app *App, sources []string, prune bool) error {
	spinner := ui.NewSpinner("Creating snapshot")
	spinner.SetOutput(func(s string) { fmt.Fprint(w, s) })
	spinner.Start()

	snap, err := app.Backups.CreateSnapshot(ctx, sources...)
	if err != nil {
		spinner.Fail()
		return err
	}
	if len(snap.Sources) == 0 {
		spinner.Warn("none of the source directories exist")
	} else {
		spinner.SetLabel(fmt.Sprintf("Created snapshot %s (%s, %s)",
			snap.ID, strings.Join(snap.Names(), ", "), ui.FormatBytes(snap.SizeBytes)))
		spinner.Success()
	}

	if !prune {
		return nil
	}
	return pruneToKeep(ctx, w, app)
}

// pruneToKeep applies backup.keep after a command added a snapshot. Zero
// keeps everything.
func pruneToKeep(ctx context.Context, w io.Writer, app *App) error {
	keep := app.Config.Backup.Keep
	if keep == 0 {
		return nil
	}
	pruned, err := app.Backups.PruneRetained(ctx, keep)
	for _, s := range pruned {
		fmt.Fprintf(w, "%s\n", ui.Muted("pruned "+s.ID))
	}
	return err
}

// SnapshotJSON is one snapshot in --json output.
type SnapshotJSON struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Sources   []string  `json:"sources"`
	SizeBytes int64     `json:"size_bytes"`
	Path      string    `json:"path"`
}

func backupListCommand(w io.Writer, app *App) error {
	snaps, err := app.Backups.ListSnapshots()
	if err != nil {
		return err
	}

	if MachineMode() {
		out := make([]SnapshotJSON, len(snaps))
		for i, s := range snaps {
			out[i] = SnapshotJSON{ID: s.ID, CreatedAt: s.CreatedAt, Sources: s.Names(), SizeBytes: s.SizeBytes, Path: s.Path}
		}
		return WriteJSONSuccess(w, out)
	}

	if len(snaps) == 0 {
		fmt.Fprintln(w, "No snapshots yet. Run 'meshctl backup create'.")
		return nil
	}
	rows := make([][]string, len(snaps))
	for i, s := range snaps {
		rows[i] = []string{
			s.ID,
			s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			ui.FormatBytes(s.SizeBytes),
			strings.Join(s.Names(), ", "),
		}
	}
	fmt.Fprintln(w, ui.RenderTable([]ui.TableColumn{
		{Title: "ID"}, {Title: "CREATED"}, {Title: "SIZE"}, {Title: "CONTENTS"},
	}, rows))
	fmt.Fprintf(w, "%s\n", ui.Muted(fmt.Sprintf("%d snapshot(s) in %s, keeping %d", len(snaps), app.Backups.Root(), app.Config.Backup.Keep)))
	return nil
}

func backupPruneCommand(ctx context.Context, w io.Writer, app *App, keep int) error {
	snaps, err := app.Backups.ListSnapshots()
	if err != nil {
		return err
	}
	if len(snaps) <= keep {
		fmt.Fprintf(w, "%d snapshot(s), nothing to prune (keeping %d)\n", len(snaps), keep)
		return nil
	}

	n := len(snaps) - keep
	ok, err := confirmDestructive(
		fmt.Sprintf("Delete the %d oldest snapshot(s)?", n),
		fmt.Sprintf("Keeps the newest %d. Oldest to go: %s", keep, snaps[0].ID))
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewNotConfirmed(fmt.Sprintf("prune %d snapshot(s)", n))
	}

	pruned, err := app.Backups.PruneRetained(ctx, keep)
	for _, s := range pruned {
		fmt.Fprintf(w, "%s pruned %s\n", ui.ToneOK.Style().Render(ui.SymbolSuccess), s.ID)
	}
	return err
}

func backupRestoreCommand(ctx context.Context, w io.Writer, app *App, id string, targets map[string]string) error {
	snap, err := app.Backups.Get(id)
	if err != nil {
		return err
	}

	var dests []string
	for _, src := range snap.Sources {
		dst := src.Path
		if t, ok := targets[src.Name]; ok {
			dst = t
		}
		dests = append(dests, dst)
	}
	ok, err := confirmDestructive(
		fmt.Sprintf("Restore snapshot %s?", id),
		"This replaces: "+strings.Join(dests, ", "))
	if err != nil {
		return err
	}

	restored, err := app.Backups.RestoreSnapshot(ctx, id, targets, ok)
	for _, name := range restored {
		fmt.Fprintf(w, "%s restored %s\n", ui.ToneOK.Style().Render(ui.SymbolSuccess), name)
	}
	if err == nil {
		app.Cache.InvalidateAll()
		fmt.Fprintln(w, ui.Muted("Restart the services to pick up the restored configuration: meshctl service restart rnsd"))
	}
	return err
}

func backupDeleteCommand(ctx context.Context, w io.Writer, app *App, id string) error {
	if _, err := app.Backups.Get(id); err != nil {
		return err
	}
	ok, err := confirmDestructive(fmt.Sprintf("Delete snapshot %s?", id), "This can't be undone.")
	if err != nil {
		return err
	}
	if err := app.Backups.DeleteSnapshot(ctx, id, ok); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s deleted %s\n", ui.ToneOK.Style().Render(ui.SymbolSuccess), id)
	return nil
}

// defaultExportName names an archive after the local time.
func defaultExportName(now time.Time) string {
	return fmt.Sprintf("meshctl-config-%s.tar.gz", now.Format("20060102-150405"))
}

func backupExportCommand(ctx context.Context, w io.Writer, app *App, dest string, sources []string) error {
	if dest == "" {
		dest = defaultExportName(time.Now())
	}
	spinner := ui.NewSpinner("Exporting to " + dest)
	spinner.SetOutput(func(s string) { fmt.Fprint(w, s) })
	spinner.Start()

	path, err := app.Backups.ExportArchive(ctx, dest, sources...)
	if err != nil {
		spinner.Fail()
		return err
	}
	spinner.SetLabel("Exported " + path)
	spinner.Success()
	return nil
}

func backupImportCommand(ctx context.Context, w io.Writer, app *App, path, dest string, allowUnexpected bool) error {
	validator := archive.NewValidator(app.Runner, app.Config.Backup.ExpectedDirs, app.file.Named("archive"))
	report, err := validator.Validate(ctx, path)
	if err != nil {
		return err
	}
	if !report.AllSafe {
		return archive.RejectionError(path, report)
	}

	if !report.HasExpectedContent {
		allowUnexpected, err = confirmOverride(allowUnexpected,
			"This archive has no recognized configuration directory. Import it anyway?",
			fmt.Sprintf("Top-level entries: %s. Expected one of: %s",
				strings.Join(report.TopLevel, ", "), strings.Join(validator.Expected(), ", ")))
		if err != nil {
			return err
		}
	}

	target := dest
	if target == "" {
		target = app.Config.Backup.ImportRoot
	}
	ok, err := confirmDestructive(
		fmt.Sprintf("Import %s into %s?", filepath.Base(path), target),
		fmt.Sprintf("Replaces: %s. The current state is snapshotted first.", strings.Join(report.TopLevel, ", ")))
	if err != nil {
		return err
	}

	res, err := app.Backups.ImportArchive(ctx, path, backup.ImportOptions{
		Confirmed:       ok,
		AllowUnexpected: allowUnexpected,
		Dest:            dest,
	})
	if res.Safety.ID != "" {
		fmt.Fprintf(w, "%s\n", ui.Muted("safety snapshot "+res.Safety.ID))
	}
	for _, name := range res.Restored {
		fmt.Fprintf(w, "%s imported %s\n", ui.ToneOK.Style().Render(ui.SymbolSuccess), name)
	}
	for _, name := range res.Skipped {
		fmt.Fprintf(w, "%s skipped %s\n", ui.ToneWarn.Style().Render(ui.SymbolWarning), name)
	}
	if err != nil {
		return err
	}
	app.Cache.InvalidateAll()
	return pruneToKeep(ctx, w, app)
}

func backupUnlockCommand(w io.Writer, app *App) error {
	dir := app.Backups.LockDir()
	if !lock.Held(dir) {
		fmt.Fprintln(w, "Backup store is not locked.")
		return nil
	}

	holder := lock.Holder(dir)
	if !lock.Abandoned(dir, app.Backups.LockStale()) {
		ok, err := confirmDestructive(
			fmt.Sprintf("Remove the lock held by %s?", holder),
			"That process may still be writing snapshots.")
		if err != nil {
			return err
		}
		if !ok {
			return errors.NewNotConfirmed("remove a live lock")
		}
	}

	if err := lock.ForceRelease(dir); err != nil {
		return err
	}
	app.Log.Warn("removed backup lock held by %s", holder)
	fmt.Fprintf(w, "%s removed lock held by %s\n", ui.ToneOK.Style().Render(ui.SymbolSuccess), holder)
	return nil
}

// parseTargets turns NAME=PATH flags into a restore target map.
func parseTargets(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	targets := make(map[string]string, len(flags))
	for _, f := range flags {
		name, path, ok := strings.Cut(f, "=")
		if !ok || name == "" || path == "" {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("'%s' isn't NAME=PATH", f),
				"Example: --to .reticulum=/tmp/rns-check")
		}
		targets[name] = path
	}
	return targets, nil
}

// completeSnapshotIDs offers snapshot IDs for shell completion.
func completeSnapshotIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var ids []string
	_ = withApp(func(app *App) error {
		snaps, err := app.Backups.ListSnapshots()
		for i := len(snaps) - 1; i >= 0; i-- {
			ids = append(ids, snaps[i].ID)
		}
		return err
	})
	return ids, cobra.ShellCompDirectiveNoFileComp
}
