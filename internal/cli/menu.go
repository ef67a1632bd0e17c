package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/service"
)

// Action is one entry of the interactive menu.
type Action int

const (
	ActionStatus Action = iota
	ActionStartService
	ActionStopService
	ActionRestartService
	ActionCreateBackup
	ActionListBackups
	ActionRestoreBackup
	ActionExportArchive
	ActionImportArchive
	ActionPruneBackups
	ActionQuit
)

// menuOrder is the order actions are offered in.
var menuOrder = []Action{
	ActionStatus,
	ActionStartService,
	ActionStopService,
	ActionRestartService,
	ActionCreateBackup,
	ActionListBackups,
	ActionRestoreBackup,
	ActionExportArchive,
	ActionImportArchive,
	ActionPruneBackups,
	ActionQuit,
}

func (a Action) String() string {
	switch a {
	case ActionStatus:
		return "status"
	case ActionStartService:
		return "start"
	case ActionStopService:
		return "stop"
	case ActionRestartService:
		return "restart"
	case ActionCreateBackup:
		return "backup"
	case ActionListBackups:
		return "list"
	case ActionRestoreBackup:
		return "restore"
	case ActionExportArchive:
		return "export"
	case ActionImportArchive:
		return "import"
	case ActionPruneBackups:
		return "prune"
	case ActionQuit:
		return "quit"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// parseAction maps a String() value back to its Action.
func parseAction(s string) (Action, bool) {
	for _, a := range menuOrder {
		if a.String() == s {
			return a, true
		}
	}
	return 0, false
}

type menuHandler struct {
	Label string
	Run   func(ctx context.Context, w io.Writer, app *App) error
}

// menuHandlers is the dispatch table for every action except quit.
func menuHandlers() map[Action]menuHandler {
	return map[Action]menuHandler{
		ActionStatus: {"Show status", func(ctx context.Context, w io.Writer, app *App) error {
			return showStatus(ctx, w, app, false, "")
		}},
		ActionStartService:   {"Start a service", serviceMenuAction(service.ActionStart)},
		ActionStopService:    {"Stop a service", serviceMenuAction(service.ActionStop)},
		ActionRestartService: {"Restart a service", serviceMenuAction(service.ActionRestart)},
		ActionCreateBackup: {"Create a backup", func(ctx context.Context, w io.Writer, app *App) error {
			return backupCreateCommand(ctx, w, app, nil, true)
		}},
		ActionListBackups: {"List backups", func(ctx context.Context, w io.Writer, app *App) error {
			return backupListCommand(w, app)
		}},
		ActionRestoreBackup: {"Restore a backup", func(ctx context.Context, w io.Writer, app *App) error {
			id, err := pickSnapshot(w, app, "Restore which snapshot?")
			if err != nil || id == "" {
				return err
			}
			return backupRestoreCommand(ctx, w, app, id, nil)
		}},
		ActionExportArchive: {"Export configuration to an archive", func(ctx context.Context, w io.Writer, app *App) error {
			dest, err := inputFunc("Write the archive to", defaultExportName(time.Now()))
			if err != nil {
				return err
			}
			return backupExportCommand(ctx, w, app, dest, nil)
		}},
		ActionImportArchive: {"Import configuration from an archive", func(ctx context.Context, w io.Writer, app *App) error {
			path, err := inputFunc("Archive to import", "")
			if err != nil || path == "" {
				return err
			}
			return backupImportCommand(ctx, w, app, path, "", false)
		}},
		ActionPruneBackups: {"Prune old backups", func(ctx context.Context, w io.Writer, app *App) error {
			if app.Config.Backup.Keep == 0 {
				fmt.Fprintln(w, "backup.keep is 0, so no retention limit is configured.")
				return nil
			}
			return backupPruneCommand(ctx, w, app, app.Config.Backup.Keep)
		}},
	}
}

func serviceMenuAction(action service.Action) func(ctx context.Context, w io.Writer, app *App) error {
	return func(ctx context.Context, w io.Writer, app *App) error {
		options := make([]menuOption, 0, len(app.ServiceNames()))
		for _, name := range app.ServiceNames() {
			options = append(options, menuOption{Label: name, Value: name})
		}
		name, err := selectFunc(fmt.Sprintf("Service to %s", action), options)
		if err != nil || name == "" {
			return err
		}
		return serviceCommand(ctx, w, app, action, name)
	}
}

// pickSnapshot asks for a snapshot, newest first. An empty ID means there
// was nothing to pick or the user backed out.
func pickSnapshot(w io.Writer, app *App, title string) (string, error) {
	snaps, err := app.Backups.ListSnapshots()
	if err != nil {
		return "", err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No snapshots yet.")
		return "", nil
	}
	options := make([]menuOption, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		s := snaps[i]
		options = append(options, menuOption{
			Label: fmt.Sprintf("%s  %s", s.ID, s.CreatedAt.Local().Format("Jan 2 15:04")),
			Value: s.ID,
		})
	}
	return selectFunc(title, options)
}

type menuOption struct {
	Label string
	Value string
}

// selectFunc shows a single-choice prompt and returns the chosen Value.
// Backing out returns "". Tests replace it.
var selectFunc = func(title string, options []menuOption) (string, error) {
	opts := make([]huh.Option[string], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o.Label, o.Value)
	}
	var choice string
	err := huh.NewSelect[string]().
		Title(title).
		Options(opts...).
		Value(&choice).
		Run()
	return choice, promptErr(err)
}

// inputFunc asks for one line of text; an empty answer takes the
// placeholder. Backing out returns "". Tests replace it.
var inputFunc = func(title, placeholder string) (string, error) {
	var value string
	err := huh.NewInput().
		Title(title).
		Placeholder(placeholder).
		Value(&value).
		Run()
	if err != nil {
		return "", promptErr(err)
	}
	if value == "" {
		value = placeholder
	}
	return value, nil
}

func promptErr(err error) error {
	if err == nil || errors.Is(err, huh.ErrUserAborted) {
		return nil
	}
	return errors.WrapWithCode(err, errors.ErrConfig, "Failed to get user input", "")
}

// menuCommand runs the interactive menu until the user quits.
func menuCommand(ctx context.Context) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()
	return runMenu(ctx, os.Stdout, app)
}

// runMenu loops over the action prompt. An action's error is shown and
// the menu carries on.
func runMenu(ctx context.Context, w io.Writer, app *App) error {
	handlers := menuHandlers()
	options := make([]menuOption, 0, len(menuOrder))
	for _, a := range menuOrder {
		label := "Quit"
		if h, ok := handlers[a]; ok {
			label = h.Label
		}
		options = append(options, menuOption{Label: label, Value: a.String()})
	}

	for ctx.Err() == nil {
		choice, err := selectFunc("What would you like to do?", options)
		if err != nil {
			return err
		}
		action, ok := parseAction(choice)
		if !ok || action == ActionQuit {
			return nil
		}

		if err := handlers[action].Run(ctx, w, app); err != nil {
			app.Log.Warn("menu action %s failed: %v", action, err)
			fmt.Fprintln(w, err)
		}
		fmt.Fprintln(w)
	}
	return nil
}
