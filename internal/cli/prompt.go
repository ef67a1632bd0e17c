package cli

import (
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/rileyhilliard/meshctl/internal/errors"
)

// interactive reports whether prompts can be shown. Tests replace it.
var interactive = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// confirmFunc shows a yes/no prompt. Tests replace it.
var confirmFunc = func(title, description string) (bool, error) {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to get user input",
			"Re-run with --yes to skip the prompt.")
	}
	return ok, nil
}

// confirmDestructive decides whether a destructive operation may go ahead.
// --yes answers for the user. Without a terminal nothing is asked and the
// answer is no, which the operation reports as a missing confirmation.
func confirmDestructive(title, description string) (bool, error) {
	if yesFlag {
		return true, nil
	}
	if !interactive() {
		return false, nil
	}
	return confirmFunc(title, description)
}

// confirmOverride asks for a one-off exception to a safety check. --yes
// never answers it; only the explicit flag or a prompt does.
func confirmOverride(flag bool, title, description string) (bool, error) {
	if flag {
		return true, nil
	}
	if !interactive() {
		return false, nil
	}
	return confirmFunc(title, description)
}
