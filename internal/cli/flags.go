package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/ui"
)

// AddJSONFlag registers --json on a command.
func AddJSONFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&machineMode, "json", false, "output in JSON format")
}

// ParseInterval parses a refresh interval flag, rejecting values below min.
func ParseInterval(flag string, min time.Duration) (time.Duration, error) {
	d, err := time.ParseDuration(flag)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid interval", flag),
			"Try something like 2s, 5s, or 1m.")
	}
	if d < min {
		return 0, errors.New(errors.ErrConfig,
			fmt.Sprintf("Interval %s is too short", d),
			fmt.Sprintf("Use at least %s.", min))
	}
	return d, nil
}

// firstLine keeps the headline of a multi-line error message.
func firstLine(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, ui.SymbolFail))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
