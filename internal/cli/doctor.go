package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/rileyhilliard/meshctl/internal/doctor"
	"github.com/rileyhilliard/meshctl/internal/ui"
)

var doctorFix bool

// doctorCmd diagnoses configuration and environment issues
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose configuration and environment issues",
	Long: `Run diagnostic checks to identify and fix common issues.

Checks:
  - Configuration file validity
  - Every configured command can be found in PATH
  - Each service's alive check (run fresh, bypassing the cache)
  - Log and backup directories are writable
  - Abandoned backup locks

Examples:
  meshctl doctor
  meshctl doctor --fix
  meshctl doctor --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(app *App) error {
			return doctorCommand(cmd.Context(), cmd.OutOrStdout(), app, doctorFix)
		})
	},
}

func init() {
	AddJSONFlag(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "attempt automatic fixes where possible")
	rootCmd.AddCommand(doctorCmd)
}

// DoctorOutput is the --json form of the report.
type DoctorOutput struct {
	Categories []CategoryOutput `json:"categories"`
	Summary    SummaryOutput    `json:"summary"`
}

type CategoryOutput struct {
	Name    string               `json:"name"`
	Results []doctor.CheckResult `json:"results"`
}

type SummaryOutput struct {
	Pass     int  `json:"pass"`
	Warn     int  `json:"warn"`
	Fail     int  `json:"fail"`
	Fixable  int  `json:"fixable"`
	AllClear bool `json:"all_clear"`
}

func doctorCommand(ctx context.Context, w io.Writer, app *App, fix bool) error {
	checks := app.doctorChecks(ctx)
	results := doctor.RunAll(ctx, checks)
	if fix {
		results = doctor.FixAll(ctx, checks, results)
	}

	if MachineMode() {
		return WriteJSONSuccess(w, doctorOutput(checks, results))
	}
	renderDoctorText(w, checks, results, fix)
	return nil
}

// doctorChecks lists every check for the loaded config.
func (a *App) doctorChecks(ctx context.Context) []doctor.Check {
	checks := []doctor.Check{&doctor.ConfigCheck{ConfigPath: Config()}}

	for _, name := range a.ServiceNames() {
		sc := a.Config.Services[name]
		checks = append(checks,
			&doctor.CommandCheck{Owner: name + " alive", Argv: sc.Alive, Required: true},
			&doctor.CommandCheck{Owner: name + " start", Argv: sc.Start},
			&doctor.CommandCheck{Owner: name + " stop", Argv: sc.Stop},
			&doctor.CommandCheck{Owner: name + " version", Argv: sc.Version},
		)
	}
	checks = append(checks, &doctor.CommandCheck{Owner: "backup archives", Argv: []string{"tar"}, Required: true})

	for _, name := range a.ServiceNames() {
		if c, _ := a.Service(ctx, name); c != nil {
			checks = append(checks, &doctor.ServiceCheck{Controller: c})
		}
	}

	return append(checks,
		&doctor.DirCheck{Label: "log", Path: filepath.Dir(a.Config.Log.Path)},
		&doctor.DirCheck{Label: "backup", Path: a.Backups.Root()},
		&doctor.LockCheck{Dir: a.Backups.LockDir(), Stale: a.Backups.LockStale()},
	)
}

func doctorOutput(checks []doctor.Check, results []doctor.CheckResult) DoctorOutput {
	grouped := doctor.GroupByCategory(checks)
	out := DoctorOutput{Categories: make([]CategoryOutput, 0, len(grouped))}
	for _, cat := range doctor.CategoryOrder {
		indices, ok := grouped[cat]
		if !ok {
			continue
		}
		co := CategoryOutput{Name: cat}
		for _, i := range indices {
			co.Results = append(co.Results, results[i])
		}
		out.Categories = append(out.Categories, co)
	}

	counts := doctor.CountByStatus(results)
	out.Summary = SummaryOutput{
		Pass:     counts[doctor.StatusPass],
		Warn:     counts[doctor.StatusWarn],
		Fail:     counts[doctor.StatusFail],
		Fixable:  doctor.FixableCount(results),
		AllClear: !doctor.HasIssues(results),
	}
	return out
}

func renderDoctorText(w io.Writer, checks []doctor.Check, results []doctor.CheckResult, fixed bool) {
	headerStyle := lipgloss.NewStyle().Bold(true)

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("meshctl Diagnostic Report"))
	fmt.Fprintln(w)

	grouped := doctor.GroupByCategory(checks)
	for _, category := range doctor.CategoryOrder {
		indices, ok := grouped[category]
		if !ok {
			continue
		}
		fmt.Fprintln(w, headerStyle.Render(category))
		for _, i := range indices {
			renderCheckResult(w, results[i])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, strings.Repeat("━", 60))
	fmt.Fprintln(w)

	if !doctor.HasIssues(results) {
		fmt.Fprintf(w, "%s %s\n", ui.ToneOK.Style().Render(ui.SymbolSuccess), doctor.Summary(results))
	} else {
		tone := ui.ToneWarn
		if doctor.HasFailures(results) {
			tone = ui.ToneError
		}
		fmt.Fprintf(w, "%s %s\n", tone.Style().Render(ui.SymbolFail), doctor.Summary(results))
		if doctor.FixableCount(results) > 0 && !fixed {
			fmt.Fprintf(w, "\n  Run with %s to attempt automatic fixes where possible.\n", ui.Muted("--fix"))
		}
	}
	fmt.Fprintln(w)
}

func renderCheckResult(w io.Writer, result doctor.CheckResult) {
	var symbol string
	var tone ui.Tone
	switch result.Status {
	case doctor.StatusPass:
		symbol, tone = ui.SymbolComplete, ui.ToneOK
	case doctor.StatusWarn:
		symbol, tone = ui.SymbolWarning, ui.ToneWarn
	default:
		symbol, tone = ui.SymbolFail, ui.ToneError
	}

	fmt.Fprintf(w, "  %s %s\n", tone.Style().Render(symbol), result.Message)
	if result.Suggestion != "" && result.Status != doctor.StatusPass {
		for _, line := range strings.Split(result.Suggestion, "\n") {
			fmt.Fprintf(w, "    %s\n", ui.Muted(line))
		}
	}
}
