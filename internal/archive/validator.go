package archive

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/exec"
	"github.com/rileyhilliard/meshctl/internal/logger"
)

// Stderr from tar that no retry will fix.
var unreadableArchive = []*regexp.Regexp{
	regexp.MustCompile(`not in gzip format`),
	regexp.MustCompile(`Cannot open`),
	regexp.MustCompile(`Unrecognized archive format`),
	regexp.MustCompile(`Error is not recoverable`),
}

// Validator lists a gzip-compressed tar archive through the command runner
// and classifies its entries. It never extracts.
type Validator struct {
	runner   exec.CommandRunner
	expected []string
	log      logger.Logger
}

// NewValidator creates a Validator. An empty expected list means
// DefaultExpectedDirs.
func NewValidator(runner exec.CommandRunner, expected []string, log logger.Logger) *Validator {
	if log == nil {
		log = logger.Noop()
	}
	return &Validator{runner: runner, expected: expected, log: log}
}

// Expected returns the top-level directory names the validator looks for.
func (v *Validator) Expected() []string {
	if len(v.expected) == 0 {
		return DefaultExpectedDirs
	}
	return v.expected
}

// Validate returns the report for the archive at path. Unsafe entries are
// logged as a security event here, so every caller gets the record even if
// it drops the report.
func (v *Validator) Validate(ctx context.Context, path string) (Report, error) {
	res := v.runner.Run(ctx, exec.Spec{
		Argv:         []string{"tar", "-tzf", path},
		NonRetryable: unreadableArchive,
	})
	if !res.Succeeded {
		code := errors.ErrPermanent
		if res.Class == errors.ErrCancelled {
			code = errors.ErrCancelled
		}
		return Report{}, errors.WrapWithCode(res.LastError, code,
			fmt.Sprintf("Couldn't read archive %s", path),
			"Make sure it is a .tar.gz created by 'meshctl backup export'.")
	}

	report := Inspect(listing(res.Stdout), v.Expected())
	if !report.AllSafe {
		names := make([]string, 0, len(report.Unsafe))
		for _, e := range report.Unsafe {
			names = append(names, fmt.Sprintf("%q (%s)", e.RawPath, e.Classification))
		}
		v.log.Security("rejected archive %s: %d unsafe entries: %s",
			path, len(report.Unsafe), strings.Join(names, ", "))
	}
	return report, nil
}

// listing splits tar -t output into entry paths.
func listing(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		paths = append(paths, line)
	}
	return paths
}

// RejectionError builds the SECURITY error for an unsafe report.
func RejectionError(path string, r Report) error {
	first := ""
	if len(r.Unsafe) > 0 {
		first = r.Unsafe[0].RawPath
	}
	return errors.New(errors.ErrSecurity,
		fmt.Sprintf("Refusing to import %s: %d entries would write outside the target (first: %q)",
			path, len(r.Unsafe), first),
		"Nothing was extracted. Only import archives you created with 'meshctl backup export'.")
}
