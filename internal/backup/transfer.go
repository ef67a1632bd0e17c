package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/hashicorp/go-multierror"

	"github.com/rileyhilliard/meshctl/internal/archive"
	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/exec"
)

var tarFatal = []*regexp.Regexp{
	regexp.MustCompile(`Cannot open`),
	regexp.MustCompile(`No space left on device`),
	regexp.MustCompile(`Error is not recoverable`),
	regexp.MustCompile(`not in gzip format`),
}

// ExportArchive writes the existing directories in sources (the configured
// sources when empty) to a gzip-compressed tar at dest, each under its
// base name at the top level. The archive is written next to dest and
// renamed into place when complete.
func (m *Manager) ExportArchive(ctx context.Context, dest string, sources ...string) (string, error) {
	if dest == "" {
		return "", errors.New(errors.ErrPermanent, "No export path given", "Pass the archive path to write.")
	}
	if len(sources) == 0 {
		sources = m.cfg.Sources
	}
	if err := checkSourceNames(sources); err != nil {
		return "", err
	}

	argv := []string{"tar", "-czf", ""}
	var included []string
	for _, src := range sources {
		ok, err := exists(src)
		if err != nil {
			return "", errors.WrapWithCode(err, errors.ErrResource, "Can't read "+src, "Check your permissions.")
		}
		if !ok {
			continue
		}
		abs, err := filepath.Abs(src)
		if err != nil {
			return "", errors.WrapWithCode(err, errors.ErrResource, "Can't resolve "+src, "")
		}
		argv = append(argv, "-C", filepath.Dir(abs), filepath.Base(abs))
		included = append(included, filepath.Base(abs))
	}
	if len(included) == 0 {
		return "", errors.New(errors.ErrPermanent,
			"None of the configured directories exist, nothing to export",
			"Check backup.sources in your config.")
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrResource, "Can't resolve "+dest, "")
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrResource, "Can't create "+filepath.Dir(abs), "Check your permissions.")
	}
	partial := abs + ".partial"
	argv[2] = partial

	res := m.runner.Run(ctx, exec.Spec{Argv: argv, NonRetryable: tarFatal})
	if !res.Succeeded {
		_ = os.Remove(partial)
		return "", errors.WrapWithCode(res.LastError, res.Class,
			fmt.Sprintf("Couldn't write %s after %d attempt(s)", dest, res.Attempts),
			"Check free space at the destination.")
	}
	if err := os.Rename(partial, abs); err != nil {
		_ = os.Remove(partial)
		return "", errors.WrapWithCode(err, errors.ErrResource, "Couldn't finalize "+dest, "")
	}
	m.log.Info("exported %v to %s", included, abs)
	return abs, nil
}

// ImportOptions carry the caller's consent for an import.
type ImportOptions struct {
	// Confirmed must be true; an import replaces live directories.
	Confirmed bool
	// AllowUnexpected lets an archive without any recognized directory
	// through. It never admits unsafe entries.
	AllowUnexpected bool
	// Dest overrides the configured import root.
	Dest string
}

// ImportResult reports what an import did.
type ImportResult struct {
	// Safety is the snapshot of the current state taken before validation.
	Safety   Snapshot
	Report   archive.Report
	Restored []string
	// Skipped are top-level archive members left out: files, and
	// unrecognized directories the safety snapshot could not cover.
	Skipped []string
}

// ImportArchive replaces live configuration directories with the contents
// of the archive at path. The current state is always snapshotted first.
// The archive is then validated and nothing is extracted unless every
// entry is safe and either a recognized directory is present or
// AllowUnexpected is set.
//
// Only recognized directories replace what is under the destination, and
// the safety snapshot captures each of them there. With AllowUnexpected,
// other directories are admitted only where nothing exists yet; every
// other member is skipped.
func (m *Manager) ImportArchive(ctx context.Context, path string, opts ImportOptions) (ImportResult, error) {
	var result ImportResult
	if !opts.Confirmed {
		return result, errors.NewNotConfirmed("import " + path)
	}
	dest := opts.Dest
	if dest == "" {
		dest = m.cfg.ImportRoot
	}
	if dest == "" {
		return result, errors.New(errors.ErrConfig, "No import destination configured", "Set backup.import_root in your config.")
	}
	if _, err := os.Stat(path); err != nil {
		return result, errors.WrapWithCode(err, errors.ErrPermanent, "Can't read archive "+path, "Check the path.")
	}

	l, err := m.lock(ctx, "backup import")
	if err != nil {
		return result, err
	}
	defer m.release(l)

	expected := m.validator.Expected()
	result.Safety, err = m.createSnapshot(ctx, m.safetySources(dest, expected))
	if err != nil {
		return result, errors.WrapWithCode(err, errors.CodeOf(err),
			"Couldn't snapshot the current configuration, import aborted",
			"Nothing was changed.")
	}

	result.Report, err = m.validator.Validate(ctx, path)
	if err != nil {
		return result, err
	}
	if !result.Report.AllSafe {
		return result, archive.RejectionError(path, result.Report)
	}
	if !result.Report.HasExpectedContent && !opts.AllowUnexpected {
		return result, errors.WrapWithCode(errors.ErrUnexpectedContent, errors.ErrPermanent,
			fmt.Sprintf("%s doesn't contain any of %v", path, m.validator.Expected()),
			"If you are sure it is a meshctl export, confirm the override to import it anyway.")
	}

	staging, err := os.MkdirTemp(m.cfg.Root, ".import-")
	if err != nil {
		return result, errors.WrapWithCode(err, errors.ErrResource, "Can't create import staging directory", "")
	}
	defer os.RemoveAll(staging)

	res := m.runner.Run(ctx, exec.Spec{
		Argv:         []string{"tar", "-xzf", path, "--no-same-owner", "-C", staging},
		NonRetryable: tarFatal,
	})
	if !res.Succeeded {
		return result, errors.WrapWithCode(res.LastError, res.Class,
			fmt.Sprintf("Couldn't extract %s after %d attempt(s)", path, res.Attempts),
			"Nothing was changed.")
	}
	if err := archive.CheckTree(staging); err != nil {
		m.log.Security("rejected archive %s after staging: %v", path, err)
		return result, err
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return result, errors.WrapWithCode(err, errors.ErrResource, "Can't read import staging directory", "")
	}
	recognized := make(map[string]bool, len(expected))
	for _, name := range expected {
		recognized[name] = true
	}

	var failures *multierror.Error
	for _, e := range entries {
		target := filepath.Join(dest, e.Name())
		if !e.IsDir() {
			m.log.Warn("import %s: skipping top-level file %s", path, e.Name())
			result.Skipped = append(result.Skipped, e.Name())
			continue
		}
		if !recognized[e.Name()] {
			ok, err := exists(target)
			if err != nil || ok || !opts.AllowUnexpected {
				m.log.Warn("import %s: skipping unrecognized directory %s", path, e.Name())
				result.Skipped = append(result.Skipped, e.Name())
				continue
			}
		}
		if err := replaceDir(filepath.Join(staging, e.Name()), target); err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		result.Restored = append(result.Restored, e.Name())
	}
	if err := failures.ErrorOrNil(); err != nil {
		return result, errors.WrapWithCode(err, errors.ErrResource,
			fmt.Sprintf("Imported %d directories, some failed", len(result.Restored)),
			fmt.Sprintf("Snapshot %s holds the state from before the import.", result.Safety.ID))
	}

	m.log.Info("imported %s into %s: %v (safety snapshot %s)", path, dest, result.Restored, result.Safety.ID)
	return result, nil
}

// safetySources lists what an import into dest may replace: each
// recognized directory under dest, plus the configured sources that go by
// other names.
func (m *Manager) safetySources(dest string, expected []string) []string {
	sources := make([]string, 0, len(expected)+len(m.cfg.Sources))
	taken := make(map[string]bool, len(expected))
	for _, name := range expected {
		sources = append(sources, filepath.Join(dest, name))
		taken[name] = true
	}
	for _, src := range m.cfg.Sources {
		if !taken[filepath.Base(filepath.Clean(src))] {
			sources = append(sources, src)
		}
	}
	return sources
}
