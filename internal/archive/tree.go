package archive

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/meshctl/internal/errors"
)

// CheckTree walks an extracted staging directory and rejects symlinks that
// point outside it. Entry names alone cannot reveal a link target, so this
// runs after extraction into staging and before anything is moved into
// place.
func CheckTree(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrResource, "Couldn't resolve staging directory", "")
	}

	return filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return errors.WrapWithCode(walkErr, errors.ErrResource,
				fmt.Sprintf("Couldn't inspect %s", path), "")
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}

		target, err := os.Readlink(path)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrResource,
				fmt.Sprintf("Couldn't read link %s", path), "")
		}
		if filepath.IsAbs(target) || !within(absRoot, filepath.Join(filepath.Dir(path), target)) {
			rel, _ := filepath.Rel(absRoot, path)
			return errors.New(errors.ErrSecurity,
				fmt.Sprintf("Archive entry %s links outside the import (%s)", rel, target),
				"Nothing was moved into place. Only import archives you created with 'meshctl backup export'.")
		}
		return nil
	})
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
