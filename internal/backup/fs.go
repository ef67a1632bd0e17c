package backup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"
)

// copyOptions keeps symlinks as links and preserves modification times.
func copyOptions() copy.Options {
	return copy.Options{
		OnSymlink: func(string) copy.SymlinkAction {
			return copy.Shallow
		},
		PreserveTimes: true,
	}
}

func copyTree(src, dst string) error {
	return copy.Copy(src, dst, copyOptions())
}

// replaceDir makes dst an exact copy of src. The copy is staged next to
// dst and swapped in with renames, so a failure part way leaves dst as it
// was.
func replaceDir(src, dst string) error {
	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}

	incoming, err := os.MkdirTemp(parent, "."+filepath.Base(dst)+".meshctl-new-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(incoming)

	staged := filepath.Join(incoming, "tree")
	if err := copyTree(src, staged); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}

	var old string
	if _, err := os.Lstat(dst); err == nil {
		old = filepath.Join(incoming, "old")
		if err := os.Rename(dst, old); err != nil {
			return fmt.Errorf("move aside %s: %w", dst, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.Rename(staged, dst); err != nil {
		if old != "" {
			_ = os.Rename(old, dst)
		}
		return fmt.Errorf("swap in %s: %w", dst, err)
	}
	return nil
}

// dirSize returns the total size of all regular files under path.
func dirSize(path string) int64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		size += info.Size()
		return nil
	})
	return size
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}
