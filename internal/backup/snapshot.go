package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/rileyhilliard/meshctl/internal/errors"
)

// IDLayout is the time layout of snapshot IDs. IDs are UTC, fixed width
// and sort lexicographically in creation order.
const IDLayout = "20060102-150405.000000"

const manifestName = "manifest.json"

var idPattern = regexp.MustCompile(`^\d{8}-\d{6}\.\d{6}$`)

// ValidID reports whether id has the snapshot ID shape. IDs from users are
// checked with it before being joined into a path.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Source is one directory captured in a snapshot.
type Source struct {
	// Name is the directory's base name and its name inside the snapshot.
	Name string `json:"name"`
	// Path is where the directory lived when it was captured.
	Path string `json:"path"`
}

// Snapshot is a point-in-time copy of the configured source directories.
// It is never modified after creation.
type Snapshot struct {
	ID        string
	CreatedAt time.Time
	// Sources lists the directories that existed at capture time.
	Sources   []Source
	SizeBytes int64
	Path      string
}

// Names returns the captured source names.
func (s Snapshot) Names() []string {
	names := make([]string, len(s.Sources))
	for i, src := range s.Sources {
		names[i] = src.Name
	}
	return names
}

// Has reports whether the snapshot holds a source called name.
func (s Snapshot) Has(name string) bool {
	for _, src := range s.Sources {
		if src.Name == name {
			return true
		}
	}
	return false
}

type manifest struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Sources   []Source  `json:"sources"`
}

func writeManifest(dir string, m manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(dir, manifestName), append(data, '\n'), 0o644)
}

func readSnapshot(root, id string) (Snapshot, error) {
	dir := filepath.Join(root, id)
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return Snapshot{}, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Snapshot{}, fmt.Errorf("parse %s: %w", manifestName, err)
	}
	if m.ID != id {
		return Snapshot{}, fmt.Errorf("manifest id %q does not match directory %q", m.ID, id)
	}
	return Snapshot{
		ID:        id,
		CreatedAt: m.CreatedAt,
		Sources:   m.Sources,
		SizeBytes: dirSize(dir),
		Path:      dir,
	}, nil
}

// listSnapshots reads every snapshot under root in ascending ID order.
// Hidden entries (the lock, staging directories) and directories without a
// readable manifest are skipped.
func listSnapshots(root string) ([]Snapshot, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrResource,
			"Can't read backup directory "+root,
			"Check your permissions.")
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") && ValidID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)

	snaps := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		s, err := readSnapshot(root, id)
		if err != nil {
			continue
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

// nextID returns an ID for now that is not taken and sorts after every
// existing snapshot, bumping by one microsecond on collision.
func nextID(root string, now time.Time, existing []Snapshot) string {
	t := now.UTC().Truncate(time.Microsecond)
	if n := len(existing); n > 0 {
		if last, err := time.Parse(IDLayout, existing[n-1].ID); err == nil && !t.After(last) {
			t = last.Add(time.Microsecond)
		}
	}
	for {
		id := t.Format(IDLayout)
		if _, err := os.Lstat(filepath.Join(root, id)); os.IsNotExist(err) {
			return id
		}
		t = t.Add(time.Microsecond)
	}
}
