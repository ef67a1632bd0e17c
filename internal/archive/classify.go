// Package archive inspects backup archives before anything is extracted.
//
// Validation only enumerates and classifies entry paths. An archive with a
// single unsafe entry is rejected as a whole.
package archive

import (
	"strings"
)

// Classification is the verdict for one entry path.
type Classification int

const (
	Safe Classification = iota
	// Traversal entries contain a ".." component anywhere in the path.
	Traversal
	// Absolute entries start at a root or drive.
	Absolute
)

func (c Classification) String() string {
	switch c {
	case Traversal:
		return "traversal"
	case Absolute:
		return "absolute"
	default:
		return "safe"
	}
}

// DefaultExpectedDirs are the configuration directories a meshctl export
// carries at its top level.
var DefaultExpectedDirs = []string{".reticulum", ".nomadnetwork", ".lxmf", ".rnsh"}

// Entry is one classified archive member.
type Entry struct {
	RawPath        string
	Classification Classification
}

// Report summarizes an archive listing.
type Report struct {
	// AllSafe is false when any entry is Traversal or Absolute.
	AllSafe bool
	// HasExpectedContent is true when some Safe entry lives under one of
	// the expected top-level directories.
	HasExpectedContent bool
	Entries            []Entry
	// Unsafe holds the rejected entries in listing order.
	Unsafe []Entry
	// TopLevel lists the distinct top-level components of Safe entries.
	TopLevel []string
}

// Classify returns the verdict for a single entry path. Both '/' and '\'
// are treated as separators so archives produced on other platforms are
// judged the same way.
func Classify(raw string) Classification {
	for _, part := range splitPath(raw) {
		if part == ".." {
			return Traversal
		}
	}
	if isAbsolute(raw) {
		return Absolute
	}
	return Safe
}

func isAbsolute(p string) bool {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return true
	}
	// Drive letters such as C: or c:\.
	if len(p) >= 2 && p[1] == ':' {
		c := p[0]
		return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	}
	return false
}

func splitPath(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool {
		return r == '/' || r == '\\'
	})
}

// topLevel returns the first meaningful component of a safe path, skipping
// leading "." components.
func topLevel(p string) string {
	for _, part := range splitPath(p) {
		if part != "." {
			return part
		}
	}
	return ""
}

// Inspect classifies every path and builds the report. An empty expected
// list means DefaultExpectedDirs.
func Inspect(paths []string, expected []string) Report {
	if len(expected) == 0 {
		expected = DefaultExpectedDirs
	}
	want := make(map[string]bool, len(expected))
	for _, e := range expected {
		want[e] = true
	}

	r := Report{AllSafe: true, Entries: make([]Entry, 0, len(paths))}
	seen := make(map[string]bool)
	for _, p := range paths {
		e := Entry{RawPath: p, Classification: Classify(p)}
		r.Entries = append(r.Entries, e)
		if e.Classification != Safe {
			r.AllSafe = false
			r.Unsafe = append(r.Unsafe, e)
			continue
		}
		top := topLevel(p)
		if top == "" {
			continue
		}
		if want[top] {
			r.HasExpectedContent = true
		}
		if !seen[top] {
			seen[top] = true
			r.TopLevel = append(r.TopLevel, top)
		}
	}
	return r
}
