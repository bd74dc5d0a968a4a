// Package listing enumerates the immediate children of a directory.
package listing

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/jamesainslie/replica/pkg/replica/syncerr"
)

// Kind is the type of a directory entry.
type Kind int

// Entry kinds. Anything that is not a directory is treated as a file.
const (
	File Kind = iota
	Directory
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	if k == Directory {
		return "directory"
	}
	return "file"
}

// Entry is one item inside a listed directory.
type Entry struct {
	// Name is the base name, unique within its parent listing.
	Name string

	// Kind is File or Directory.
	Kind Kind

	// Path is the full path usable for further I/O.
	Path string
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Kind == Directory
}

// Lister lists the immediate entries of a directory.
type Lister interface {
	List(dir string) ([]Entry, error)
}

// OS lists directories on the local filesystem.
type OS struct{}

// List returns the entries of dir sorted by name.
// Failures are returned as *syncerr.Error (NotADirectory, AccessDenied, NotFound).
func (OS) List(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, syncerr.New("list", dir, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		kind := File
		if d.IsDir() {
			kind = Directory
		}
		entries = append(entries, Entry{
			Name: d.Name(),
			Kind: kind,
			Path: filepath.Join(dir, d.Name()),
		})
	}

	Sort(entries)
	return entries, nil
}

// Sort orders entries lexicographically by name.
func Sort(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}

// Index materializes entries into a lookup keyed by name.
func Index(entries []Entry) map[string]Entry {
	idx := make(map[string]Entry, len(entries))
	for _, e := range entries {
		idx[e.Name] = e
	}
	return idx
}
