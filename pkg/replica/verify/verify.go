// Package verify compares a source tree against its replica without
// changing either. It walks both trees in parallel with fastwalk and hashes
// files present on both sides.
package verify

import (
	"context"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/replica/pkg/replica/hasher"
	"github.com/jamesainslie/replica/pkg/replica/listing"
	"github.com/jamesainslie/replica/pkg/replica/syncerr"
)

// DiffKind classifies a difference between the trees.
type DiffKind int

// Difference kinds.
const (
	// Missing entries exist in the source only.
	Missing DiffKind = iota
	// Extra entries exist in the replica only.
	Extra
	// KindMismatch entries are a file on one side and a directory on the other.
	KindMismatch
	// ContentMismatch files differ in content.
	ContentMismatch
)

// String returns the string representation of the kind.
func (k DiffKind) String() string {
	switch k {
	case Missing:
		return "missing"
	case Extra:
		return "extra"
	case KindMismatch:
		return "kind mismatch"
	case ContentMismatch:
		return "content mismatch"
	default:
		return "unknown"
	}
}

// Difference is one path that is not in sync.
type Difference struct {
	// Path is relative to the roots, slash separated.
	Path string
	Kind DiffKind
}

// Progress reports walk progress.
type Progress struct {
	EntriesScanned int64
	FilesHashed    int64
	CurrentPath    string
}

// ProgressFunc is called with progress updates.
type ProgressFunc func(Progress)

// Result contains the comparison outcome.
type Result struct {
	Source      string
	Replica     string
	Dirs        int64
	Files       int64
	FilesHashed int64
	Differences []Difference
	Duration    time.Duration
}

// InSync reports whether no differences were found.
func (r *Result) InSync() bool {
	return len(r.Differences) == 0
}

// Verifier compares trees.
type Verifier struct {
	hasher hasher.Hasher

	// Workers bounds concurrent file hashing. Zero uses GOMAXPROCS.
	Workers int
}

// New creates a verifier that compares file content with h.
func New(h hasher.Hasher) *Verifier {
	return &Verifier{hasher: h}
}

type state struct {
	scanned     atomic.Int64
	hashed      atomic.Int64
	currentPath atomic.Value
}

// Compare walks source and replica and reports every difference, sorted
// by path. Walk and hash failures abort the comparison.
func (v *Verifier) Compare(ctx context.Context, source, replica string, onProgress ProgressFunc) (*Result, error) {
	start := time.Now()

	absSource, err := filepath.Abs(source)
	if err != nil {
		return nil, err
	}
	absReplica, err := filepath.Abs(replica)
	if err != nil {
		return nil, err
	}

	st := &state{}
	st.currentPath.Store("")

	done := startProgressReporter(ctx, st, onProgress)
	defer func() {
		close(done)
		sendProgress(st, onProgress)
	}()

	var src, dst map[string]listing.Kind
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		src, err = walk(gctx, absSource, st)
		return err
	})
	g.Go(func() error {
		var err error
		dst, err = walk(gctx, absReplica, st)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Source: absSource, Replica: absReplica}
	var both []string

	for rel, kind := range src {
		if kind == listing.Directory {
			res.Dirs++
		} else {
			res.Files++
		}

		other, ok := dst[rel]
		switch {
		case !ok:
			res.Differences = append(res.Differences, Difference{Path: rel, Kind: Missing})
		case other != kind:
			res.Differences = append(res.Differences, Difference{Path: rel, Kind: KindMismatch})
		case kind == listing.File:
			both = append(both, rel)
		}
	}
	for rel := range dst {
		if _, ok := src[rel]; !ok {
			res.Differences = append(res.Differences, Difference{Path: rel, Kind: Extra})
		}
	}

	changed, err := v.compareContent(ctx, absSource, absReplica, both, st)
	if err != nil {
		return nil, err
	}
	for _, rel := range changed {
		res.Differences = append(res.Differences, Difference{Path: rel, Kind: ContentMismatch})
	}

	sort.Slice(res.Differences, func(i, j int) bool {
		if res.Differences[i].Path != res.Differences[j].Path {
			return res.Differences[i].Path < res.Differences[j].Path
		}
		return res.Differences[i].Kind < res.Differences[j].Kind
	})

	res.FilesHashed = st.hashed.Load()
	res.Duration = time.Since(start)
	return res, nil
}

// compareContent hashes each relative path on both sides and returns the
// paths whose content differs.
func (v *Verifier) compareContent(ctx context.Context, source, replica string, paths []string, st *state) ([]string, error) {
	workers := v.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var mu sync.Mutex
	var changed []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, rel := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			native := filepath.FromSlash(rel)
			st.currentPath.Store(rel)

			same, err := hasher.Equal(v.hasher, filepath.Join(source, native), filepath.Join(replica, native))
			if err != nil {
				return err
			}
			st.hashed.Add(1)

			if !same {
				mu.Lock()
				changed = append(changed, rel)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return changed, ctx.Err()
}

// walk returns the kind of every entry under root keyed by slash
// separated relative path. The root itself is not included.
func walk(ctx context.Context, root string, st *state) (map[string]listing.Kind, error) {
	var mu sync.Mutex
	entries := make(map[string]listing.Kind)

	conf := fastwalk.Config{
		Follow: false,
	}

	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if walkErr != nil {
			return syncerr.New("walk", path, walkErr)
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		kind := listing.File
		if d.IsDir() {
			kind = listing.Directory
		}

		st.scanned.Add(1)
		st.currentPath.Store(path)

		mu.Lock()
		entries[filepath.ToSlash(rel)] = kind
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func sendProgress(st *state, onProgress ProgressFunc) {
	if onProgress != nil {
		cp, _ := st.currentPath.Load().(string)
		onProgress(Progress{
			EntriesScanned: st.scanned.Load(),
			FilesHashed:    st.hashed.Load(),
			CurrentPath:    cp,
		})
	}
}

func startProgressReporter(ctx context.Context, st *state, onProgress ProgressFunc) chan struct{} {
	done := make(chan struct{})

	sendProgress(st, onProgress)

	if onProgress != nil {
		go func() {
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					sendProgress(st, onProgress)
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	return done
}
