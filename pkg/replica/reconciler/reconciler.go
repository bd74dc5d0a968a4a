// Package reconciler makes a replica directory tree an exact copy of a
// source tree.
//
// A pass walks both trees depth first. At each level every source entry is
// matched by name against a materialized listing of the replica level:
//
//   - missing in the replica: directories are created and filled from an
//     empty replica listing, files are copied ("File added")
//   - directory on both sides: recurse
//   - file on both sides: contents are hashed and copied when they differ
//     ("File modified")
//   - kinds differ: the replica entry is destroyed bottom-up, then the
//     source entry is created as if it were missing
//
// Once every source entry of a level has been handled, replica entries whose
// names were not processed are deleted, children before parents. Siblings
// are visited in lexicographic order so the action log is reproducible.
package reconciler

import (
	"context"
	"path/filepath"
	"time"

	"github.com/jamesainslie/replica/pkg/replica/executor"
	"github.com/jamesainslie/replica/pkg/replica/hasher"
	"github.com/jamesainslie/replica/pkg/replica/listing"
	"github.com/jamesainslie/replica/pkg/replica/logging"
)

// Reconciler holds the capabilities a pass needs. It keeps no state between
// passes; Reconcile may be called any number of times but never
// concurrently on overlapping trees.
type Reconciler struct {
	lister listing.Lister
	hasher hasher.Hasher
	exec   executor.Executor
	logger *logging.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Reconciler from its three capabilities.
func New(l listing.Lister, h hasher.Hasher, e executor.Executor, opts ...Option) *Reconciler {
	r := &Reconciler{
		lister: l,
		hasher: h,
		exec:   e,
		logger: logging.Get("reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats summarizes one pass.
type Stats struct {
	DirsCreated   int
	DirsRemoved   int
	FilesAdded    int
	FilesModified int
	FilesRemoved  int

	// FilesCompared counts files present on both sides.
	FilesCompared int

	// DirsVisited counts source directories walked, the root included.
	DirsVisited int

	BytesCopied int64
	Duration    time.Duration
}

// Actions returns the number of mutations applied.
func (s Stats) Actions() int {
	return s.DirsCreated + s.DirsRemoved + s.FilesAdded + s.FilesModified + s.FilesRemoved
}

// byteCounter is implemented by executors that track copied bytes.
type byteCounter interface {
	BytesCopied() int64
}

// Reconcile runs one full pass from sourceDir onto replicaDir. Both must
// exist as directories. The first failing primitive aborts the pass and is
// returned unchanged, so callers can classify it with syncerr. The returned
// Stats cover the work done up to that point.
//
// ctx is checked between entries; a cancelled pass stops with ctx.Err().
func (r *Reconciler) Reconcile(ctx context.Context, sourceDir, replicaDir string) (Stats, error) {
	return r.run(ctx, sourceDir, replicaDir, func(p *pass) error {
		return p.syncDir(sourceDir, replicaDir, true)
	})
}

// ReconcileNew is Reconcile for a replica root that does not exist. The
// root is created through the executor and filled from an empty listing,
// so a dry-run executor reports the whole tree without touching the disk.
func (r *Reconciler) ReconcileNew(ctx context.Context, sourceDir, replicaDir string) (Stats, error) {
	return r.run(ctx, sourceDir, replicaDir, func(p *pass) error {
		if err := p.exec.CreateDirectory(replicaDir); err != nil {
			return err
		}
		p.stats.DirsCreated++
		return p.syncDir(sourceDir, replicaDir, false)
	})
}

func (r *Reconciler) run(ctx context.Context, sourceDir, replicaDir string, walk func(*pass) error) (Stats, error) {
	p := &pass{Reconciler: r, ctx: ctx}
	start := time.Now()

	var before int64
	counter, counting := r.exec.(byteCounter)
	if counting {
		before = counter.BytesCopied()
	}

	r.logger.Debug("pass started", "source", sourceDir, "replica", replicaDir)
	err := walk(p)

	p.stats.Duration = time.Since(start)
	if counting {
		p.stats.BytesCopied = counter.BytesCopied() - before
	}

	if err != nil {
		r.logger.Debug("pass aborted", "error", err, "actions", p.stats.Actions())
		return p.stats, err
	}

	r.logger.Debug("pass finished",
		"actions", p.stats.Actions(),
		"compared", p.stats.FilesCompared,
		"duration", p.stats.Duration,
	)
	return p.stats, nil
}

// pass carries the per-call state of one Reconcile.
type pass struct {
	*Reconciler
	ctx   context.Context
	stats Stats
}

// syncDir reconciles one directory level. When replicaExists is false the
// replica directory was just created (or would have been, in a dry run) and
// is treated as empty without listing it.
func (p *pass) syncDir(sourceDir, replicaDir string, replicaExists bool) error {
	p.stats.DirsVisited++

	sources, err := p.lister.List(sourceDir)
	if err != nil {
		return err
	}

	var replicas []listing.Entry
	if replicaExists {
		replicas, err = p.lister.List(replicaDir)
		if err != nil {
			return err
		}
	}
	lookup := listing.Index(replicas)

	processed := make(map[string]struct{}, len(sources))

	for _, s := range sources {
		if err := p.ctx.Err(); err != nil {
			return err
		}

		r, found := lookup[s.Name]
		switch {
		case !found:
			err = p.create(s, filepath.Join(replicaDir, s.Name))
		case s.IsDir() && r.IsDir():
			err = p.syncDir(s.Path, r.Path, true)
		case !s.IsDir() && !r.IsDir():
			err = p.syncFile(s, r)
		default:
			p.logger.Debug("kind changed", "path", r.Path, "source", s.Kind, "replica", r.Kind)
			if err = p.destroy(r); err == nil {
				err = p.create(s, r.Path)
			}
		}
		if err != nil {
			return err
		}

		processed[s.Name] = struct{}{}
	}

	for _, r := range replicas {
		if _, ok := processed[r.Name]; ok {
			continue
		}
		if err := p.ctx.Err(); err != nil {
			return err
		}
		if err := p.destroy(r); err != nil {
			return err
		}
	}

	return nil
}

// create materializes source entry s at target, which does not exist.
func (p *pass) create(s listing.Entry, target string) error {
	if !s.IsDir() {
		if err := p.exec.CopyFile(s.Path, target, false); err != nil {
			return err
		}
		p.stats.FilesAdded++
		return nil
	}

	if err := p.exec.CreateDirectory(target); err != nil {
		return err
	}
	p.stats.DirsCreated++

	return p.syncDir(s.Path, target, false)
}

// syncFile overwrites r with s when their contents differ.
func (p *pass) syncFile(s, r listing.Entry) error {
	p.stats.FilesCompared++

	same, err := hasher.Equal(p.hasher, s.Path, r.Path)
	if err != nil {
		return err
	}
	if same {
		return nil
	}

	if err := p.exec.CopyFile(s.Path, r.Path, true); err != nil {
		return err
	}
	p.stats.FilesModified++
	return nil
}

// destroy removes a replica entry. Directories are emptied first,
// children before the directory itself.
func (p *pass) destroy(e listing.Entry) error {
	if !e.IsDir() {
		if err := p.exec.RemoveFile(e.Path); err != nil {
			return err
		}
		p.stats.FilesRemoved++
		return nil
	}

	children, err := p.lister.List(e.Path)
	if err != nil {
		return err
	}

	for _, c := range children {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		if err := p.destroy(c); err != nil {
			return err
		}
	}

	if err := p.exec.RemoveDirectory(e.Path); err != nil {
		return err
	}
	p.stats.DirsRemoved++
	return nil
}
