// Package executor applies primitive filesystem mutations to the replica
// tree and records one journal action for each successful mutation.
package executor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jamesainslie/replica/pkg/replica/journal"
	"github.com/jamesainslie/replica/pkg/replica/syncerr"
)

// copyBufferSize is the buffer size used when copying file content.
const copyBufferSize = 8 * 1024

// fileMode is applied to every copied file; source permissions are not mirrored.
const fileMode os.FileMode = 0o644

// dirMode is applied to every created directory.
const dirMode os.FileMode = 0o755

// Executor performs the four primitive mutations of a reconciliation pass.
type Executor interface {
	// CreateDirectory creates a single directory whose parent exists.
	CreateDirectory(path string) error

	// RemoveDirectory removes an empty directory.
	RemoveDirectory(path string) error

	// CopyFile copies src over dst. overwrite selects the "modified" log
	// line instead of "added".
	CopyFile(src, dst string, overwrite bool) error

	// RemoveFile removes a single file.
	RemoveFile(path string) error
}

// FS applies mutations to the local filesystem.
type FS struct {
	sink  journal.Sink
	now   func() time.Time
	bufs  sync.Pool
	bytes atomic.Int64
}

// New creates an executor that records actions to sink.
func New(sink journal.Sink) *FS {
	if sink == nil {
		sink = journal.Discard
	}
	e := &FS{sink: sink, now: time.Now}
	e.bufs.New = func() any {
		b := make([]byte, copyBufferSize)
		return &b
	}
	return e
}

// BytesCopied returns the total number of bytes written by CopyFile.
func (e *FS) BytesCopied() int64 {
	return e.bytes.Load()
}

// CreateDirectory creates path. Fails with AlreadyExists or AccessDenied.
func (e *FS) CreateDirectory(path string) error {
	if err := os.Mkdir(path, dirMode); err != nil {
		return syncerr.New("create directory", path, err)
	}
	return e.record(journal.Action{Kind: journal.CreateDir, Path: path})
}

// RemoveDirectory removes the empty directory at path.
// Fails with CouldNotDelete wrapping NotEmpty or AccessDenied.
func (e *FS) RemoveDirectory(path string) error {
	if err := os.Remove(path); err != nil {
		return syncerr.Deletion("remove directory", path, err)
	}
	return e.record(journal.Action{Kind: journal.RemoveDir, Path: path})
}

// RemoveFile removes the file at path.
// Fails with CouldNotDelete wrapping AccessDenied or NotFound.
func (e *FS) RemoveFile(path string) error {
	if err := os.Remove(path); err != nil {
		return syncerr.Deletion("remove file", path, err)
	}
	return e.record(journal.Action{Kind: journal.RemoveFile, Path: path})
}

// CopyFile writes the content of src to dst through a temporary file in
// dst's directory followed by a rename, so dst is never observed half written.
func (e *FS) CopyFile(src, dst string, overwrite bool) error {
	n, err := e.copy(src, dst)
	if err != nil {
		return err
	}
	e.bytes.Add(n)

	kind := journal.AddFile
	if overwrite {
		kind = journal.ModifyFile
	}
	return e.record(journal.Action{Kind: kind, Path: dst, Source: src, Bytes: n})
}

func (e *FS) copy(src, dst string) (written int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, syncerr.As(syncerr.FileUnreadable, "copy", src, err)
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), ".replica-*.tmp")
	if err != nil {
		return 0, syncerr.New("copy", dst, err)
	}

	tmpPath := out.Name()
	// Cleared once the rename succeeds.
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	bufPtr := e.bufs.Get().(*[]byte)
	defer e.bufs.Put(bufPtr)

	written, err = io.CopyBuffer(out, in, *bufPtr)
	if err != nil {
		_ = out.Close()
		return 0, syncerr.New("copy", dst, fmt.Errorf("copying %s: %w", src, err))
	}

	if err := out.Chmod(fileMode); err != nil {
		_ = out.Close()
		return 0, syncerr.New("copy", dst, err)
	}

	if err := out.Close(); err != nil {
		return 0, syncerr.New("copy", dst, err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, syncerr.New("copy", dst, err)
	}
	tmpPath = ""

	return written, nil
}

func (e *FS) record(a journal.Action) error {
	a.Time = e.now()
	if err := e.sink.Record(a); err != nil {
		return fmt.Errorf("recording %s: %w", a.Kind, err)
	}
	return nil
}

// DryRun records the actions a pass would apply without touching the
// replica.
type DryRun struct {
	sink journal.Sink
	now  func() time.Time
}

// NewDryRun creates a dry-run executor that records actions to sink.
func NewDryRun(sink journal.Sink) *DryRun {
	if sink == nil {
		sink = journal.Discard
	}
	return &DryRun{sink: sink, now: time.Now}
}

// CreateDirectory records a CreateDir action.
func (d *DryRun) CreateDirectory(path string) error {
	return d.record(journal.Action{Kind: journal.CreateDir, Path: path})
}

// RemoveDirectory records a RemoveDir action.
func (d *DryRun) RemoveDirectory(path string) error {
	return d.record(journal.Action{Kind: journal.RemoveDir, Path: path})
}

// CopyFile records an AddFile or ModifyFile action.
func (d *DryRun) CopyFile(src, dst string, overwrite bool) error {
	kind := journal.AddFile
	if overwrite {
		kind = journal.ModifyFile
	}
	return d.record(journal.Action{Kind: kind, Path: dst, Source: src})
}

// RemoveFile records a RemoveFile action.
func (d *DryRun) RemoveFile(path string) error {
	return d.record(journal.Action{Kind: journal.RemoveFile, Path: path})
}

func (d *DryRun) record(a journal.Action) error {
	a.Time = d.now()
	return d.sink.Record(a)
}
