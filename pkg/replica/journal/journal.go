// Package journal records the actions applied to a replica tree. Every
// applied action becomes exactly one ordered text line, written to each
// configured destination (console and persistent log) in the order the
// actions were applied.
package journal

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Kind is the type of an applied action.
type Kind int

// Action kinds.
const (
	CreateDir Kind = iota
	RemoveDir
	AddFile
	ModifyFile
	RemoveFile
)

// String returns the short name of the kind.
func (k Kind) String() string {
	switch k {
	case CreateDir:
		return "create_dir"
	case RemoveDir:
		return "remove_dir"
	case AddFile:
		return "add_file"
	case ModifyFile:
		return "modify_file"
	case RemoveFile:
		return "remove_file"
	default:
		return "unknown"
	}
}

// Kinds lists every action kind in declaration order.
var Kinds = []Kind{CreateDir, RemoveDir, AddFile, ModifyFile, RemoveFile}

// Action is one filesystem mutation applied to the replica.
type Action struct {
	Kind Kind

	// Path is the replica path that was changed.
	Path string

	// Source is the source path for AddFile and ModifyFile.
	Source string

	// Bytes is the number of bytes written for AddFile and ModifyFile.
	Bytes int64

	Time time.Time
}

// Message renders the log line for the action.
func (a Action) Message() string {
	switch a.Kind {
	case CreateDir:
		return "Folder created: " + a.Path
	case RemoveDir:
		return "Folder deleted: " + a.Path
	case AddFile:
		return "File added: " + a.Path
	case ModifyFile:
		return "File modified: " + a.Path
	case RemoveFile:
		return "File deleted: " + a.Path
	default:
		return fmt.Sprintf("Unknown action %d: %s", a.Kind, a.Path)
	}
}

// Sink receives applied actions in order.
type Sink interface {
	Record(Action) error
}

// Func adapts a function to a Sink.
type Func func(Action) error

// Record calls f.
func (f Func) Record(a Action) error {
	return f(a)
}

// Discard drops every action.
var Discard Sink = Func(func(Action) error { return nil })

// Writer renders actions as timestamped lines to one or more writers.
// It is safe for concurrent use; lines are never interleaved.
type Writer struct {
	mu    sync.Mutex
	dests []destination
}

type destination struct {
	logger *log.Logger
	out    *errWriter
}

// errWriter keeps the first write error, which the logger drops.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil && e.err == nil {
		e.err = err
	}
	return n, err
}

// take returns the kept error and clears it.
func (e *errWriter) take() error {
	err := e.err
	e.err = nil
	return err
}

// NewWriter creates a Writer that mirrors every line to all of ws.
func NewWriter(ws ...io.Writer) *Writer {
	w := &Writer{}
	for _, out := range ws {
		if out == nil {
			continue
		}
		ew := &errWriter{w: out}
		w.dests = append(w.dests, destination{
			logger: log.NewWithOptions(ew, log.Options{
				ReportTimestamp: true,
				TimeFormat:      time.DateTime,
			}),
			out: ew,
		})
	}
	return w
}

// Record writes the action's line to every destination. A destination that
// fails does not stop the others; the write errors are joined.
func (w *Writer) Record(a Action) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for _, d := range w.dests {
		d.logger.Print(a.Message())
		if err := d.out.take(); err != nil {
			errs = append(errs, fmt.Errorf("writing action line: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Fail writes an error-level line for a failed pass, so failures stand
// apart from action lines. Write errors are dropped.
func (w *Writer) Fail(msg string, keyvals ...interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, d := range w.dests {
		d.logger.Error(msg, keyvals...)
		_ = d.out.take()
	}
}

// Recorder keeps every action in memory.
type Recorder struct {
	mu      sync.Mutex
	actions []Action
}

// Record appends the action.
func (r *Recorder) Record(a Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	return nil
}

// Actions returns a copy of the recorded actions.
func (r *Recorder) Actions() []Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// Messages returns the rendered line of each recorded action.
func (r *Recorder) Messages() []string {
	actions := r.Actions()
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.Message()
	}
	return out
}

// Reset drops all recorded actions.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = nil
}

// Tee forwards each action to every sink in order. All sinks receive the
// action even if one fails; the errors are joined.
func Tee(sinks ...Sink) Sink {
	return Func(func(a Action) error {
		var errs []error
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Record(a); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
