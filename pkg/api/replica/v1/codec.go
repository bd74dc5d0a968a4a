package replicav1

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jamesainslie/replica/pkg/replica/driver"
	"github.com/jamesainslie/replica/pkg/replica/journal"
	"github.com/jamesainslie/replica/pkg/replica/reconciler"
)

// Event types carried by Watch.
const (
	EventAction = "action"
	EventPass   = "pass"
)

// Status is the payload of Control.Status.
type Status struct {
	driver.Status

	PID         int
	Uptime      time.Duration
	MemoryBytes uint64
	Watchers    int
}

// Event is one Watch message. Exactly one of Action and Pass is set.
type Event struct {
	Action *journal.Action
	Pass   *driver.Pass
}

// LimitRequest builds the request for Recent and History.
func LimitRequest(limit int) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"limit": structpb.NewNumberValue(float64(limit)),
	}}
}

// Limit extracts the limit from a Recent or History request.
func Limit(req *structpb.Struct) int {
	return int(number(req, "limit"))
}

// WatchRequest builds the request for Watch. An empty root matches all paths.
func WatchRequest(root string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"root": structpb.NewStringValue(root),
	}}
}

// Root extracts the root from a Watch request.
func Root(req *structpb.Struct) string {
	return str(req, "root")
}

// EncodeAction converts an action to a Struct.
func EncodeAction(a journal.Action) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":   structpb.NewStringValue(a.Kind.String()),
		"path":   structpb.NewStringValue(a.Path),
		"source": structpb.NewStringValue(a.Source),
		"bytes":  structpb.NewNumberValue(float64(a.Bytes)),
		"time":   timeValue(a.Time),
	}}
}

// DecodeAction converts a Struct back to an action.
func DecodeAction(s *structpb.Struct) (journal.Action, error) {
	kind, err := parseKind(str(s, "kind"))
	if err != nil {
		return journal.Action{}, err
	}
	return journal.Action{
		Kind:   kind,
		Path:   str(s, "path"),
		Source: str(s, "source"),
		Bytes:  int64(number(s, "bytes")),
		Time:   parseTime(str(s, "time")),
	}, nil
}

func parseKind(name string) (journal.Kind, error) {
	for _, k := range journal.Kinds {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown action kind %q", name)
}

// EncodeActions wraps a list of actions for Recent.
func EncodeActions(actions []journal.Action) *structpb.Struct {
	list := make([]*structpb.Value, 0, len(actions))
	for _, a := range actions {
		list = append(list, structpb.NewStructValue(EncodeAction(a)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"actions": structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}
}

// DecodeActions unwraps a Recent response.
func DecodeActions(s *structpb.Struct) ([]journal.Action, error) {
	values := s.GetFields()["actions"].GetListValue().GetValues()
	actions := make([]journal.Action, 0, len(values))
	for _, v := range values {
		a, err := DecodeAction(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// EncodePass converts a pass record to a Struct.
func EncodePass(p driver.Pass) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":         structpb.NewStringValue(p.ID),
		"source":     structpb.NewStringValue(p.Source),
		"replica":    structpb.NewStringValue(p.Replica),
		"started":    timeValue(p.Started),
		"finished":   timeValue(p.Finished),
		"dry_run":    structpb.NewBoolValue(p.DryRun),
		"error":      structpb.NewStringValue(p.Err),
		"error_kind": structpb.NewStringValue(p.ErrKind),
		"cancelled":  structpb.NewBoolValue(p.Cancelled),
		"stats":      structpb.NewStructValue(encodeStats(p.Stats)),
	}}
}

// DecodePass converts a Struct back to a pass record.
func DecodePass(s *structpb.Struct) driver.Pass {
	return driver.Pass{
		ID:        str(s, "id"),
		Source:    str(s, "source"),
		Replica:   str(s, "replica"),
		Started:   parseTime(str(s, "started")),
		Finished:  parseTime(str(s, "finished")),
		DryRun:    s.GetFields()["dry_run"].GetBoolValue(),
		Err:       str(s, "error"),
		ErrKind:   str(s, "error_kind"),
		Cancelled: s.GetFields()["cancelled"].GetBoolValue(),
		Stats:     decodeStats(s.GetFields()["stats"].GetStructValue()),
	}
}

func encodeStats(st reconciler.Stats) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"dirs_created":   structpb.NewNumberValue(float64(st.DirsCreated)),
		"dirs_removed":   structpb.NewNumberValue(float64(st.DirsRemoved)),
		"files_added":    structpb.NewNumberValue(float64(st.FilesAdded)),
		"files_modified": structpb.NewNumberValue(float64(st.FilesModified)),
		"files_removed":  structpb.NewNumberValue(float64(st.FilesRemoved)),
		"files_compared": structpb.NewNumberValue(float64(st.FilesCompared)),
		"dirs_visited":   structpb.NewNumberValue(float64(st.DirsVisited)),
		"bytes_copied":   structpb.NewNumberValue(float64(st.BytesCopied)),
		"duration_ns":    structpb.NewNumberValue(float64(st.Duration)),
	}}
}

func decodeStats(s *structpb.Struct) reconciler.Stats {
	return reconciler.Stats{
		DirsCreated:   int(number(s, "dirs_created")),
		DirsRemoved:   int(number(s, "dirs_removed")),
		FilesAdded:    int(number(s, "files_added")),
		FilesModified: int(number(s, "files_modified")),
		FilesRemoved:  int(number(s, "files_removed")),
		FilesCompared: int(number(s, "files_compared")),
		DirsVisited:   int(number(s, "dirs_visited")),
		BytesCopied:   int64(number(s, "bytes_copied")),
		Duration:      time.Duration(number(s, "duration_ns")),
	}
}

// EncodePasses wraps a list of passes for History.
func EncodePasses(passes []driver.Pass) *structpb.Struct {
	list := make([]*structpb.Value, 0, len(passes))
	for _, p := range passes {
		list = append(list, structpb.NewStructValue(EncodePass(p)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"passes": structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}
}

// DecodePasses unwraps a History response.
func DecodePasses(s *structpb.Struct) []driver.Pass {
	values := s.GetFields()["passes"].GetListValue().GetValues()
	passes := make([]driver.Pass, 0, len(values))
	for _, v := range values {
		passes = append(passes, DecodePass(v.GetStructValue()))
	}
	return passes
}

// EncodeStatus converts a status snapshot to a Struct.
func EncodeStatus(st Status) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"source":        structpb.NewStringValue(st.Source),
		"replica":       structpb.NewStringValue(st.Replica),
		"interval_ns":   structpb.NewNumberValue(float64(st.Interval)),
		"dry_run":       structpb.NewBoolValue(st.DryRun),
		"running":       structpb.NewBoolValue(st.Running),
		"passes":        structpb.NewNumberValue(float64(st.Passes)),
		"failed_passes": structpb.NewNumberValue(float64(st.FailedPasses)),
		"next_pass":     timeValue(st.NextPass),
		"pid":           structpb.NewNumberValue(float64(st.PID)),
		"uptime_ns":     structpb.NewNumberValue(float64(st.Uptime)),
		"memory_bytes":  structpb.NewNumberValue(float64(st.MemoryBytes)),
		"watchers":      structpb.NewNumberValue(float64(st.Watchers)),
	}
	if st.LastPass != nil {
		fields["last_pass"] = structpb.NewStructValue(EncodePass(*st.LastPass))
	}
	return &structpb.Struct{Fields: fields}
}

// DecodeStatus converts a Struct back to a status snapshot.
func DecodeStatus(s *structpb.Struct) Status {
	st := Status{
		Status: driver.Status{
			Source:       str(s, "source"),
			Replica:      str(s, "replica"),
			Interval:     time.Duration(number(s, "interval_ns")),
			DryRun:       s.GetFields()["dry_run"].GetBoolValue(),
			Running:      s.GetFields()["running"].GetBoolValue(),
			Passes:       int(number(s, "passes")),
			FailedPasses: int(number(s, "failed_passes")),
			NextPass:     parseTime(str(s, "next_pass")),
		},
		PID:         int(number(s, "pid")),
		Uptime:      time.Duration(number(s, "uptime_ns")),
		MemoryBytes: uint64(number(s, "memory_bytes")),
		Watchers:    int(number(s, "watchers")),
	}
	if last := s.GetFields()["last_pass"].GetStructValue(); last != nil {
		p := DecodePass(last)
		st.LastPass = &p
	}
	return st
}

// EncodeEvent converts a Watch event to a Struct.
func EncodeEvent(e Event) *structpb.Struct {
	if e.Pass != nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			"type": structpb.NewStringValue(EventPass),
			"pass": structpb.NewStructValue(EncodePass(*e.Pass)),
		}}
	}
	var a journal.Action
	if e.Action != nil {
		a = *e.Action
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"type":   structpb.NewStringValue(EventAction),
		"action": structpb.NewStructValue(EncodeAction(a)),
	}}
}

// DecodeEvent converts a Struct back to a Watch event.
func DecodeEvent(s *structpb.Struct) (Event, error) {
	switch t := str(s, "type"); t {
	case EventPass:
		p := DecodePass(s.GetFields()["pass"].GetStructValue())
		return Event{Pass: &p}, nil
	case EventAction:
		a, err := DecodeAction(s.GetFields()["action"].GetStructValue())
		if err != nil {
			return Event{}, err
		}
		return Event{Action: &a}, nil
	default:
		return Event{}, fmt.Errorf("unknown event type %q", t)
	}
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func number(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

func timeValue(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewStringValue("")
	}
	return structpb.NewStringValue(t.Format(time.RFC3339Nano))
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
