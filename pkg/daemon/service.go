package daemon

import (
	"context"
	"os"
	"runtime"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	replicav1 "github.com/jamesainslie/replica/pkg/api/replica/v1"
	"github.com/jamesainslie/replica/pkg/daemon/broadcaster"
	"github.com/jamesainslie/replica/pkg/replica/driver"
	"github.com/jamesainslie/replica/pkg/replica/journal"
	"github.com/jamesainslie/replica/pkg/replica/logging"
)

// DefaultRecentLimit is used when a Recent or History request has no limit.
const DefaultRecentLimit = 50

// Controller is the part of the driver the control service needs.
type Controller interface {
	Status() driver.Status
	Trigger() bool
}

// HistoryReader lists recorded passes, newest first.
type HistoryReader interface {
	Recent(limit int) ([]driver.Pass, error)
}

// Service implements the replica Control gRPC service.
type Service struct {
	replicav1.UnimplementedControlServer

	controller  Controller
	recent      *journal.Ring
	history     HistoryReader
	broadcaster *broadcaster.Broadcaster
	shutdown    func()
	startTime   time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRecent serves Recent from r.
func WithRecent(r *journal.Ring) ServiceOption {
	return func(s *Service) { s.recent = r }
}

// WithHistory serves History from h.
func WithHistory(h HistoryReader) ServiceOption {
	return func(s *Service) { s.history = h }
}

// WithBroadcaster serves Watch from b.
func WithBroadcaster(b *broadcaster.Broadcaster) ServiceOption {
	return func(s *Service) { s.broadcaster = b }
}

// WithShutdown sets the function called by the Shutdown RPC.
func WithShutdown(fn func()) ServiceOption {
	return func(s *Service) { s.shutdown = fn }
}

// NewService creates a control service for c.
func NewService(c Controller, opts ...ServiceOption) *Service {
	s := &Service{
		controller: c,
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns daemon health and the driver state.
func (s *Service) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := replicav1.Status{
		Status:      s.controller.Status(),
		PID:         os.Getpid(),
		Uptime:      time.Since(s.startTime),
		MemoryBytes: mem.Alloc,
	}
	if s.broadcaster != nil {
		st.Watchers = s.broadcaster.SubscriberCount()
	}

	return replicav1.EncodeStatus(st), nil
}

// Trigger requests an immediate pass.
func (s *Service) Trigger(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	queued := s.controller.Trigger()
	logging.Get("daemon").Info("pass requested", "queued", queued)

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"queued": structpb.NewBoolValue(queued),
	}}, nil
}

// Recent returns the most recent actions, oldest first.
func (s *Service) Recent(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.recent == nil {
		return replicav1.EncodeActions(nil), nil
	}
	return replicav1.EncodeActions(s.recent.Last(limitOf(req))), nil
}

// History returns recorded passes, newest first.
func (s *Service) History(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.history == nil {
		return nil, status.Error(codes.Unavailable, "pass history is disabled")
	}

	passes, err := s.history.Recent(limitOf(req))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "reading history: %v", err)
	}
	return replicav1.EncodePasses(passes), nil
}

// Shutdown stops the daemon.
func (s *Service) Shutdown(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	logging.Get("daemon").Info("shutdown requested")
	if s.shutdown != nil {
		s.shutdown()
	}
	return &emptypb.Empty{}, nil
}

// Watch streams actions under the requested root and every finished pass.
func (s *Service) Watch(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s.broadcaster == nil {
		return status.Error(codes.Unavailable, "watching not available")
	}

	sub := s.broadcaster.Subscribe(replicav1.Root(req))
	if sub == nil {
		return status.Error(codes.Unavailable, "failed to subscribe")
	}
	defer s.broadcaster.Unsubscribe(sub.ID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if err := stream.Send(replicav1.EncodeEvent(toAPIEvent(event))); err != nil {
				return err
			}
		}
	}
}

func toAPIEvent(e *broadcaster.Event) replicav1.Event {
	if e.Type == broadcaster.EventPass {
		p := e.Pass
		return replicav1.Event{Pass: &p}
	}
	a := e.Action
	return replicav1.Event{Action: &a}
}

func limitOf(req *structpb.Struct) int {
	if n := replicav1.Limit(req); n > 0 {
		return n
	}
	return DefaultRecentLimit
}
