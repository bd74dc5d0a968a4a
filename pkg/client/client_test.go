package client

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	replicav1 "github.com/jamesainslie/replica/pkg/api/replica/v1"
	"github.com/jamesainslie/replica/pkg/daemon"
	"github.com/jamesainslie/replica/pkg/replica/driver"
	"github.com/jamesainslie/replica/pkg/replica/journal"
)

// mockControlServer implements replicav1.ControlServer for testing.
type mockControlServer struct {
	replicav1.UnimplementedControlServer

	mu            sync.Mutex
	actions       []journal.Action
	passes        []driver.Pass
	events        []replicav1.Event
	queued        bool
	watchRoot     string
	shutdownCalls int
}

func (m *mockControlServer) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return replicav1.EncodeStatus(replicav1.Status{
		Status: driver.Status{
			Source:   "/src",
			Replica:  "/dst",
			Interval: 30 * time.Second,
			Passes:   4,
		},
		PID:    1234,
		Uptime: 100 * time.Second,
	}), nil
}

func (m *mockControlServer) Trigger(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"queued": structpb.NewBoolValue(m.queued),
	}}, nil
}

func (m *mockControlServer) Recent(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actions := m.actions
	if n := replicav1.Limit(req); n > 0 && n < len(actions) {
		actions = actions[len(actions)-n:]
	}
	return replicav1.EncodeActions(actions), nil
}

func (m *mockControlServer) History(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	passes := m.passes
	if n := replicav1.Limit(req); n > 0 && n < len(passes) {
		passes = passes[:n]
	}
	return replicav1.EncodePasses(passes), nil
}

func (m *mockControlServer) Shutdown(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	m.mu.Lock()
	m.shutdownCalls++
	m.mu.Unlock()
	return &emptypb.Empty{}, nil
}

func (m *mockControlServer) Watch(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	m.mu.Lock()
	m.watchRoot = replicav1.Root(req)
	m.mu.Unlock()

	for _, e := range m.events {
		if err := stream.Send(replicav1.EncodeEvent(e)); err != nil {
			return err
		}
	}
	return nil
}

// setupTestServer creates a test gRPC server on a Unix socket.
func setupTestServer(t *testing.T, mock *mockControlServer) (string, func()) {
	t.Helper()

	// Unix socket paths are length limited, so stay out of t.TempDir.
	tmpDir, err := os.MkdirTemp("", "replica-client-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	socketPath := filepath.Join(tmpDir, "test.sock")

	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "unix", socketPath)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		t.Fatalf("failed to create listener: %v", err)
	}

	server := grpc.NewServer()
	replicav1.RegisterControlServer(server, mock)

	go func() {
		_ = server.Serve(listener)
	}()

	cleanup := func() {
		server.Stop()
		_ = os.RemoveAll(tmpDir)
	}

	return socketPath, cleanup
}

func connect(t *testing.T, socketPath string) *Client {
	t.Helper()

	c, err := Connect(socketPath)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnect(t *testing.T) {
	socketPath, cleanup := setupTestServer(t, &mockControlServer{})
	defer cleanup()

	c, err := Connect(socketPath)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	if c.conn == nil {
		t.Error("conn should not be nil")
	}
	if c.control == nil {
		t.Error("control client should not be nil")
	}
}

func TestConnectInvalidSocket(t *testing.T) {
	_, err := Connect("/nonexistent/socket.sock")
	if err == nil {
		t.Error("Connect should fail for nonexistent socket")
	}
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestConnectWithTimeout(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "replica-client-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	// A regular file where the socket should be: nothing ever answers.
	socketPath := filepath.Join(tmpDir, "dead.sock")
	if err := os.WriteFile(socketPath, nil, 0o600); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = ConnectWithContext(ctx, socketPath)
	if err == nil {
		t.Fatal("ConnectWithContext should fail when nothing is listening")
	}
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("ConnectWithContext took %v, want it bounded by the context", elapsed)
	}
}

func TestStatus(t *testing.T) {
	socketPath, cleanup := setupTestServer(t, &mockControlServer{})
	defer cleanup()

	c := connect(t, socketPath)

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	if st.Source != "/src" || st.Replica != "/dst" {
		t.Errorf("roots = %q -> %q, want /src -> /dst", st.Source, st.Replica)
	}
	if st.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", st.Interval)
	}
	if st.PID != 1234 {
		t.Errorf("PID = %d, want 1234", st.PID)
	}
	if st.Passes != 4 {
		t.Errorf("Passes = %d, want 4", st.Passes)
	}
}

func TestTrigger(t *testing.T) {
	tests := []struct {
		name   string
		queued bool
	}{
		{"queued", true},
		{"already pending", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			socketPath, cleanup := setupTestServer(t, &mockControlServer{queued: tt.queued})
			defer cleanup()

			c := connect(t, socketPath)

			got, err := c.Trigger(context.Background())
			if err != nil {
				t.Fatalf("Trigger failed: %v", err)
			}
			if got != tt.queued {
				t.Errorf("Trigger() = %v, want %v", got, tt.queued)
			}
		})
	}
}

func TestRecent(t *testing.T) {
	mock := &mockControlServer{actions: []journal.Action{
		{Kind: journal.CreateDir, Path: "/dst/a"},
		{Kind: journal.AddFile, Path: "/dst/a/b.txt"},
		{Kind: journal.RemoveFile, Path: "/dst/old.txt"},
	}}
	socketPath, cleanup := setupTestServer(t, mock)
	defer cleanup()

	c := connect(t, socketPath)

	actions, err := c.Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(actions))
	}
	if actions[0].Kind != journal.AddFile || actions[1].Kind != journal.RemoveFile {
		t.Errorf("unexpected actions: %+v", actions)
	}
}

func TestHistory(t *testing.T) {
	mock := &mockControlServer{passes: []driver.Pass{
		{ID: "p2", Source: "/src", Replica: "/dst"},
		{ID: "p1", Source: "/src", Replica: "/dst", Err: "denied", ErrKind: "access denied"},
	}}
	socketPath, cleanup := setupTestServer(t, mock)
	defer cleanup()

	c := connect(t, socketPath)

	passes, err := c.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(passes) != 2 {
		t.Fatalf("got %d passes, want 2", len(passes))
	}
	if passes[0].ID != "p2" {
		t.Errorf("first pass = %q, want p2", passes[0].ID)
	}
	if !passes[1].Failed() {
		t.Error("second pass should be failed")
	}
}

func TestShutdown(t *testing.T) {
	mock := &mockControlServer{}
	socketPath, cleanup := setupTestServer(t, mock)
	defer cleanup()

	c := connect(t, socketPath)

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	mock.mu.Lock()
	calls := mock.shutdownCalls
	mock.mu.Unlock()
	if calls != 1 {
		t.Errorf("shutdownCalls = %d, want 1", calls)
	}
}

func TestWatch(t *testing.T) {
	mock := &mockControlServer{events: []replicav1.Event{
		{Action: &journal.Action{Kind: journal.ModifyFile, Path: "/dst/docs/a.txt"}},
		{Pass: &driver.Pass{ID: "p9"}},
	}}
	socketPath, cleanup := setupTestServer(t, mock)
	defer cleanup()

	c := connect(t, socketPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := c.Watch(ctx, "/dst/docs")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	var got []Event
	for e := range events {
		got = append(got, e)
	}

	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Action == nil || got[0].Action.Path != "/dst/docs/a.txt" {
		t.Errorf("first event = %+v, want action on /dst/docs/a.txt", got[0])
	}
	if got[1].Pass == nil || got[1].Pass.ID != "p9" {
		t.Errorf("second event = %+v, want pass p9", got[1])
	}

	mock.mu.Lock()
	root := mock.watchRoot
	mock.mu.Unlock()
	if root != "/dst/docs" {
		t.Errorf("watch root = %q, want /dst/docs", root)
	}
}

func TestIsDaemonRunning(t *testing.T) {
	tmpDir := t.TempDir()
	pidPath := filepath.Join(tmpDir, "replica.pid")

	if IsDaemonRunning(pidPath) {
		t.Error("should return false when PID file doesn't exist")
	}

	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}
	if !IsDaemonRunning(pidPath) {
		t.Error("should return true for current process")
	}

	if err := os.WriteFile(pidPath, []byte("999999999"), 0o644); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}
	if IsDaemonRunning(pidPath) {
		t.Error("should return false for non-existent process")
	}
}

func TestStartupError(t *testing.T) {
	tmpDir := t.TempDir()
	statusPath := filepath.Join(tmpDir, "replica.status")

	if err := StartupError(statusPath); err != nil {
		t.Errorf("missing status file should report nil, got %v", err)
	}

	if err := daemon.WriteStatusReady(statusPath); err != nil {
		t.Fatalf("WriteStatusReady failed: %v", err)
	}
	if err := StartupError(statusPath); err != nil {
		t.Errorf("ready status should report nil, got %v", err)
	}

	if err := daemon.WriteStatusError(statusPath, errors.New("replica is inside source")); err != nil {
		t.Fatalf("WriteStatusError failed: %v", err)
	}
	err := StartupError(statusPath)
	if err == nil || err.Error() != "replica is inside source" {
		t.Errorf("StartupError = %v, want recorded message", err)
	}
}

func TestStopDaemonNotRunning(t *testing.T) {
	tmpDir := t.TempDir()
	paths := DaemonPaths{
		Socket: filepath.Join(tmpDir, "replica.sock"),
		PID:    filepath.Join(tmpDir, "replica.pid"),
	}

	if err := StopDaemon(context.Background(), paths); err != nil {
		t.Errorf("StopDaemon should be a no-op when not running, got %v", err)
	}
}

func TestClientClose(t *testing.T) {
	socketPath, cleanup := setupTestServer(t, &mockControlServer{})
	defer cleanup()

	c, err := Connect(socketPath)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	var empty Client
	if err := empty.Close(); err != nil {
		t.Errorf("Close on zero client failed: %v", err)
	}
}
