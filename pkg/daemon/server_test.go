package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"

	replicav1 "github.com/jamesainslie/replica/pkg/api/replica/v1"
	"github.com/jamesainslie/replica/pkg/daemon"
	"github.com/jamesainslie/replica/pkg/replica/driver"
)

type staticController struct{}

func (staticController) Status() driver.Status {
	return driver.Status{Source: "/src", Replica: "/dst", Interval: time.Second}
}

func (staticController) Trigger() bool { return true }

func TestNewServer(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "replica.sock")

	cfg := daemon.Config{
		SocketPath: socketPath,
		DataDir:    filepath.Join(tmpDir, "data"),
	}

	srv, err := daemon.NewServer(cfg, daemon.NewService(staticController{}))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("socket mode = %v, want 0600", info.Mode().Perm())
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket should be removed on Close")
	}
}

func TestServer_ServesStatus(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "replica.sock")

	srv, err := daemon.NewServer(daemon.Config{SocketPath: socketPath, DataDir: tmpDir}, daemon.NewService(staticController{}))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := replicav1.NewControlClient(conn).Status(ctx, &emptypb.Empty{})
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st := replicav1.DecodeStatus(resp); st.Source != "/src" || st.Replica != "/dst" {
		t.Errorf("unexpected status %+v", st)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v after Close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
