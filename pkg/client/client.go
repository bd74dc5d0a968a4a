// Package client provides a client for the replica daemon control socket.
// It wraps the gRPC client with convenience methods and type conversions.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"

	replicav1 "github.com/jamesainslie/replica/pkg/api/replica/v1"
	"github.com/jamesainslie/replica/pkg/daemon"
	"github.com/jamesainslie/replica/pkg/replica/driver"
	"github.com/jamesainslie/replica/pkg/replica/journal"
)

// ErrNotRunning is returned when no daemon is listening on the socket.
var ErrNotRunning = errors.New("daemon not running")

// Client connects to the replica daemon via gRPC.
type Client struct {
	conn    *grpc.ClientConn
	control *replicav1.ControlClient
}

// Status is the daemon status as reported over the control socket.
type Status = replicav1.Status

// Event is one action or finished pass streamed by Watch.
type Event = replicav1.Event

// Connect establishes a connection to the daemon.
// Uses a default timeout of 5 seconds.
func Connect(socketPath string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ConnectWithContext(ctx, socketPath)
}

// ConnectWithContext establishes a connection to the daemon and waits until
// it is ready or ctx expires.
func ConnectWithContext(ctx context.Context, socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: socket not found at %s", ErrNotRunning, socketPath)
	}

	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	if err := waitReady(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrNotRunning, socketPath, err)
	}

	return NewFromConn(conn), nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(conn *grpc.ClientConn) *Client {
	return &Client{
		conn:    conn,
		control: replicav1.NewControlClient(conn),
	}
}

func waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

// Close closes the connection to the daemon.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status returns the daemon and driver state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	resp, err := c.control.Status(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("Status RPC failed: %w", err)
	}

	st := replicav1.DecodeStatus(resp)
	return &st, nil
}

// Trigger requests an immediate pass. It reports false when a request was
// already pending.
func (c *Client) Trigger(ctx context.Context) (bool, error) {
	resp, err := c.control.Trigger(ctx, &emptypb.Empty{})
	if err != nil {
		return false, fmt.Errorf("Trigger RPC failed: %w", err)
	}
	return resp.GetFields()["queued"].GetBoolValue(), nil
}

// Recent returns up to limit of the most recent actions, oldest first.
func (c *Client) Recent(ctx context.Context, limit int) ([]journal.Action, error) {
	resp, err := c.control.Recent(ctx, replicav1.LimitRequest(limit))
	if err != nil {
		return nil, fmt.Errorf("Recent RPC failed: %w", err)
	}
	return replicav1.DecodeActions(resp)
}

// History returns up to limit recorded passes, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]driver.Pass, error) {
	resp, err := c.control.History(ctx, replicav1.LimitRequest(limit))
	if err != nil {
		return nil, fmt.Errorf("History RPC failed: %w", err)
	}
	return replicav1.DecodePasses(resp), nil
}

// Shutdown requests the daemon to shut down gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	if _, err := c.control.Shutdown(ctx, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("Shutdown RPC failed: %w", err)
	}
	return nil
}

// Watch subscribes to actions under root and to finished passes.
// Returns a channel that receives events until the context is cancelled
// or the daemon goes away.
func (c *Client) Watch(ctx context.Context, root string) (<-chan Event, error) {
	stream, err := c.control.Watch(ctx, replicav1.WatchRequest(root))
	if err != nil {
		return nil, fmt.Errorf("Watch RPC failed: %w", err)
	}

	events := make(chan Event, 100)
	go func() {
		defer close(events)
		for {
			msg, err := stream.Recv()
			if err != nil {
				return // Stream closed or error
			}

			event, err := replicav1.DecodeEvent(msg)
			if err != nil {
				continue
			}

			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// DaemonPaths locates a daemon's runtime files.
type DaemonPaths struct {
	Socket string
	PID    string
}

// IsDaemonRunning checks if the daemon is running based on the PID file.
func IsDaemonRunning(pidPath string) bool {
	return daemon.IsDaemonRunning(pidPath)
}

// StartupError returns the error recorded by the last failed daemon start,
// or nil if the last start succeeded or left no status file.
func StartupError(statusPath string) error {
	status, err := daemon.ReadStatus(statusPath)
	if err != nil {
		return nil //nolint:nilerr // no status file means nothing to report
	}
	if status.Status == daemon.StatusError {
		return errors.New(status.Error)
	}
	return nil
}

// StopDaemon stops the daemon gracefully via RPC.
// Idempotent: returns nil if daemon is not running.
func StopDaemon(ctx context.Context, paths DaemonPaths) error {
	if !IsDaemonRunning(paths.PID) {
		return nil
	}

	client, err := ConnectWithContext(ctx, paths.Socket)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer client.Close()

	if err := client.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown daemon: %w", err)
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !IsDaemonRunning(paths.PID) {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.New("daemon did not stop within timeout")
		case <-ticker.C:
		}
	}
}
