package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/replica/pkg/daemon"
	"github.com/jamesainslie/replica/pkg/replica/config"
)

func TestSyncOnce_RefusesUnreachableDaemon(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, daemon.WritePIDFile(cfg.PIDPath()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := syncOnce(ctx, cfg, nil)
	require.ErrorIs(t, err, errDaemonBusy)

	_, err = os.Stat(filepath.Join(cfg.Replica, "a.txt"))
	assert.True(t, os.IsNotExist(err), "no local pass while a daemon owns the replica")
	_, err = os.Stat(cfg.LogFile)
	assert.True(t, os.IsNotExist(err), "the action log must not be opened")
}

// startDaemon runs a driver and its control socket for cfg in-process.
func startDaemon(t *testing.T, cfg *config.Config) *engine {
	t.Helper()

	eng, err := newEngine(cfg, engineOptions{})
	require.NoError(t, err)

	srv, err := daemon.NewServer(daemon.Config{
		SocketPath: cfg.SocketPath(),
		DataDir:    t.TempDir(),
	}, daemon.NewService(eng.driver, daemon.WithBroadcaster(eng.events)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.driver.Run(ctx)
	}()
	go func() { _ = srv.Serve() }()
	require.NoError(t, daemon.WritePIDFile(cfg.PIDPath()))

	t.Cleanup(func() {
		cancel()
		<-done
		eng.events.Close()
		_ = srv.Close()
		_ = eng.Close()
	})
	return eng
}

func TestSyncOnce_DelegatesToDaemon(t *testing.T) {
	cfg := testConfig(t)
	eng := startDaemon(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	requested := time.Now()
	pass, err := syncOnce(ctx, cfg, nil)
	require.NoError(t, err)
	assert.False(t, pass.Failed())
	assert.False(t, pass.Started.Before(requested), "the pass must start after the request")
	assert.FileExists(t, filepath.Join(cfg.Replica, "a.txt"))

	last := eng.driver.Status().LastPass
	require.NotNil(t, last)
	assert.Equal(t, last.ID, pass.ID, "the pass was run by the daemon")
}

func TestSyncOnce_RefusesDaemonForOtherRoots(t *testing.T) {
	cfg := testConfig(t)
	startDaemon(t, cfg)

	other := *cfg
	other.Replica = filepath.Join(t.TempDir(), "elsewhere")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := syncOnce(ctx, &other, nil)
	require.ErrorIs(t, err, errDaemonBusy)
	assert.Contains(t, err.Error(), cfg.Replica)
	assert.NoDirExists(t, other.Replica)
}
