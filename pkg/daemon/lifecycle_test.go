package daemon_test

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/jamesainslie/replica/pkg/daemon"
)

// stalePID is far above any kernel pid_max.
const stalePID = 999999999

func TestWriteAndReadPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "run", "replica.pid")

	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}

	pid, err := daemon.ReadPIDFile(pidPath)
	if err != nil {
		t.Fatalf("ReadPIDFile failed: %v", err)
	}

	if pid != os.Getpid() {
		t.Errorf("Expected PID %d, got %d", os.Getpid(), pid)
	}
}

func TestReadPIDFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	for name, content := range map[string]string{
		"garbage":  "not-a-number",
		"zero":     "0",
		"negative": "-1",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".pid")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := daemon.ReadPIDFile(path); err == nil {
				t.Errorf("ReadPIDFile(%q) should fail", content)
			}
		})
	}
}

func TestIsDaemonRunning(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "replica.pid")

	// No PID file = not running
	if daemon.IsDaemonRunning(pidPath) {
		t.Error("Expected false when PID file doesn't exist")
	}

	// Write current PID = running
	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatal(err)
	}

	if !daemon.IsDaemonRunning(pidPath) {
		t.Error("Expected true when PID file has current process")
	}

	// Write invalid PID = not running
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(stalePID)), 0o644); err != nil {
		t.Fatal(err)
	}
	if daemon.IsDaemonRunning(pidPath) {
		t.Error("Expected false when PID is invalid")
	}
}

func TestRemovePIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "replica.pid")

	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}

	if err := daemon.RemovePIDFile(pidPath); err != nil {
		t.Fatalf("RemovePIDFile failed: %v", err)
	}

	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("PID file should have been removed")
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !daemon.IsProcessRunning(os.Getpid()) {
		t.Error("Expected current process to be running")
	}

	if daemon.IsProcessRunning(stalePID) {
		t.Error("Expected non-existent PID to not be running")
	}
}

func TestRecoverFromStaleDaemon_NoPIDFile(t *testing.T) {
	dir := t.TempDir()

	err := daemon.RecoverFromStaleDaemon(filepath.Join(dir, "replica.pid"), filepath.Join(dir, "replica.sock"), dir)
	if err != nil {
		t.Errorf("Expected nil when no PID file exists, got %v", err)
	}
}

func TestRecoverFromStaleDaemon_ProcessRunning(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "replica.pid")

	// PID 1 is always running and is never this test process.
	if err := os.WriteFile(pidPath, []byte("1"), 0o644); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}

	err := daemon.RecoverFromStaleDaemon(pidPath, filepath.Join(dir, "replica.sock"), dir)
	if !errors.Is(err, daemon.ErrDaemonAlreadyRunning) {
		t.Errorf("Expected ErrDaemonAlreadyRunning when process is running, got %v", err)
	}

	if _, err := os.Stat(pidPath); os.IsNotExist(err) {
		t.Error("PID file should not have been removed when process is running")
	}
}

func TestRecoverFromStaleDaemon_StaleProcess(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "replica.pid")
	socketPath := filepath.Join(dir, "replica.sock")
	historyDir := filepath.Join(dir, "history.db")

	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		t.Fatalf("Failed to create history directory: %v", err)
	}
	lockPath := filepath.Join(historyDir, "LOCK")

	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(stalePID)), 0o644); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}
	if err := os.WriteFile(socketPath, []byte("fake socket"), 0o644); err != nil {
		t.Fatalf("Failed to write socket file: %v", err)
	}
	if err := os.WriteFile(lockPath, []byte("fake lock"), 0o644); err != nil {
		t.Fatalf("Failed to write lock file: %v", err)
	}

	if err := daemon.RecoverFromStaleDaemon(pidPath, socketPath, historyDir); err != nil {
		t.Errorf("Expected nil after cleaning up stale daemon, got %v", err)
	}

	for _, path := range []string{pidPath, socketPath, lockPath} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("File %s should have been removed after recovery", path)
		}
	}
}

func TestClaim(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "replica.pid")

	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(stalePID)), 0o644); err != nil {
		t.Fatal(err)
	}

	release, err := daemon.Claim(pidPath, filepath.Join(dir, "replica.sock"), "")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	pid, err := daemon.ReadPIDFile(pidPath)
	if err != nil || pid != os.Getpid() {
		t.Errorf("PID file = %d, %v; want %d", pid, err, os.Getpid())
	}

	release()
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("release should remove the PID file")
	}
}
