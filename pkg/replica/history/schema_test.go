package history_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jamesainslie/replica/pkg/replica/history"
)

func TestSchemaStampedOnOpen(t *testing.T) {
	s, err := history.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	schema := s.GetSchema()
	if schema == nil {
		t.Fatal("Expected schema to exist")
	}
	if schema.Version != history.CurrentSchemaVersion {
		t.Errorf("Expected version %d, got %d", history.CurrentSchemaVersion, schema.Version)
	}
}

func TestNewerSchemaRejected(t *testing.T) {
	dir := t.TempDir()

	s, err := history.Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.SetSchema(&history.Schema{Version: history.CurrentSchemaVersion + 1, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("SetSchema failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err = history.Open(dir)
	if !errors.Is(err, history.ErrNewerSchema) {
		t.Errorf("Open error = %v, want ErrNewerSchema", err)
	}
}
