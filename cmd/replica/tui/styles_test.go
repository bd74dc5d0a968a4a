package tui

import (
	"strings"
	"testing"

	"github.com/jamesainslie/replica/pkg/replica/journal"
)

func TestRepeatChar(t *testing.T) {
	tests := []struct {
		char     rune
		n        int
		expected string
	}{
		{'a', 0, ""},
		{'a', -1, ""},
		{'a', 1, "a"},
		{'a', 5, "aaaaa"},
		{'─', 3, "───"},
	}

	for _, tt := range tests {
		result := repeatChar(tt.char, tt.n)
		if result != tt.expected {
			t.Errorf("repeatChar(%q, %d) = %q, want %q", tt.char, tt.n, result, tt.expected)
		}
	}
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		path     string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exact_len", 9, "exact_len"},
		{"/very/long/path/to/file.txt", 20, ".../path/to/file.txt"},
		{"/very/long/path/to/file.txt", 10, "...ile.txt"},
		{"abcd", 3, "abc"},
		{"abcdef", 4, "...f"},
	}

	for _, tt := range tests {
		result := truncatePath(tt.path, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncatePath(%q, %d) = %q, want %q", tt.path, tt.maxLen, result, tt.expected)
		}
		if len(result) > tt.maxLen {
			t.Errorf("truncatePath(%q, %d) result length %d exceeds maxLen", tt.path, tt.maxLen, len(result))
		}
	}
}

func TestKindChar(t *testing.T) {
	tests := []struct {
		kind     journal.Kind
		expected string
	}{
		{journal.CreateDir, "+"},
		{journal.AddFile, "+"},
		{journal.ModifyFile, "~"},
		{journal.RemoveDir, "-"},
		{journal.RemoveFile, "-"},
		{journal.Kind(42), "?"},
	}

	for _, tt := range tests {
		if got := kindChar(tt.kind); got != tt.expected {
			t.Errorf("kindChar(%v) = %q, want %q", tt.kind, got, tt.expected)
		}
	}
}

func TestRenderKeyHints(t *testing.T) {
	out := renderKeyHints("q", "quit", "t", "trigger")
	for _, want := range []string{"[q]", "quit", "[t]", "trigger"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderKeyHints() missing %q in %q", want, out)
		}
	}

	if got := renderKeyHints("dangling"); got != "" {
		t.Errorf("renderKeyHints(odd) = %q, want empty", got)
	}
}
