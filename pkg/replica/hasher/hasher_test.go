package hasher

import (
	"bytes"
	"crypto/md5" //nolint:gosec // test comparison against the stdlib digest
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/replica/pkg/replica/syncerr"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestParseAlgorithm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"", MD5, false},
		{"md5", MD5, false},
		{" MD5 ", MD5, false},
		{"xxhash", XXHash, false},
		{"sha1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAlgorithm(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownAlgorithm)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStreaming_Hash_MatchesMD5(t *testing.T) {
	t.Parallel()

	// Spans several chunks and ends mid-chunk.
	data := bytes.Repeat([]byte("0123456789abcdef"), ChunkSize/4+3)
	path := writeFile(t, t.TempDir(), "big.bin", data)

	h, err := New(MD5)
	require.NoError(t, err)

	got, err := h.Hash(path)
	require.NoError(t, err)

	want := md5.Sum(data) //nolint:gosec // test only
	assert.Equal(t, Digest(want[:]), got)
	assert.Len(t, got.String(), 32)
}

func TestStreaming_Hash_EmptyFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "empty", nil)

	for _, algo := range []Algorithm{MD5, XXHash} {
		h, err := New(algo)
		require.NoError(t, err)

		d1, err := h.Hash(path)
		require.NoError(t, err)
		d2, err := h.Hash(path)
		require.NoError(t, err)
		assert.True(t, d1.Equal(d2), "algorithm %s should be deterministic", algo)
	}
}

func TestStreaming_Hash_XXHashDiffers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeFile(t, dir, "a", []byte("hello"))
	b := writeFile(t, dir, "b", []byte("hellp"))

	h, err := New(XXHash)
	require.NoError(t, err)
	assert.Equal(t, XXHash, h.Algorithm())

	da, err := h.Hash(a)
	require.NoError(t, err)
	db, err := h.Hash(b)
	require.NoError(t, err)

	assert.Len(t, da, 8)
	assert.False(t, da.Equal(db))
}

func TestStreaming_Hash_Unreadable(t *testing.T) {
	t.Parallel()

	h, err := New(MD5)
	require.NoError(t, err)

	_, err = h.Hash(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, syncerr.ErrFileUnreadable), "got %v", err)
}

func TestStreaming_Hash_Directory(t *testing.T) {
	t.Parallel()

	h, err := New(MD5)
	require.NoError(t, err)

	_, err = h.Hash(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, syncerr.ErrFileUnreadable), "got %v", err)
}

func TestNew_UnknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := New("crc32")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestEqual(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeFile(t, dir, "a", []byte("same content"))
	b := writeFile(t, dir, "b", []byte("same content"))
	c := writeFile(t, dir, "c", []byte("SAME content"))
	d := writeFile(t, dir, "d", []byte("short"))

	h, err := New(MD5)
	require.NoError(t, err)

	eq, err := Equal(h, a, b)
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = Equal(h, a, c)
	require.NoError(t, err)
	assert.False(t, eq)

	eq, err = Equal(h, a, d)
	require.NoError(t, err)
	assert.False(t, eq, "different sizes")

	_, err = Equal(h, a, filepath.Join(dir, "missing"))
	assert.True(t, errors.Is(err, syncerr.ErrFileUnreadable))
}
