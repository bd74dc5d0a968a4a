// Package hasher computes content digests used to decide whether a replica
// file differs from its source. Digests are for equality testing only.
package hasher

import (
	"bytes"
	"crypto/md5" //nolint:gosec // equality check, not integrity or authentication
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/jamesainslie/replica/pkg/replica/syncerr"
)

// ChunkSize is the number of bytes read per step while hashing.
const ChunkSize = 8 * 1024

// Algorithm names a digest function.
type Algorithm string

// Supported algorithms.
const (
	MD5    Algorithm = "md5"
	XXHash Algorithm = "xxhash"
)

// ErrUnknownAlgorithm is returned for an unsupported algorithm name.
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// ParseAlgorithm parses an algorithm name. Empty selects MD5.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", MD5:
		return MD5, nil
	case XXHash:
		return XXHash, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAlgorithm, s)
	}
}

// Digest is a fixed-size content digest.
type Digest []byte

// String returns the hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d)
}

// Equal reports whether two digests are identical.
func (d Digest) Equal(other Digest) bool {
	return bytes.Equal(d, other)
}

// Hasher computes the digest of a file.
type Hasher interface {
	Hash(path string) (Digest, error)
}

// Streaming hashes files by folding ChunkSize reads into a streaming hash.
type Streaming struct {
	algo    Algorithm
	newHash func() hash.Hash
	bufs    sync.Pool
}

// New returns a streaming hasher for the given algorithm.
func New(algo Algorithm) (*Streaming, error) {
	s := &Streaming{algo: algo}
	switch algo {
	case MD5, "":
		s.algo = MD5
		s.newHash = md5.New
	case XXHash:
		s.newHash = func() hash.Hash { return xxhash.New() }
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, algo)
	}
	s.bufs.New = func() any {
		b := make([]byte, ChunkSize)
		return &b
	}
	return s, nil
}

// Algorithm returns the configured algorithm.
func (s *Streaming) Algorithm() Algorithm {
	return s.algo
}

// Hash reads path to EOF in ChunkSize steps and returns its digest.
// Open and read failures are returned as syncerr.FileUnreadable.
func (s *Streaming) Hash(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, syncerr.As(syncerr.FileUnreadable, "hash", path, err)
	}
	defer f.Close()

	bufPtr := s.bufs.Get().(*[]byte)
	defer s.bufs.Put(bufPtr)
	buf := *bufPtr

	h := s.newHash()
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n]) // hash.Hash.Write never fails
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, syncerr.As(syncerr.FileUnreadable, "hash", path, readErr)
		}
	}

	return h.Sum(nil), nil
}

// Equal reports whether files a and b have identical content. Files of
// different sizes are reported unequal without hashing.
func Equal(h Hasher, a, b string) (bool, error) {
	infoA, err := os.Stat(a)
	if err != nil {
		return false, syncerr.As(syncerr.FileUnreadable, "stat", a, err)
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false, syncerr.As(syncerr.FileUnreadable, "stat", b, err)
	}
	if infoA.Size() != infoB.Size() {
		return false, nil
	}

	digestA, err := h.Hash(a)
	if err != nil {
		return false, err
	}
	digestB, err := h.Hash(b)
	if err != nil {
		return false, err
	}
	return digestA.Equal(digestB), nil
}
