// Package hasher computes content digests for build inputs and outputs.
//
// Digests are BLAKE3-256 over file bytes only. Filesystem metadata (mtime,
// size, mode) never contributes, so touching a file without changing its
// content produces the same digest.
package hasher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
)

// ErrDependencyMissing marks an input path that does not exist at hash time.
// A missing input is a hard error for the caller, not a rebuild signal.
var ErrDependencyMissing = errors.New("dependency missing")

// Digest is a hex-encoded BLAKE3-256 digest.
type Digest string

// Bytes digests an in-memory payload.
func Bytes(data []byte) Digest {
	sum := blake3.Sum256(data)
	return Digest(fmt.Sprintf("%x", sum))
}

// File digests the content of the file at path. A nonexistent path returns
// ErrDependencyMissing wrapped with the path.
func File(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", path, ErrDependencyMissing)
		}
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return Digest(fmt.Sprintf("%x", h.Sum(nil))), nil
}

// Strings digests an ordered sequence of strings. Each part is length-prefixed
// so that ("ab","c") and ("a","bc") cannot collide.
func Strings(parts ...string) Digest {
	h := blake3.New()
	var lenBuf [8]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write([]byte(p))
	}
	return Digest(fmt.Sprintf("%x", h.Sum(nil)))
}

// Combine folds per-input digests into one composite digest. Order is
// significant: inputs are combined in declaration order, and that order is
// part of the cache-key canonicalization.
func Combine(parts ...Digest) Digest {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = string(p)
	}
	return Strings(strs...)
}

// DefaultMemoSize bounds a session's per-path digest memo.
const DefaultMemoSize = 4096

// Session memoizes file digests for the duration of one build pass. Sessions
// must not outlive a pass: the memo is keyed by path alone, so a fresh
// session is what guarantees edits between passes are observed.
type Session struct {
	memo *lru.Cache[string, Digest]
}

// NewSession returns a Session with the default memo capacity.
func NewSession() *Session {
	memo, err := lru.New[string, Digest](DefaultMemoSize)
	if err != nil {
		// lru.New fails only for a non-positive size.
		panic(err)
	}
	return &Session{memo: memo}
}

// File digests path, serving repeats from the memo.
func (s *Session) File(path string) (Digest, error) {
	key := filepath.Clean(path)
	if d, ok := s.memo.Get(key); ok {
		return d, nil
	}
	d, err := File(key)
	if err != nil {
		return "", err
	}
	s.memo.Add(key, d)
	return d, nil
}

// Rehash digests path ignoring the memo and refreshes the memo entry. Call
// it after writing a file mid-pass, or later readers would see the stale
// memoized digest.
func (s *Session) Rehash(path string) (Digest, error) {
	key := filepath.Clean(path)
	d, err := File(key)
	if err != nil {
		return "", err
	}
	s.memo.Add(key, d)
	return d, nil
}

// Files digests every path in order and combines the results.
func (s *Session) Files(paths []string) (Digest, error) {
	parts := make([]Digest, 0, len(paths))
	for _, p := range paths {
		d, err := s.File(p)
		if err != nil {
			return "", err
		}
		parts = append(parts, d)
	}
	return Combine(parts...), nil
}
