// Package hashsum computes the content-address used to identify a message
// independent of its path: a streaming SHA-1 digest presented as lowercase
// hex. Grounded on the two hashing routines the original carries
// (filehash.cc and maildir.cc's get_sha), canonicalized here on one
// implementation per spec.
package hashsum

import (
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"
)

// Size is the digest length in bytes (20 for SHA-1).
const Size = sha1.Size

// HexSize is the length of a valid hex-encoded hash string.
const HexSize = Size * 2

// Hasher streams bytes through a digest and renders the final value as
// lowercase hex. It is one-shot: Sum must only be called once.
type Hasher struct {
	h hash.Hash
}

// New returns a ready-to-use Hasher.
func New() *Hasher {
	return &Hasher{h: sha1.New()}
}

// Write feeds more content bytes into the digest. It never returns an
// error; the returned int always equals len(p), satisfying io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum finalizes the digest and returns it as lowercase hex.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// File streams r fully through a fresh Hasher and returns the resulting
// hex digest. Any read error from r is returned unchanged: per the
// Hasher contract, hashing fails only on I/O, never on content.
func File(r io.Reader) (string, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return h.Sum(), nil
}

// Valid reports whether s is a well-formed 40-character lowercase hex hash.
func Valid(s string) bool {
	if len(s) != HexSize {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
