// Package hasher computes the SHA-1 digests the upload service verifies:
// a running whole-content digest and one-shot per-chunk digests.
package hasher

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"hash"
)

// ErrFinalized is returned when a Hasher is used after Finalize.
var ErrFinalized = errors.New("hasher already finalized")

// Hasher is a streaming SHA-1 digest that is finalized exactly once.
type Hasher struct {
	h    hash.Hash
	done bool
}

func New() *Hasher {
	return &Hasher{h: sha1.New()}
}

// Update feeds p into the digest in call order.
func (hs *Hasher) Update(p []byte) error {
	if hs.done {
		return ErrFinalized
	}
	hs.h.Write(p)
	return nil
}

// Write implements io.Writer so a Hasher can sit behind io.Copy or io.MultiWriter.
func (hs *Hasher) Write(p []byte) (int, error) {
	if err := hs.Update(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Finalize returns the lowercase hex digest. A second call fails.
func (hs *Hasher) Finalize() (string, error) {
	if hs.done {
		return "", ErrFinalized
	}
	hs.done = true
	return hex.EncodeToString(hs.h.Sum(nil)), nil
}

// Sum returns the lowercase hex SHA-1 of data.
func Sum(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
