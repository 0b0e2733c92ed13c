// Package verify streams a produced partition image through SHA-256 and
// compares it against the digest the manifest declared.
package verify

import (
	"bytes"
	"crypto/sha256"
	"io"
	"os"

	"github.com/indrora/payload-extract/payload"
)

// File hashes the file at path and compares it to want (skip by passing a
// nil/empty want, which always succeeds — used when --no-verify is set or
// the manifest declared no digest for this partition).
func File(path string, want []byte) error {
	if len(want) == 0 {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return payload.Wrap(payload.KindIoWrite, err, "open %s for verification", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return payload.Wrap(payload.KindIoWrite, err, "hash %s", path)
	}
	got := h.Sum(nil)
	if !bytes.Equal(got, want) {
		return payload.Wrap(payload.KindOutputHashMismatch, nil, "%s: got sha256 %x, want %x", path, got, want)
	}
	return nil
}

// Bytes hashes an in-memory buffer and compares it to want, reporting a
// mismatch as KindSourceHashMismatch (skip by passing a nil/empty want).
func Bytes(data []byte, want []byte) error {
	if len(want) == 0 {
		return nil
	}
	h := sha256.Sum256(data)
	if !bytes.Equal(h[:], want) {
		return payload.Wrap(payload.KindSourceHashMismatch, nil, "got sha256 %x, want %x", h[:], want)
	}
	return nil
}
