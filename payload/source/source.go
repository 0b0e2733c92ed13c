// Package source implements the byte-source abstraction (local file,
// ZIP-member slice, ranged HTTP, prefetched mirror) that every other
// component reads the payload through. Two successful ReadAt calls at
// overlapping ranges must return identical bytes; seekability of the
// underlying transport is never assumed.
package source

import (
	"io"

	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"

	"github.com/indrora/payload-extract/payload"
)

var plog = capnslog.NewPackageLogger("github.com/indrora/payload-extract", "source")

// ByteSource is a logical content-addressable byte array of known length.
type ByteSource interface {
	// Len returns the total content length.
	Len() int64
	// ReadAt fills buf from offset and returns the number of bytes read.
	// It returns exactly min(Len()-offset, len(buf)) bytes on success.
	ReadAt(buf []byte, offset int64) (int, error)
	// Close releases any underlying handle (file descriptor, temp file, client).
	Close() error
}

// Ranged is implemented by sources that know whether they support
// independent concurrent reads without an external mutex (e.g. mmap).
type Ranged interface {
	ByteSource
	// Cleavable reports whether concurrent ReadAt calls may run without
	// serialization. Non-cleavable sources (a single seek+read handle, a
	// single HTTP client) must be wrapped in Locked.
	Cleavable() bool
}

// Sub presents a byte range of an underlying ByteSource as its own
// ByteSource without copying: the engine uses it to hand the payload region
// the ZIP locator found (the "payload.bin" member inside an outer ZIP) to
// the framer, and the blob region to the interpreter.
type Sub struct {
	Parent ByteSource
	Base   int64
	Size   int64
}

func NewSub(parent ByteSource, base, size int64) *Sub {
	return &Sub{Parent: parent, Base: base, Size: size}
}

func (s *Sub) Len() int64 { return s.Size }

func (s *Sub) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 || offset > s.Size {
		return 0, errors.Errorf("source: offset %d out of range [0,%d]", offset, s.Size)
	}
	want := int64(len(buf))
	if offset+want > s.Size {
		want = s.Size - offset
	}
	if want <= 0 {
		return 0, nil
	}
	return s.Parent.ReadAt(buf[:want], s.Base+offset)
}

func (s *Sub) Close() error { return nil }

func (s *Sub) Cleavable() bool {
	if r, ok := s.Parent.(Ranged); ok {
		return r.Cleavable()
	}
	return false
}

// AsReader adapts a ByteSource into a sequential io.Reader, in the style of
// flatcar-mantle's lang/reader.AtReader for io.ReaderAt.
func AsReader(src ByteSource) io.Reader { return &sourceReader{src: src} }

type sourceReader struct {
	src ByteSource
	off int64
}

func (r *sourceReader) Read(p []byte) (int, error) {
	if r.off >= r.src.Len() {
		return 0, io.EOF
	}
	n, err := r.src.ReadAt(p, r.off)
	r.off += int64(n)
	return n, err
}

// ReadFull fetches exactly len(buf) bytes at offset, or an error, regardless
// of whether the underlying ReadAt short-reads (it must not, per contract,
// but callers that want a hard guarantee can use this instead of ReadAt).
func ReadFull(src ByteSource, buf []byte, offset int64) error {
	n, err := src.ReadAt(buf, offset)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return payload.Wrap(payload.KindIoWrite, nil, "short read: got %d of %d bytes at offset %d", n, len(buf), offset)
	}
	return nil
}
