package ops

import (
	"os"

	"github.com/indrora/payload-extract/payload"
	"github.com/indrora/payload-extract/payload/source"
)

// extentWriter sequences writes across a dst_extent list in declared order,
// translating each byte offset through the partition's block size before
// issuing a WriteAt. Writing past the last extent's capacity is an error
// rather than a silent truncation, since a surplus means the manifest and
// the decoded stream disagree about the operation's length.
type extentWriter struct {
	f         *os.File
	extents   []payload.Extent
	idx       int
	posInExt  uint64
	capacity  uint64
	blockSize uint64
}

func newExtentWriter(f *os.File, extents []payload.Extent, blockSize uint64) *extentWriter {
	var capacity uint64
	for _, e := range extents {
		capacity += e.ByteLen(blockSize)
	}
	return &extentWriter{f: f, extents: extents, capacity: capacity, blockSize: blockSize}
}

func (w *extentWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if w.idx >= len(w.extents) {
			return written, payload.Wrap(payload.KindOpLengthMismatch, nil, "write exceeds sum of dst_extents by at least %d bytes", len(p))
		}
		ext := w.extents[w.idx]
		extLen := ext.ByteLen(w.blockSize)
		remain := extLen - w.posInExt
		if remain == 0 {
			w.idx++
			w.posInExt = 0
			continue
		}
		n := uint64(len(p))
		if n > remain {
			n = remain
		}
		off := int64(ext.Offset(w.blockSize) + w.posInExt)
		wrote, err := w.f.WriteAt(p[:n], off)
		written += wrote
		w.posInExt += uint64(wrote)
		p = p[wrote:]
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// zeroReader is an io.Reader that yields an unbounded stream of zero bytes.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func writeZeros(w *extentWriter, n uint64) (int64, error) {
	buf := make([]byte, 64*1024)
	var total int64
	for total < int64(n) {
		chunk := uint64(len(buf))
		if remain := n - uint64(total); chunk > remain {
			chunk = remain
		}
		wrote, err := w.Write(buf[:chunk])
		total += int64(wrote)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// readExtents reads and concatenates, in order, the bytes an extent list
// covers in src. Used to assemble the old-image bytes SOURCE_COPY and the
// bsdiff-family operations need before they can verify src_sha256 or
// produce output.
func readExtents(src source.ByteSource, extents []payload.Extent, blockSize uint64) ([]byte, error) {
	var total uint64
	for _, e := range extents {
		total += e.ByteLen(blockSize)
	}
	buf := make([]byte, total)
	var off uint64
	for _, e := range extents {
		n := e.ByteLen(blockSize)
		if err := source.ReadFull(src, buf[off:off+n], int64(e.Offset(blockSize))); err != nil {
			return nil, err
		}
		off += n
	}
	return buf, nil
}
