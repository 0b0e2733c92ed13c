// Package ops executes one partition's install operations against its
// output image, dispatching each operation to the codec package and
// pulling operation data from the shared blob source.
package ops

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coreos/pkg/capnslog"

	"github.com/indrora/payload-extract/payload"
	"github.com/indrora/payload-extract/payload/codec"
	"github.com/indrora/payload-extract/payload/progress"
	"github.com/indrora/payload-extract/payload/source"
)

var plog = capnslog.NewPackageLogger("github.com/indrora/payload-extract", "ops")

// Options configures how a partition's operations are executed.
type Options struct {
	OutDir    string
	OldDir    string // non-empty enables differential mode
	Verify    bool   // verify data_sha256/src_sha256 as each op runs
	BlockSize uint64 // manifest's declared block_size; 0 means DefaultBlockSize
}

// Interpreter executes partitions against a single shared blob source.
type Interpreter struct {
	src        source.ByteSource // the payload's blob region, offset-relative
	opts       Options
	bus        *progress.Bus
	cancelFlag func() bool
}

// New builds an Interpreter. blobSrc must present offset 0 as the start of
// the blob region (i.e. it is typically a source.Sub over the payload's
// ByteSource, based at header.BlobOffset).
func New(blobSrc source.ByteSource, opts Options, bus *progress.Bus) *Interpreter {
	if opts.BlockSize == 0 {
		opts.BlockSize = payload.DefaultBlockSize
	}
	return &Interpreter{src: blobSrc, opts: opts, bus: bus, cancelFlag: bus.Cancelled}
}

// RunPartition executes every operation of p, in declared order, writing to
// <OutDir>/<name>.img. index identifies p's slot in the progress bus.
func (ip *Interpreter) RunPartition(index int, p *payload.PartitionUpdate, threadTag string) (err error) {
	outPath := filepath.Join(ip.opts.OutDir, p.Name+".img")
	size := targetSize(p, ip.opts.BlockSize)

	out, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return payload.WrapPartition(payload.KindIoWrite, p.Name, err, "create %s", outPath)
	}
	if err := out.Truncate(int64(size)); err != nil {
		out.Close()
		return payload.WrapPartition(payload.KindIoWrite, p.Name, err, "truncate %s to %d", outPath, size)
	}

	var old source.ByteSource
	if ip.opts.OldDir != "" {
		oldPath := filepath.Join(ip.opts.OldDir, p.Name+".img")
		lf, err := source.OpenLocalFile(oldPath)
		if err != nil {
			out.Close()
			return payload.WrapPartition(payload.KindIoWrite, p.Name, err, "open old image %s", oldPath)
		}
		old = lf
		if p.OldInfo != nil && len(p.OldInfo.SHA256) > 0 && ip.opts.Verify {
			if err := verifyWholeImage(old, p.OldInfo.SHA256); err != nil {
				old.Close()
				out.Close()
				return payload.WrapPartition(payload.KindSourceHashMismatch, p.Name, err, "old image %s failed pre-flight verification", oldPath)
			}
		}
	}

	ip.bus.Start(index, len(p.Operations), threadTag)

	defer func() {
		if old != nil {
			old.Close()
		}
		closeErr := out.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(outPath)
		}
	}()

	for opIdx, op := range p.Operations {
		if ip.cancelFlag() {
			return payload.WrapPartition(payload.KindCancelled, p.Name, nil, "cancelled before operation %d", opIdx)
		}
		if err := ip.runOp(p, op, out, old); err != nil {
			return err
		}
		ip.bus.CompleteOp(index)
	}

	return nil
}

func targetSize(p *payload.PartitionUpdate, blockSize uint64) uint64 {
	if p.NewInfo != nil && p.NewInfo.Size > 0 {
		return p.NewInfo.Size
	}
	var maxEnd uint64
	for _, op := range p.Operations {
		for _, e := range op.DstExtents {
			end := e.StartBlock + e.NumBlocks
			if end > maxEnd {
				maxEnd = end
			}
		}
	}
	return maxEnd * blockSize
}

func (ip *Interpreter) runOp(p *payload.PartitionUpdate, op payload.InstallOp, out *os.File, old source.ByteSource) error {
	switch op.Type {
	case payload.OpMove, payload.OpBSDiff:
		return payload.WrapPartition(payload.KindUnsupportedOp, p.Name, nil, "%s is deprecated in format v2 and is never valid here", op.Type)
	}

	if len(op.DstExtents) == 0 && op.Type != payload.OpZero && op.Type != payload.OpDiscard {
		return payload.WrapPartition(payload.KindOpLengthMismatch, p.Name, nil, "%s: empty dst_extents", op.Type)
	}

	var data []byte
	if op.HasData && op.DataLength > 0 {
		blobLen := ip.src.Len()
		end := int64(op.DataOffset) + int64(op.DataLength)
		if end > blobLen {
			return payload.WrapPartition(payload.KindOpLengthMismatch, p.Name, nil, "%s: data_offset+data_length %d exceeds blob region length %d", op.Type, end, blobLen)
		}
		buf := make([]byte, op.DataLength)
		if err := source.ReadFull(ip.src, buf, int64(op.DataOffset)); err != nil {
			return payload.WrapPartition(payload.KindIoWrite, p.Name, err, "%s: read operation data", op.Type)
		}
		data = buf

		if ip.opts.Verify && len(op.DataSHA256) > 0 {
			got := sha256.Sum256(data)
			if !bytesEqual(got[:], op.DataSHA256) {
				return payload.WrapPartition(payload.KindSourceHashMismatch, p.Name, nil, "%s: data_sha256 mismatch", op.Type)
			}
		}
	}

	switch op.Type {
	case payload.OpReplace, payload.OpReplaceBZ, payload.OpReplaceXZ, payload.OpZstd:
		return ip.runReplace(p, op, data, out)
	case payload.OpZero, payload.OpDiscard:
		return ip.runZero(p, op, out)
	case payload.OpSourceCopy:
		return ip.runSourceCopy(p, op, out, old)
	case payload.OpSourceBSDiff, payload.OpPuffDiff, payload.OpBrotliBSDiff, payload.OpZucchini, payload.OpLZ4DiffBSDiff, payload.OpLZ4DiffPuffDiff:
		return ip.runDiff(p, op, data, out, old)
	default:
		return payload.WrapPartition(payload.KindUnsupportedOp, p.Name, nil, "operation type %d", op.Type)
	}
}

func (ip *Interpreter) runReplace(p *payload.PartitionUpdate, op payload.InstallOp, data []byte, out *os.File) error {
	w := newExtentWriter(out, op.DstExtents, ip.opts.BlockSize)
	n, err := codec.StreamDecompress(op.Type, data, w)
	if err != nil {
		return wrapPartitionErr(p.Name, err)
	}
	if uint64(n) != w.capacity {
		return payload.WrapPartition(payload.KindOpLengthMismatch, p.Name, nil, "%s: decompressed %d bytes, dst_extents want %d", op.Type, n, w.capacity)
	}
	return nil
}

func (ip *Interpreter) runZero(p *payload.PartitionUpdate, op payload.InstallOp, out *os.File) error {
	w := newExtentWriter(out, op.DstExtents, ip.opts.BlockSize)
	if _, err := writeZeros(w, w.capacity); err != nil {
		return payload.WrapPartition(payload.KindIoWrite, p.Name, err, "%s: write zeros", op.Type)
	}
	return nil
}

func (ip *Interpreter) runSourceCopy(p *payload.PartitionUpdate, op payload.InstallOp, out *os.File, old source.ByteSource) error {
	if old == nil {
		return payload.WrapPartition(payload.KindInvalidArgument, p.Name, nil, "SOURCE_COPY requires --diff/--old")
	}
	if len(op.SrcExtents) != len(op.DstExtents) {
		return payload.WrapPartition(payload.KindOpLengthMismatch, p.Name, nil, "SOURCE_COPY: %d src_extents vs %d dst_extents", len(op.SrcExtents), len(op.DstExtents))
	}

	srcBuf, err := readExtents(old, op.SrcExtents, ip.opts.BlockSize)
	if err != nil {
		return payload.WrapPartition(payload.KindIoWrite, p.Name, err, "SOURCE_COPY: read source extents")
	}
	if ip.opts.Verify && len(op.SrcSHA256) > 0 {
		if err := verifyBytes(srcBuf, op.SrcSHA256); err != nil {
			return payload.WrapPartition(payload.KindSourceHashMismatch, p.Name, err, "SOURCE_COPY: src_sha256 mismatch")
		}
	}

	for i, se := range op.SrcExtents {
		de := op.DstExtents[i]
		if se.NumBlocks != de.NumBlocks {
			return payload.WrapPartition(payload.KindOpLengthMismatch, p.Name, nil, "SOURCE_COPY: extent pair %d length mismatch", i)
		}
	}

	w := newExtentWriter(out, op.DstExtents, ip.opts.BlockSize)
	n, err := w.Write(srcBuf)
	if err != nil {
		return payload.WrapPartition(payload.KindIoWrite, p.Name, err, "SOURCE_COPY: write dst_extents")
	}
	if uint64(n) != w.capacity {
		return payload.WrapPartition(payload.KindOpLengthMismatch, p.Name, nil, "SOURCE_COPY: wrote %d of %d bytes", n, w.capacity)
	}
	return nil
}

func (ip *Interpreter) runDiff(p *payload.PartitionUpdate, op payload.InstallOp, data []byte, out *os.File, old source.ByteSource) error {
	if old == nil {
		return payload.WrapPartition(payload.KindInvalidArgument, p.Name, nil, "%s requires --diff/--old", op.Type)
	}

	srcBuf, err := readExtents(old, op.SrcExtents, ip.opts.BlockSize)
	if err != nil {
		return payload.WrapPartition(payload.KindIoWrite, p.Name, err, "%s: read source extents", op.Type)
	}
	if ip.opts.Verify && len(op.SrcSHA256) > 0 {
		if err := verifyBytes(srcBuf, op.SrcSHA256); err != nil {
			return payload.WrapPartition(payload.KindSourceHashMismatch, p.Name, err, "%s: src_sha256 mismatch", op.Type)
		}
	}

	patched, err := codec.ApplyDiff(op.Type, srcBuf, data)
	if err != nil {
		return wrapPartitionErr(p.Name, err)
	}

	w := newExtentWriter(out, op.DstExtents, ip.opts.BlockSize)
	n, err := w.Write(patched)
	if err != nil {
		return payload.WrapPartition(payload.KindIoWrite, p.Name, err, "%s: write dst_extents", op.Type)
	}
	if uint64(n) != w.capacity {
		return payload.WrapPartition(payload.KindOpLengthMismatch, p.Name, nil, "%s: patched %d bytes, dst_extents want %d", op.Type, n, w.capacity)
	}
	return nil
}

func verifyWholeImage(src source.ByteSource, want []byte) error {
	h := sha256.New()
	buf := make([]byte, 1<<20)
	var off int64
	total := src.Len()
	for off < total {
		n := int64(len(buf))
		if off+n > total {
			n = total - off
		}
		read, err := src.ReadAt(buf[:n], off)
		if err != nil {
			return err
		}
		h.Write(buf[:read])
		off += int64(read)
	}
	got := h.Sum(nil)
	if !bytesEqual(got, want) {
		return fmt.Errorf("got sha256 %x, want %x", got, want)
	}
	return nil
}

func verifyBytes(data []byte, want []byte) error {
	got := sha256.Sum256(data)
	if !bytesEqual(got[:], want) {
		return fmt.Errorf("got sha256 %x, want %x", got[:], want)
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func wrapPartitionErr(name string, err error) error {
	var pe *payload.Error
	if errors.As(err, &pe) {
		if pe.Partition == "" {
			pe.Partition = name
		}
		return pe
	}
	return payload.WrapPartition(payload.KindIoWrite, name, err, "operation failed")
}
