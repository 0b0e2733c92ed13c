// Package zipfind locates the uncompressed payload.bin member inside an
// outer ZIP archive without relying on archive/zip's Reader, because the
// spec requires manual End-of-Central-Directory and ZIP64-locator scanning
// (some real OTA ZIPs set the ZIP64 sentinel fields inconsistently) and a
// recomputed local-header data offset, which archive/zip resolves
// internally and doesn't expose at that granularity.
package zipfind

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/coreos/pkg/capnslog"

	"github.com/indrora/payload-extract/payload"
	"github.com/indrora/payload-extract/payload/source"
)

var plog = capnslog.NewPackageLogger("github.com/indrora/payload-extract", "zipfind")

const (
	eocdSig       = 0x06054B50
	eocd64LocSig  = 0x07064B50
	eocd64Sig     = 0x06064B50
	centralDirSig = 0x02014B50
	localHdrSig   = 0x04034B50

	eocdMinLen  = 22
	maxCommentLen = 65535
	eocd64LocLen = 20

	payloadName = "payload.bin"
)

// Entry describes the located payload.bin member: its data start (absolute
// offset into the outer ZIP) and size.
type Entry struct {
	DataOffset int64
	Size       int64
}

// Locate scans src (an outer ZIP) for a STORED payload.bin member and
// returns its data offset and size. It returns payload.KindNotAZip if no
// EOCD record is found at all, and payload.KindPayloadNotInZip if the ZIP
// is well-formed but has no usable payload.bin member.
func Locate(src source.ByteSource) (*Entry, error) {
	eocdOff, eocdBuf, err := findEOCD(src)
	if err != nil {
		return nil, err
	}

	cdOffset, cdSize, entryCount, err := readEOCDFields(src, eocdOff, eocdBuf)
	if err != nil {
		return nil, err
	}

	entry, err := scanCentralDirectory(src, cdOffset, cdSize, entryCount)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// findEOCD scans the last maxCommentLen+eocdMinLen bytes of src for the
// EOCD signature, per APPNOTE 6.3.x §4.3.16.
func findEOCD(src source.ByteSource) (int64, []byte, error) {
	total := src.Len()
	if total < eocdMinLen {
		return 0, nil, payload.Wrap(payload.KindNotAZip, nil, "file too small to be a ZIP (%d bytes)", total)
	}

	scanLen := int64(maxCommentLen + eocdMinLen)
	if scanLen > total {
		scanLen = total
	}
	buf := make([]byte, scanLen)
	if err := source.ReadFull(src, buf, total-scanLen); err != nil {
		return 0, nil, payload.Wrap(payload.KindIoWrite, err, "read EOCD scan window")
	}

	sigBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(sigBytes, eocdSig)

	idx := bytes.LastIndex(buf, sigBytes)
	if idx == -1 {
		return 0, nil, payload.Wrap(payload.KindNotAZip, nil, "no end-of-central-directory record found")
	}
	eocdOff := total - scanLen + int64(idx)
	return eocdOff, buf[idx:], nil
}

// readEOCDFields parses the EOCD record at eocdOff (eocdBuf holds it and
// everything after, to the end of the scan window) and resolves the real
// central-directory offset/size/count, following the ZIP64 EOCD Locator
// when present. Per the design note, detection is not based solely on the
// 32-bit fields reading 0xFFFFFFFF: the locator signature in the 20 bytes
// immediately preceding the EOCD record is always also checked.
func readEOCDFields(src source.ByteSource, eocdOff int64, eocdBuf []byte) (cdOffset, cdSize int64, count int, err error) {
	if len(eocdBuf) < eocdMinLen {
		return 0, 0, 0, payload.Wrap(payload.KindNotAZip, nil, "truncated EOCD record")
	}

	diskEntryCount := binary.LittleEndian.Uint16(eocdBuf[10:12])
	cdSize32 := binary.LittleEndian.Uint32(eocdBuf[12:16])
	cdOffset32 := binary.LittleEndian.Uint32(eocdBuf[16:20])

	useZip64 := cdOffset32 == 0xFFFFFFFF || cdSize32 == 0xFFFFFFFF

	if eocdOff >= eocd64LocLen {
		locBuf := make([]byte, eocd64LocLen)
		if rerr := source.ReadFull(src, locBuf, eocdOff-eocd64LocLen); rerr == nil {
			if binary.LittleEndian.Uint32(locBuf[0:4]) == eocd64LocSig {
				useZip64 = true
				zip64EocdOff := int64(binary.LittleEndian.Uint64(locBuf[8:16]))
				return readZip64EOCD(src, zip64EocdOff)
			}
		}
	}

	if useZip64 {
		return 0, 0, 0, payload.Wrap(payload.KindNotAZip, nil, "ZIP64 sentinel set but no ZIP64 EOCD locator found")
	}

	return int64(cdOffset32), int64(cdSize32), int(diskEntryCount), nil
}

func readZip64EOCD(src source.ByteSource, off int64) (cdOffset, cdSize int64, count int, err error) {
	hdr := make([]byte, 56)
	if rerr := source.ReadFull(src, hdr, off); rerr != nil {
		return 0, 0, 0, payload.Wrap(payload.KindIoWrite, rerr, "read ZIP64 EOCD record")
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != eocd64Sig {
		return 0, 0, 0, payload.Wrap(payload.KindNotAZip, nil, "ZIP64 EOCD locator points at wrong signature")
	}
	entries := binary.LittleEndian.Uint64(hdr[32:40])
	size := binary.LittleEndian.Uint64(hdr[40:48])
	offset := binary.LittleEndian.Uint64(hdr[48:56])
	plog.Infof("zip64 central directory: %d entries, offset %d, size %d", entries, offset, size)
	return int64(offset), int64(size), int(entries), nil
}

// scanCentralDirectory walks entryCount central directory records starting
// at cdOffset, looking for a STORED payload.bin member.
func scanCentralDirectory(src source.ByteSource, cdOffset, cdSize int64, entryCount int) (*Entry, error) {
	buf := make([]byte, cdSize)
	if err := source.ReadFull(src, buf, cdOffset); err != nil {
		return nil, payload.Wrap(payload.KindIoWrite, err, "read central directory")
	}

	pos := 0
	for i := 0; i < entryCount && pos+46 <= len(buf); i++ {
		if binary.LittleEndian.Uint32(buf[pos:pos+4]) != centralDirSig {
			return nil, payload.Wrap(payload.KindNotAZip, nil, "central directory entry %d: bad signature", i)
		}
		compressionMethod := binary.LittleEndian.Uint16(buf[pos+10 : pos+12])
		compressedSize := uint64(binary.LittleEndian.Uint32(buf[pos+20 : pos+24]))
		uncompressedSize := uint64(binary.LittleEndian.Uint32(buf[pos+24 : pos+28]))
		nameLen := int(binary.LittleEndian.Uint16(buf[pos+28 : pos+30]))
		extraLen := int(binary.LittleEndian.Uint16(buf[pos+30 : pos+32]))
		commentLen := int(binary.LittleEndian.Uint16(buf[pos+32 : pos+34]))
		localHeaderOffset := uint64(binary.LittleEndian.Uint32(buf[pos+42 : pos+46]))

		nameStart := pos + 46
		if nameStart+nameLen > len(buf) {
			return nil, payload.Wrap(payload.KindNotAZip, nil, "central directory entry %d: truncated name", i)
		}
		name := string(buf[nameStart : nameStart+nameLen])

		// ZIP64 extra field can carry 64-bit versions of any of the above
		// fields that read as the 0xFFFFFFFF sentinel in the fixed part.
		extraStart := nameStart + nameLen
		extra := buf[extraStart:min(extraStart+extraLen, len(buf))]
		uncompressedSize, localHeaderOffset = applyZip64Extra(extra, uncompressedSize, compressedSize, localHeaderOffset)

		if isPayloadName(name) && compressionMethod == 0 {
			dataOffset, err := resolveDataOffset(src, int64(localHeaderOffset))
			if err != nil {
				return nil, err
			}
			if err := verifyPayloadMagic(src, dataOffset); err != nil {
				return nil, err
			}
			return &Entry{DataOffset: dataOffset, Size: int64(uncompressedSize)}, nil
		}
		if isPayloadName(name) && compressionMethod != 0 {
			return nil, payload.Wrap(payload.KindPayloadNotInZip, nil, "%s is compressed (method %d); only STORED members are supported", name, compressionMethod)
		}

		pos = extraStart + extraLen + commentLen
	}

	return nil, payload.Wrap(payload.KindPayloadNotInZip, nil, "no %s member found", payloadName)
}

func isPayloadName(name string) bool {
	return name == payloadName || strings.HasSuffix(name, "/"+payloadName)
}

// applyZip64Extra scans the extensible data field (tag 0x0001) for 64-bit
// overrides of fields that were stored as the 32-bit sentinel. Per APPNOTE
// 6.3.x §4.5.3, the ZIP64 extra field only carries the subfields whose
// fixed-width counterpart actually sentinel-triggered, in the fixed order
// uncompressed size, compressed size, local header offset, disk number
// start — so the cursor must only advance past a subfield when that
// subfield's sentinel condition held, not unconditionally past all of them.
func applyZip64Extra(extra []byte, uncompressedSize, compressedSize, localHeaderOffset uint64) (uint64, uint64) {
	needsSize := uncompressedSize == 0xFFFFFFFF
	needsCompressed := compressedSize == 0xFFFFFFFF
	needsOffset := localHeaderOffset == 0xFFFFFFFF
	if !needsSize && !needsCompressed && !needsOffset {
		return uncompressedSize, localHeaderOffset
	}
	pos := 0
	for pos+4 <= len(extra) {
		tag := binary.LittleEndian.Uint16(extra[pos : pos+2])
		size := int(binary.LittleEndian.Uint16(extra[pos+2 : pos+4]))
		body := extra[pos+4 : min(pos+4+size, len(extra))]
		if tag == 0x0001 {
			off := 0
			if needsSize && off+8 <= len(body) {
				uncompressedSize = binary.LittleEndian.Uint64(body[off : off+8])
				off += 8
			}
			if needsCompressed && off+8 <= len(body) {
				off += 8 // compressed size value is unused but still occupies the subfield
			}
			if needsOffset && off+8 <= len(body) {
				localHeaderOffset = binary.LittleEndian.Uint64(body[off : off+8])
			}
			return uncompressedSize, localHeaderOffset
		}
		pos += 4 + size
	}
	return uncompressedSize, localHeaderOffset
}

// resolveDataOffset re-reads the local file header at localHeaderOffset to
// compute the real data start: central-directory extra length cannot be
// trusted alone because the local header's extra field may differ in
// length from the central directory's.
func resolveDataOffset(src source.ByteSource, localHeaderOffset int64) (int64, error) {
	hdr := make([]byte, 30)
	if err := source.ReadFull(src, hdr, localHeaderOffset); err != nil {
		return 0, payload.Wrap(payload.KindIoWrite, err, "read local file header at %d", localHeaderOffset)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != localHdrSig {
		return 0, payload.Wrap(payload.KindNotAZip, nil, "local file header at %d: bad signature", localHeaderOffset)
	}
	nameLen := int64(binary.LittleEndian.Uint16(hdr[26:28]))
	extraLen := int64(binary.LittleEndian.Uint16(hdr[28:30]))
	return localHeaderOffset + 30 + nameLen + extraLen, nil
}

func verifyPayloadMagic(src source.ByteSource, dataOffset int64) error {
	magic := make([]byte, len(payload.Magic))
	if err := source.ReadFull(src, magic, dataOffset); err != nil {
		return payload.Wrap(payload.KindIoWrite, err, "read magic at resolved data offset %d", dataOffset)
	}
	if string(magic) != payload.Magic {
		return payload.Wrap(payload.KindInvalidMagic, nil, "resolved data offset %d does not start with %q", dataOffset, payload.Magic)
	}
	return nil
}
