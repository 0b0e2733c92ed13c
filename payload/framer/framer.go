// Package framer validates the payload's fixed 24-byte prologue and
// resolves the absolute offsets of the manifest, metadata signature, and
// blob regions.
package framer

import (
	"encoding/binary"

	"github.com/indrora/payload-extract/payload"
	"github.com/indrora/payload-extract/payload/source"
)

const prologueLen = 24

// DefaultManifestCap is the default sanity cap on manifest size.
const DefaultManifestCap = 256 << 20 // 256 MiB

// Frame reads and validates the payload prologue at the start of src
// (src's offset 0 must be the "CrAU" magic — callers resolve the payload
// offset inside an outer ZIP before constructing src, typically via
// source.Sub over the ZIP locator's Entry).
func Frame(src source.ByteSource, manifestCap int64) (*payload.Header, error) {
	if manifestCap <= 0 {
		manifestCap = DefaultManifestCap
	}

	buf := make([]byte, prologueLen)
	if err := source.ReadFull(src, buf, 0); err != nil {
		return nil, payload.Wrap(payload.KindIoWrite, err, "read payload prologue")
	}

	magic := buf[0:4]
	if string(magic) != payload.Magic {
		return nil, payload.Wrap(payload.KindInvalidMagic, nil, "got %q, want %q", magic, payload.Magic)
	}

	version := binary.BigEndian.Uint64(buf[4:12])
	if version != payload.FileFormatVersion {
		return nil, payload.Wrap(payload.KindUnsupportedVersion, nil, "version %d is not supported (only %d)", version, payload.FileFormatVersion)
	}

	manifestSize := binary.BigEndian.Uint64(buf[12:20])
	if manifestSize == 0 {
		return nil, payload.Wrap(payload.KindManifestDecode, nil, "manifest size is zero")
	}
	if int64(manifestSize) > manifestCap {
		return nil, payload.Wrap(payload.KindManifestTooLarge, nil, "manifest size %d exceeds cap %d", manifestSize, manifestCap)
	}

	metadataSigSize := binary.BigEndian.Uint32(buf[20:24])

	manifestOffset := uint64(prologueLen)
	blobOffset := manifestOffset + manifestSize + uint64(metadataSigSize)

	if int64(blobOffset) > src.Len() {
		return nil, payload.Wrap(payload.KindManifestDecode, nil, "manifest+signature region (ending at %d) exceeds payload length %d", blobOffset, src.Len())
	}

	return &payload.Header{
		PayloadOffset:   0,
		Version:         version,
		ManifestSize:    manifestSize,
		MetadataSigSize: metadataSigSize,
		ManifestOffset:  manifestOffset,
		BlobOffset:      blobOffset,
	}, nil
}

// ReadManifestBytes fetches the raw manifest region described by hdr.
func ReadManifestBytes(src source.ByteSource, hdr *payload.Header) ([]byte, error) {
	buf := make([]byte, hdr.ManifestSize)
	if err := source.ReadFull(src, buf, int64(hdr.ManifestOffset)); err != nil {
		return nil, payload.Wrap(payload.KindIoWrite, err, "read manifest bytes")
	}
	return buf, nil
}
