// Package manifest decodes the tag/length/varint-framed DeltaArchiveManifest
// that sits at the head of a payload, using the low-level protobuf wire
// decoder (google.golang.org/protobuf/encoding/protowire) directly instead
// of a protoc-generated message: the subset of fields this engine cares
// about is fixed (see spec §3), and decoding by hand lets every field stay
// forward-compatible by construction — an unrecognized tag is always
// skipped by its wire type rather than rejected, so newer manifests with
// fields this engine doesn't know about still decode.
package manifest

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/indrora/payload-extract/payload"
)

// Field numbers below follow the public update_metadata.proto schema used
// by Android's update_engine.
const (
	fieldManifestBlockSize         = 3
	fieldManifestSignaturesOffset  = 4
	fieldManifestSignaturesSize    = 5
	fieldManifestMaxTimestamp      = 10
	fieldManifestMinorVersion      = 12
	fieldManifestPartitions        = 13
	fieldManifestPartialUpdate     = 14
	fieldManifestSecurityPatchLvl  = 15
	fieldManifestApexInfo          = 16

	fieldPartitionName           = 1
	fieldPartitionRunPostinstall = 2
	fieldPartitionOldInfo        = 6
	fieldPartitionNewInfo        = 7
	fieldPartitionOperations     = 8
	fieldPartitionMergeOps       = 10
	fieldPartitionVersion        = 11

	fieldPartitionInfoSize = 1
	fieldPartitionInfoHash = 2

	fieldOpType       = 1
	fieldOpDataOffset = 2
	fieldOpDataLength = 3
	fieldOpSrcExtents = 4
	fieldOpDstExtents = 6
	fieldOpDataSHA256 = 8
	fieldOpSrcSHA256  = 9

	fieldExtentStartBlock = 1
	fieldExtentNumBlocks  = 2

	fieldApexName              = 1
	fieldApexVersion           = 2
	fieldApexIsCompressed      = 3
	fieldApexDecompressedSize  = 4
)

// forEachField walks buf as a sequence of (tag, value) pairs, invoking fn
// for every field. fn returns the number of bytes of buf its value
// occupied; forEachField itself only consumes the tag.
func forEachField(buf []byte, fn func(num protowire.Number, typ protowire.Type, rest []byte) (int, error)) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return payload.Wrap(payload.KindManifestDecode, nil, "invalid field tag")
		}
		buf = buf[n:]
		consumed, err := fn(num, typ, buf)
		if err != nil {
			return err
		}
		if consumed < 0 || consumed > len(buf) {
			return payload.Wrap(payload.KindManifestDecode, nil, "field %d: invalid consumed length", num)
		}
		buf = buf[consumed:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, buf)
	if n < 0 {
		return 0, payload.Wrap(payload.KindManifestDecode, nil, "field %d: cannot skip unknown value", num)
	}
	return n, nil
}

func consumeVarint(buf []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, 0, payload.Wrap(payload.KindManifestDecode, nil, "invalid varint")
	}
	return v, n, nil
}

func consumeBytes(buf []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return nil, 0, payload.Wrap(payload.KindManifestDecode, nil, "invalid length-delimited field")
	}
	return v, n, nil
}

// Decode parses raw as a DeltaArchiveManifest and returns the subset of
// fields spec §3 retains.
func Decode(raw []byte) (*payload.Manifest, error) {
	m := &payload.Manifest{BlockSize: payload.DefaultBlockSize}

	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case fieldManifestBlockSize:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			m.BlockSize = v
			return n, nil
		case fieldManifestSignaturesOffset:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			m.SignaturesOffset = v
			return n, nil
		case fieldManifestSignaturesSize:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			m.SignaturesSize = v
			return n, nil
		case fieldManifestMaxTimestamp:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			m.MaxTimestamp = int64(v)
			return n, nil
		case fieldManifestMinorVersion:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			m.MinorVersion = uint32(v)
			return n, nil
		case fieldManifestPartialUpdate:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			m.PartialUpdate = v != 0
			return n, nil
		case fieldManifestSecurityPatchLvl:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			m.SecurityPatchLevel = string(v)
			return n, nil
		case fieldManifestApexInfo:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			apex, err := decodeApexInfo(v)
			if err != nil {
				return 0, err
			}
			m.ApexInfo = append(m.ApexInfo, *apex)
			return n, nil
		case fieldManifestPartitions:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			part, err := decodePartition(v)
			if err != nil {
				return 0, err
			}
			m.Partitions = append(m.Partitions, *part)
			return n, nil
		default:
			return skip(num, typ, buf)
		}
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decodePartition(raw []byte) (*payload.PartitionUpdate, error) {
	p := &payload.PartitionUpdate{}
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case fieldPartitionName:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			p.Name = string(v)
			return n, nil
		case fieldPartitionRunPostinstall:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			p.RunPostinstall = v != 0
			return n, nil
		case fieldPartitionVersion:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			p.Version = string(v)
			return n, nil
		case fieldPartitionOldInfo:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			info, err := decodePartitionInfo(v)
			if err != nil {
				return 0, err
			}
			p.OldInfo = info
			return n, nil
		case fieldPartitionNewInfo:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			info, err := decodePartitionInfo(v)
			if err != nil {
				return 0, err
			}
			p.NewInfo = info
			return n, nil
		case fieldPartitionOperations:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			op, err := decodeOp(v)
			if err != nil {
				return 0, err
			}
			p.Operations = append(p.Operations, *op)
			return n, nil
		case fieldPartitionMergeOps:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			op, err := decodeOp(v)
			if err != nil {
				return 0, err
			}
			p.MergeOperations = append(p.MergeOperations, *op)
			return n, nil
		default:
			return skip(num, typ, buf)
		}
	})
	if err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, payload.Wrap(payload.KindManifestDecode, nil, "partition with empty name")
	}
	return p, nil
}

func decodePartitionInfo(raw []byte) (*payload.PartitionInfo, error) {
	info := &payload.PartitionInfo{}
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case fieldPartitionInfoSize:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			info.Size = v
			return n, nil
		case fieldPartitionInfoHash:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			info.SHA256 = append([]byte(nil), v...)
			return n, nil
		default:
			return skip(num, typ, buf)
		}
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func decodeOp(raw []byte) (*payload.InstallOp, error) {
	op := &payload.InstallOp{}
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case fieldOpType:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			op.Type = payload.OpType(v)
			return n, nil
		case fieldOpDataOffset:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			op.DataOffset = v
			return n, nil
		case fieldOpDataLength:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			op.DataLength = v
			op.HasData = true
			return n, nil
		case fieldOpSrcExtents:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			ext, err := decodeExtent(v)
			if err != nil {
				return 0, err
			}
			op.SrcExtents = append(op.SrcExtents, *ext)
			return n, nil
		case fieldOpDstExtents:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			ext, err := decodeExtent(v)
			if err != nil {
				return 0, err
			}
			op.DstExtents = append(op.DstExtents, *ext)
			return n, nil
		case fieldOpDataSHA256:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			op.DataSHA256 = append([]byte(nil), v...)
			return n, nil
		case fieldOpSrcSHA256:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			op.SrcSHA256 = append([]byte(nil), v...)
			return n, nil
		default:
			return skip(num, typ, buf)
		}
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

func decodeExtent(raw []byte) (*payload.Extent, error) {
	ext := &payload.Extent{}
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case fieldExtentStartBlock:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			ext.StartBlock = v
			return n, nil
		case fieldExtentNumBlocks:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			ext.NumBlocks = v
			return n, nil
		default:
			return skip(num, typ, buf)
		}
	})
	if err != nil {
		return nil, err
	}
	return ext, nil
}

func decodeApexInfo(raw []byte) (*payload.ApexInfo, error) {
	a := &payload.ApexInfo{}
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case fieldApexName:
			v, n, err := consumeBytes(buf)
			if err != nil {
				return 0, err
			}
			a.PackageName = string(v)
			return n, nil
		case fieldApexVersion:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			a.Version = int64(v)
			return n, nil
		case fieldApexIsCompressed:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			a.IsCompressed = v != 0
			return n, nil
		case fieldApexDecompressedSize:
			v, n, err := consumeVarint(buf)
			if err != nil {
				return 0, err
			}
			a.DecompressedSize = int64(v)
			return n, nil
		default:
			return skip(num, typ, buf)
		}
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}
