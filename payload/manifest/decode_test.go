package manifest

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func buildExtent(start, n uint64) []byte {
	var b []byte
	b = appendVarintField(b, fieldExtentStartBlock, start)
	b = appendVarintField(b, fieldExtentNumBlocks, n)
	return b
}

func buildOp(opType uint64, dstStart, dstBlocks uint64) []byte {
	var b []byte
	b = appendVarintField(b, fieldOpType, opType)
	b = appendBytesField(b, fieldOpDstExtents, buildExtent(dstStart, dstBlocks))
	return b
}

func buildPartition(name string, size uint64, ops [][]byte) []byte {
	var b []byte
	b = appendBytesField(b, fieldPartitionName, []byte(name))
	var info []byte
	info = appendVarintField(info, fieldPartitionInfoSize, size)
	b = appendBytesField(b, fieldPartitionNewInfo, info)
	for _, op := range ops {
		b = appendBytesField(b, fieldPartitionOperations, op)
	}
	return b
}

func TestDecodeManifestRoundTrip(t *testing.T) {
	op := buildOp(0 /* REPLACE */, 0, 2)
	part := buildPartition("boot", 8192, [][]byte{op})

	var raw []byte
	raw = appendVarintField(raw, fieldManifestBlockSize, 4096)
	raw = appendVarintField(raw, fieldManifestMinorVersion, 1)
	raw = appendBytesField(raw, fieldManifestPartitions, part)

	m, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.BlockSize != 4096 {
		t.Errorf("BlockSize = %d, want 4096", m.BlockSize)
	}
	if len(m.Partitions) != 1 {
		t.Fatalf("Partitions = %d, want 1", len(m.Partitions))
	}
	p := m.Partitions[0]
	if p.Name != "boot" {
		t.Errorf("Name = %q, want boot", p.Name)
	}
	if p.NewInfo == nil || p.NewInfo.Size != 8192 {
		t.Errorf("NewInfo.Size = %v, want 8192", p.NewInfo)
	}
	if len(p.Operations) != 1 {
		t.Fatalf("Operations = %d, want 1", len(p.Operations))
	}
	if len(p.Operations[0].DstExtents) != 1 || p.Operations[0].DstExtents[0].NumBlocks != 2 {
		t.Errorf("DstExtents = %+v", p.Operations[0].DstExtents)
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	var raw []byte
	raw = appendVarintField(raw, 9999, 42) // field number outside the schema
	raw = appendVarintField(raw, fieldManifestBlockSize, 2048)

	m, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode should skip unknown fields, got error: %v", err)
	}
	if m.BlockSize != 2048 {
		t.Errorf("BlockSize = %d, want 2048", m.BlockSize)
	}
}

func TestDecodePartitionRequiresName(t *testing.T) {
	var part []byte
	part = appendVarintField(part, fieldPartitionRunPostinstall, 1)

	var raw []byte
	raw = appendBytesField(raw, fieldManifestPartitions, part)

	if _, err := Decode(raw); err == nil {
		t.Fatalf("expected error for partition with empty name")
	}
}
