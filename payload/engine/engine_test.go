package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/indrora/payload-extract/payload"
	"github.com/indrora/payload-extract/payload/progress"
)

// Field numbers mirror payload/manifest/decode.go's DeltaArchiveManifest
// subset; duplicated here rather than imported since they are unexported.
const (
	fieldPartitionName       = 1
	fieldPartitionNewInfo    = 7
	fieldPartitionOperations = 8
	fieldPartitionInfoSize   = 1
	fieldOpType              = 1
	fieldOpDataOffset        = 2
	fieldOpDataLength        = 3
	fieldOpDstExtents        = 6
	fieldOpDataSHA256        = 8
	fieldExtentStartBlock    = 1
	fieldExtentNumBlocks     = 2
	fieldManifestPartitions = 13
)

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func buildManifestBytes(t *testing.T, blockData []byte, dataSHA256 []byte) []byte {
	t.Helper()
	var extent []byte
	extent = appendVarintField(extent, fieldExtentStartBlock, 0)
	extent = appendVarintField(extent, fieldExtentNumBlocks, 1)

	var op []byte
	op = appendVarintField(op, fieldOpType, uint64(payload.OpReplace))
	op = appendVarintField(op, fieldOpDataOffset, 0)
	op = appendVarintField(op, fieldOpDataLength, uint64(len(blockData)))
	op = appendBytesField(op, fieldOpDstExtents, extent)
	op = appendBytesField(op, fieldOpDataSHA256, dataSHA256)

	var info []byte
	info = appendVarintField(info, fieldPartitionInfoSize, uint64(len(blockData)))

	var part []byte
	part = appendBytesField(part, fieldPartitionName, []byte("boot"))
	part = appendBytesField(part, fieldPartitionNewInfo, info)
	part = appendBytesField(part, fieldPartitionOperations, op)

	var manifest []byte
	manifest = appendBytesField(manifest, fieldManifestPartitions, part)
	return manifest
}

func buildPayloadFile(t *testing.T, dir string) (string, []byte) {
	t.Helper()
	blockData := make([]byte, payload.DefaultBlockSize)
	for i := range blockData {
		blockData[i] = byte(i)
	}
	sum := sha256.Sum256(blockData)

	manifestBytes := buildManifestBytes(t, blockData, sum[:])

	prologue := make([]byte, 24)
	copy(prologue, payload.Magic)
	binary.BigEndian.PutUint64(prologue[4:12], payload.FileFormatVersion)
	binary.BigEndian.PutUint64(prologue[12:20], uint64(len(manifestBytes)))

	full := append(prologue, manifestBytes...)
	full = append(full, blockData...)

	path := filepath.Join(dir, "payload.bin")
	if err := os.WriteFile(path, full, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path, blockData
}

func TestRunExtractsBarePayload(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	path, blockData := buildPayloadFile(t, srcDir)

	result, err := Run(Options{
		Input:   path,
		OutDir:  outDir,
		Threads: 1,
		Verify:  true,
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Partitions) != 1 {
		t.Fatalf("Partitions = %d, want 1", len(result.Partitions))
	}
	if result.Partitions[0].Err != nil {
		t.Fatalf("partition failed: %v", result.Partitions[0].Err)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "boot.img"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(blockData) {
		t.Errorf("extracted image content mismatch")
	}
}

func TestRunProgressSinkReceivesCallbacks(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	path, _ := buildPayloadFile(t, srcDir)

	var calls int
	var seen []string
	_, err := Run(Options{Input: path, OutDir: outDir, Threads: 1}, func(index int, status progress.PartitionStatus) {
		calls++
		seen = append(seen, status.Name)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls == 0 {
		t.Fatalf("expected at least one progress callback")
	}
	if seen[0] != "boot" {
		t.Errorf("first callback partition = %q, want boot", seen[0])
	}
}
