package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/indrora/payload-extract/payload"
	"github.com/indrora/payload-extract/payload/ops"
	"github.com/indrora/payload-extract/payload/progress"
)

type memSource struct{ data []byte }

func (m *memSource) Len() int64 { return int64(len(m.data)) }

func (m *memSource) ReadAt(buf []byte, offset int64) (int, error) {
	n := copy(buf, m.data[offset:])
	return n, nil
}

func (m *memSource) Close() error { return nil }

func zeroPartition(name string) payload.PartitionUpdate {
	return payload.PartitionUpdate{
		Name:    name,
		NewInfo: &payload.PartitionInfo{Size: payload.DefaultBlockSize},
		Operations: []payload.InstallOp{
			{Type: payload.OpZero, DstExtents: []payload.Extent{{StartBlock: 0, NumBlocks: 1}}},
		},
	}
}

func TestRunExecutesAllPartitions(t *testing.T) {
	outDir := t.TempDir()
	manifest := &payload.Manifest{
		Partitions: []payload.PartitionUpdate{
			zeroPartition("boot"),
			zeroPartition("system"),
			zeroPartition("vendor"),
		},
	}

	bus := progress.NewBus([]string{"boot", "system", "vendor"})
	opts := Options{
		Threads:     2,
		BlobSource:  &memSource{},
		Interpreter: ops.Options{OutDir: outDir},
	}

	results := Run(manifest, opts, bus)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("partition %s failed: %v", r.Partition, r.Err)
		}
		if _, err := os.Stat(filepath.Join(outDir, r.Partition+".img")); err != nil {
			t.Errorf("expected output image for %s: %v", r.Partition, err)
		}
	}
	// results are sorted by original index
	if results[0].Partition != "boot" || results[2].Partition != "vendor" {
		t.Errorf("results not in index order: %+v", results)
	}
}

func TestRunFiltersByImageSubstring(t *testing.T) {
	outDir := t.TempDir()
	manifest := &payload.Manifest{
		Partitions: []payload.PartitionUpdate{
			zeroPartition("boot"),
			zeroPartition("system"),
		},
	}
	bus := progress.NewBus([]string{"boot", "system"})
	opts := Options{
		Threads:     2,
		Images:      []string{"boo"},
		BlobSource:  &memSource{},
		Interpreter: ops.Options{OutDir: outDir},
	}

	results := Run(manifest, opts, bus)
	if len(results) != 1 || results[0].Partition != "boot" {
		t.Fatalf("expected only boot to match filter, got %+v", results)
	}
}

func TestRunUsesManifestBlockSize(t *testing.T) {
	outDir := t.TempDir()
	const blockSize = 2048
	manifest := &payload.Manifest{
		BlockSize: blockSize,
		Partitions: []payload.PartitionUpdate{
			{
				Name:    "boot",
				NewInfo: &payload.PartitionInfo{Size: blockSize},
				Operations: []payload.InstallOp{
					{Type: payload.OpZero, DstExtents: []payload.Extent{{StartBlock: 0, NumBlocks: 1}}},
				},
			},
		},
	}
	bus := progress.NewBus([]string{"boot"})
	opts := Options{
		Threads:     1,
		BlockSize:   blockSize,
		BlobSource:  &memSource{},
		Interpreter: ops.Options{OutDir: outDir},
	}

	results := Run(manifest, opts, bus)
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("Run: %+v", results)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "boot.img"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != blockSize {
		t.Errorf("output length = %d, want %d (block_size not honored)", len(got), blockSize)
	}
}

func TestRunRespectsCancellation(t *testing.T) {
	outDir := t.TempDir()
	manifest := &payload.Manifest{
		Partitions: []payload.PartitionUpdate{zeroPartition("boot")},
	}
	bus := progress.NewBus([]string{"boot"})
	bus.Cancel()
	opts := Options{
		Threads:     1,
		BlobSource:  &memSource{},
		Interpreter: ops.Options{OutDir: outDir},
	}

	results := Run(manifest, opts, bus)
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected a cancellation error, got %+v", results)
	}
}
