package jsonmeta

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/indrora/payload-extract/payload"
)

func sampleManifest() *payload.Manifest {
	return &payload.Manifest{
		BlockSize:    4096,
		MinorVersion: 1,
		Partitions: []payload.PartitionUpdate{
			{
				Name: "boot",
				NewInfo: &payload.PartitionInfo{
					Size:   8192,
					SHA256: []byte{0xde, 0xad, 0xbe, 0xef},
				},
				Operations: []payload.InstallOp{
					{Type: payload.OpReplace},
					{Type: payload.OpReplace},
					{Type: payload.OpZero},
				},
			},
		},
	}
}

func TestBuildBrief(t *testing.T) {
	hdr := &payload.Header{Version: 2}
	doc := Build(hdr, sampleManifest(), false)

	if doc.Version != 2 || doc.BlockSize != 4096 {
		t.Errorf("doc = %+v", doc)
	}
	if len(doc.Partitions) != 1 {
		t.Fatalf("Partitions = %d, want 1", len(doc.Partitions))
	}
	p := doc.Partitions[0]
	if p.Name != "boot" || p.Size != 8192 || p.SHA256 != "deadbeef" {
		t.Errorf("partition summary = %+v", p)
	}
	if p.OpHistogram != nil {
		t.Errorf("brief mode should omit the histogram, got %v", p.OpHistogram)
	}
}

func TestBuildFullIncludesHistogram(t *testing.T) {
	hdr := &payload.Header{Version: 2}
	doc := Build(hdr, sampleManifest(), true)

	hist := doc.Partitions[0].OpHistogram
	if hist["REPLACE"] != 2 || hist["ZERO"] != 1 {
		t.Errorf("histogram = %v", hist)
	}
}

func TestWriteProducesValidJSON(t *testing.T) {
	hdr := &payload.Header{Version: 2}
	doc := Build(hdr, sampleManifest(), true)

	var buf bytes.Buffer
	if err := Write(&buf, doc); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var decoded Document
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded.Partitions) != 1 || decoded.Partitions[0].Name != "boot" {
		t.Errorf("round-tripped document = %+v", decoded)
	}
}
