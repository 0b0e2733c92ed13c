package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/indrora/payload-extract/payload"
)

func TestOpenLocalFileReadAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.img")
	content := []byte("local file contents for mmap testing")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := OpenLocalFile(path)
	if err != nil {
		t.Fatalf("OpenLocalFile: %v", err)
	}
	defer f.Close()

	if f.Len() != int64(len(content)) {
		t.Errorf("Len() = %d, want %d", f.Len(), len(content))
	}
	if !f.Cleavable() {
		t.Errorf("LocalFile should report Cleavable")
	}

	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 6)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 5 || string(buf) != "file " {
		t.Errorf("ReadAt = (%q, %d)", buf, n)
	}
}

func TestOpenLocalFileMissing(t *testing.T) {
	_, err := OpenLocalFile(filepath.Join(t.TempDir(), "missing.img"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	var pe *payload.Error
	if !errors.As(err, &pe) || pe.Kind != payload.KindInputNotFound {
		t.Errorf("expected KindInputNotFound, got %v", err)
	}
}
