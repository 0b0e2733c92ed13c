package verify

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
)

func TestFileMatchingDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.img")
	data := []byte("partition contents")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sum := sha256.Sum256(data)
	if err := File(path, sum[:]); err != nil {
		t.Errorf("File: %v", err)
	}
}

func TestFileMismatchedDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.img")
	if err := os.WriteFile(path, []byte("actual"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	wrong := sha256.Sum256([]byte("different"))
	if err := File(path, wrong[:]); err == nil {
		t.Errorf("expected mismatch error")
	}
}

func TestFileEmptyWantSkipsVerification(t *testing.T) {
	if err := File("/nonexistent/path", nil); err != nil {
		t.Errorf("empty want should skip verification entirely, got %v", err)
	}
}

func TestBytesMatchAndMismatch(t *testing.T) {
	data := []byte("source bytes")
	sum := sha256.Sum256(data)
	if err := Bytes(data, sum[:]); err != nil {
		t.Errorf("Bytes: %v", err)
	}
	otherSum := sha256.Sum256([]byte("other"))
	if err := Bytes(data, otherSum[:]); err == nil {
		t.Errorf("expected mismatch error")
	}
}
