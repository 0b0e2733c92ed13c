package payload

import (
	"errors"
	"testing"
)

func TestWrapAndIs(t *testing.T) {
	err := Wrap(KindInvalidMagic, nil, "bad magic %q", "XXXX")
	if !errors.Is(err, NewError(KindInvalidMagic)) {
		t.Errorf("errors.Is should match on Kind alone")
	}
	if errors.Is(err, NewError(KindNotAZip)) {
		t.Errorf("errors.Is should not match a different Kind")
	}
	if err.Error() == "" {
		t.Errorf("Error() should not be empty")
	}
}

func TestWrapPartitionCarriesName(t *testing.T) {
	err := WrapPartition(KindUnsupportedOp, "boot", nil, "MOVE is rejected")
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("errors.As failed to extract *Error")
	}
	if pe.Partition != "boot" {
		t.Errorf("Partition = %q, want %q", pe.Partition, "boot")
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindInputNotFound, 1},
		{KindInvalidArgument, 1},
		{KindManifestDecode, 2},
		{KindOutputHashMismatch, 4},
		{KindCancelled, 5},
		{KindIoWrite, 3},
	}
	for _, c := range cases {
		err := Wrap(c.kind, nil, "x")
		if got := ExitCode(err); got != c.want {
			t.Errorf("ExitCode(%s) = %d, want %d", c.kind, got, c.want)
		}
	}
	if ExitCode(nil) != 0 {
		t.Errorf("ExitCode(nil) should be 0")
	}
	if got := ExitCode(errors.New("plain")); got != 3 {
		t.Errorf("ExitCode(plain error) = %d, want 3", got)
	}
}
