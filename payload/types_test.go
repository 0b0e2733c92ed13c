package payload

import "testing"

func TestExtentByteLenAndOffset(t *testing.T) {
	e := Extent{StartBlock: 3, NumBlocks: 5}
	if got := e.ByteLen(4096); got != 5*4096 {
		t.Errorf("ByteLen = %d, want %d", got, 5*4096)
	}
	if got := e.Offset(4096); got != 3*4096 {
		t.Errorf("Offset = %d, want %d", got, 3*4096)
	}
}

func TestOpTypeString(t *testing.T) {
	cases := map[OpType]string{
		OpReplace:      "REPLACE",
		OpSourceCopy:   "SOURCE_COPY",
		OpZero:         "ZERO",
		OpDiscard:      "DISCARD",
		OpZstd:         "ZSTD",
		OpType(99):     "UNKNOWN",
	}
	for in, want := range cases {
		if got := in.String(); got != want {
			t.Errorf("OpType(%d).String() = %q, want %q", in, got, want)
		}
	}
}
