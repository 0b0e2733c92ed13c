// Package payload holds the data model shared by every component of the
// extraction engine: the payload header, the decoded manifest, and the
// per-partition operation list. Nothing in this package touches I/O.
package payload

// DefaultBlockSize is used when a manifest omits block_size.
const DefaultBlockSize = 4096

// Magic is the four-byte signature every payload begins with.
const Magic = "CrAU"

// FileFormatVersion is the only manifest version this engine understands.
const FileFormatVersion = 2

// OpType is the install operation type, values and names are contractual
// (they come from the Android update_engine wire schema).
type OpType int32

const (
	OpReplace       OpType = 0
	OpReplaceBZ     OpType = 1
	OpMove          OpType = 2 // deprecated, rejected
	OpBSDiff        OpType = 3 // deprecated v1, rejected
	OpSourceCopy    OpType = 4
	OpSourceBSDiff  OpType = 5
	OpZero          OpType = 6
	OpDiscard       OpType = 7
	OpReplaceXZ     OpType = 8
	OpPuffDiff      OpType = 9
	OpBrotliBSDiff  OpType = 10
	OpZucchini      OpType = 11
	OpLZ4DiffBSDiff OpType = 12
	OpLZ4DiffPuffDiff OpType = 13
	OpZstd          OpType = 14
)

func (t OpType) String() string {
	switch t {
	case OpReplace:
		return "REPLACE"
	case OpReplaceBZ:
		return "REPLACE_BZ"
	case OpMove:
		return "MOVE"
	case OpBSDiff:
		return "BSDIFF"
	case OpSourceCopy:
		return "SOURCE_COPY"
	case OpSourceBSDiff:
		return "SOURCE_BSDIFF"
	case OpZero:
		return "ZERO"
	case OpDiscard:
		return "DISCARD"
	case OpReplaceXZ:
		return "REPLACE_XZ"
	case OpPuffDiff:
		return "PUFFDIFF"
	case OpBrotliBSDiff:
		return "BROTLI_BSDIFF"
	case OpZucchini:
		return "ZUCCHINI"
	case OpLZ4DiffBSDiff:
		return "LZ4DIFF_BSDIFF"
	case OpLZ4DiffPuffDiff:
		return "LZ4DIFF_PUFFDIFF"
	case OpZstd:
		return "ZSTD"
	default:
		return "UNKNOWN"
	}
}

// Extent is a contiguous block range on a partition.
type Extent struct {
	StartBlock uint64
	NumBlocks  uint64
}

// ByteLen returns the byte length an extent covers at the given block size.
func (e Extent) ByteLen(blockSize uint64) uint64 { return e.NumBlocks * blockSize }

// Offset returns the byte offset an extent starts at, at the given block size.
func (e Extent) Offset(blockSize uint64) uint64 { return e.StartBlock * blockSize }

// PartitionInfo is the size+digest pair manifests attach to old/new images.
type PartitionInfo struct {
	Size   uint64
	SHA256 []byte
}

// InstallOp is one atomic modification of a destination extent list.
type InstallOp struct {
	Type        OpType
	DataOffset  uint64 // relative to the blob region
	DataLength  uint64
	HasData     bool
	SrcExtents  []Extent
	DstExtents  []Extent
	SrcSHA256   []byte
	DataSHA256  []byte
}

// PartitionUpdate describes one partition's complete operation sequence.
type PartitionUpdate struct {
	Name            string
	Operations      []InstallOp
	NewInfo         *PartitionInfo
	OldInfo         *PartitionInfo
	Version         string
	RunPostinstall  bool
	MergeOperations []InstallOp
}

// ApexInfo is a retained-but-unused-by-extraction manifest field, carried
// through to JSON metadata export.
type ApexInfo struct {
	PackageName string
	Version     int64
	IsCompressed bool
	DecompressedSize int64
}

// Manifest is the decoded tag/length/varint record at the head of a payload.
type Manifest struct {
	BlockSize           uint64
	SignaturesOffset     uint64
	SignaturesSize       uint64
	MinorVersion         uint32
	Partitions           []PartitionUpdate
	SecurityPatchLevel   string
	PartialUpdate        bool
	MaxTimestamp         int64
	ApexInfo             []ApexInfo
}

// Header is the fixed 24-byte prologue plus the offsets it resolves.
type Header struct {
	PayloadOffset   uint64 // absolute offset of the "CrAU" magic
	Version         uint64
	ManifestSize    uint64
	MetadataSigSize uint32
	ManifestOffset  uint64 // absolute
	BlobOffset      uint64 // absolute
}
