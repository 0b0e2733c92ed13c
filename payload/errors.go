package payload

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the taxonomic error categories from the OTA
// extraction error design: each maps to an exit code at the CLI boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindInputNotFound
	KindInvalidArgument
	KindNotAZip
	KindPayloadNotInZip
	KindInvalidMagic
	KindUnsupportedVersion
	KindManifestTooLarge
	KindManifestDecode
	KindUnsupportedOp
	KindOpLengthMismatch
	KindCorruptStream
	KindSourceHashMismatch
	KindOutputHashMismatch
	KindRangeNotSupported
	KindNetworkTransient
	KindNetworkFatal
	KindIoWrite
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInputNotFound:
		return "InputNotFound"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotAZip:
		return "NotAZip"
	case KindPayloadNotInZip:
		return "PayloadNotInZip"
	case KindInvalidMagic:
		return "InvalidMagic"
	case KindUnsupportedVersion:
		return "UnsupportedVersion"
	case KindManifestTooLarge:
		return "ManifestTooLarge"
	case KindManifestDecode:
		return "ManifestDecode"
	case KindUnsupportedOp:
		return "UnsupportedOp"
	case KindOpLengthMismatch:
		return "OpLengthMismatch"
	case KindCorruptStream:
		return "CorruptStream"
	case KindSourceHashMismatch:
		return "SourceHashMismatch"
	case KindOutputHashMismatch:
		return "OutputHashMismatch"
	case KindRangeNotSupported:
		return "RangeNotSupported"
	case KindNetworkTransient:
		return "Network(transient)"
	case KindNetworkFatal:
		return "Network(fatal)"
	case KindIoWrite:
		return "IoWrite"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error wraps one of the taxonomic Kinds with enough context (partition
// name, codec name) to report per-partition outcomes at the end of a run.
type Error struct {
	Kind      Kind
	Partition string
	Codec     string
	cause     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Partition != "" {
		msg = fmt.Sprintf("%s: partition %q", msg, e.Partition)
	}
	if e.Codec != "" {
		msg = fmt.Sprintf("%s (codec %s)", msg, e.Codec)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, payload.NewError(KindX)) match on Kind alone.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// NewError builds a bare Error for a Kind, used as a sentinel target for errors.Is.
func NewError(kind Kind) *Error {
	return &Error{Kind: kind}
}

func causeOf(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return errors.Errorf(format, args...)
	}
	return errors.Wrapf(cause, format, args...)
}

// Wrap attaches a Kind and causal chain to an underlying error. cause may
// be nil, in which case format/args alone describe the failure.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:  kind,
		cause: causeOf(cause, format, args...),
	}
}

// WrapPartition is Wrap plus the partition name the failure belongs to.
func WrapPartition(kind Kind, partition string, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		Partition: partition,
		cause:     causeOf(cause, format, args...),
	}
}

// WrapCodec is Wrap plus the codec name, for CorruptStream(codec) errors.
func WrapCodec(kind Kind, codec string, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:  kind,
		Codec: codec,
		cause: causeOf(cause, format, args...),
	}
}

// ExitCode maps a Kind to the process exit code defined by the CLI surface.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var pe *Error
	if !errors.As(err, &pe) {
		return 3
	}
	switch pe.Kind {
	case KindInputNotFound, KindInvalidArgument:
		return 1
	case KindNotAZip, KindPayloadNotInZip, KindInvalidMagic, KindUnsupportedVersion,
		KindManifestTooLarge, KindManifestDecode, KindUnsupportedOp, KindOpLengthMismatch:
		return 2
	case KindOutputHashMismatch, KindSourceHashMismatch:
		return 4
	case KindCancelled:
		return 5
	case KindCorruptStream, KindRangeNotSupported, KindNetworkTransient, KindNetworkFatal, KindIoWrite:
		return 3
	default:
		return 3
	}
}
