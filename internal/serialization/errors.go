package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrOutOfBounds        = errors.New("tensor extends beyond payload section")
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
	ErrUnsupportedDType   = errors.New("unsupported data type")
)

// ValidationError reports a malformed header: the offending tensor name(s)
// and what check failed.
type ValidationError struct {
	Type    string // kind of failure, e.g. "offset_overlap", "duplicate_name"
	Tensor  string // primary tensor name involved
	Tensor2 string // secondary tensor name (overlap and duplicate errors)
	Details string
}

func (e *ValidationError) Error() string {
	if e.Tensor2 != "" {
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Type, e.Tensor, e.Tensor2, e.Details)
	}
	if e.Tensor != "" {
		return fmt.Sprintf("%s: tensor %q: %s", e.Type, e.Tensor, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}

// ConversionError reports an element type conversion with no defined
// mapping.
type ConversionError struct {
	From, To string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("no conversion from %s to %s", e.From, e.To)
}
