package serialization

import (
	"time"

	"github.com/gradix-ml/gradix/internal/tensor"
)

// Format constants.
const (
	MagicBytes      = "GRDX"
	FormatVersion   = 1
	FixedHeaderSize = 64   // magic, version, flags, sizes, checksum
	DataAlignment   = 64   // tensor payload alignment
	ChecksumSize    = 32   // SHA-256
	ChecksumOffset  = 0x20 // checksum position in the fixed header
	MaxHeaderSize   = 100 * 1024 * 1024
)

// Data type string constants used in the JSON header.
const (
	DTypeFloat32 = "float32"
	DTypeFloat64 = "float64"
	DTypeFloat16 = "float16"
	DTypeInt32   = "int32"
	DTypeInt64   = "int64"
	DTypeUint32  = "uint32"
	DTypeUint8   = "uint8"
)

// Flags for the .grdx format.
const (
	FlagHasMetadata uint32 = 1 << 0 // bit 0: custom metadata included
)

// Header is the JSON header of a .grdx file.
type Header struct {
	FormatVersion  int               `json:"format_version"`
	ToolkitVersion string            `json:"gradix_version"` // version of gradix that wrote the file
	FileID         string            `json:"file_id"`        // random UUID per written file
	CreatedAt      time.Time         `json:"created_at"`
	Tensors        []TensorMeta      `json:"tensors"`
	Metadata       map[string]string `json:"metadata"`
}

// TensorMeta describes one tensor in the payload section.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from the start of the payload section
	Size   int64  `json:"size"`   // bytes
}

func dtypeToString(dt tensor.DataType) string {
	switch dt {
	case tensor.Float32:
		return DTypeFloat32
	case tensor.Float64:
		return DTypeFloat64
	case tensor.Float16:
		return DTypeFloat16
	case tensor.Int32:
		return DTypeInt32
	case tensor.Int64:
		return DTypeInt64
	case tensor.Uint32:
		return DTypeUint32
	case tensor.Uint8:
		return DTypeUint8
	default:
		return "unknown"
	}
}

func stringToDtype(s string) (tensor.DataType, bool) {
	switch s {
	case DTypeFloat32:
		return tensor.Float32, true
	case DTypeFloat64:
		return tensor.Float64, true
	case DTypeFloat16:
		return tensor.Float16, true
	case DTypeInt32:
		return tensor.Int32, true
	case DTypeInt64:
		return tensor.Int64, true
	case DTypeUint32:
		return tensor.Uint32, true
	case DTypeUint8:
		return tensor.Uint8, true
	default:
		return 0, false
	}
}
