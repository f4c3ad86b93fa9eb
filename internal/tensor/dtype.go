// Package tensor provides the core tensor types for the Gradix toolkit:
// element types, dynamic shapes, the fixed-rank strided ConstShape used by
// the elementwise apply engine, and the reference-counted RawTensor.
package tensor

// DType is a constraint for element types the apply engine can address.
type DType interface {
	~float32 | ~float64 | ~int32 | ~int64 | ~uint32 | ~uint8
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors. Float16 is a storage-only type used by
// parameter snapshots; compute always happens in float32 or float64.
const (
	Float32 DataType = iota
	Float64
	Float16
	Int32
	Int64
	Uint32
	Uint8
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32, Uint32:
		return 4
	case Float64, Int64:
		return 8
	case Float16:
		return 2
	case Uint8:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Float16:
		return "float16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint32:
		return "uint32"
	case Uint8:
		return "uint8"
	default:
		return "unknown"
	}
}

// IsFloat reports whether the type is a floating-point type.
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float64 || dt == Float16
}
