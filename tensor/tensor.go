// Package tensor exposes the public tensor types of gradix: element types,
// dynamic shapes, the fixed-rank shape used by the apply engine, and the
// low-level RawTensor view.
package tensor

import (
	"github.com/gradix-ml/gradix/internal/tensor"
)

// DType is the constraint for tensor element types.
type DType = tensor.DType

// DataType identifies the runtime element type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Float16 DataType = tensor.Float16
	Int32   DataType = tensor.Int32
	Int64   DataType = tensor.Int64
	Uint32  DataType = tensor.Uint32
	Uint8   DataType = tensor.Uint8
)

// Device identifies where tensor data resides.
type Device = tensor.Device

// Device constants.
const (
	CPU Device = tensor.CPU
)

// Shape is a dynamic tensor shape, e.g. Shape{2, 3, 4}.
type Shape = tensor.Shape

// ConstShape is the fixed-rank shape with precomputed strides and broadcast
// strides used by the elementwise engine.
type ConstShape = tensor.ConstShape

// MaxRank is the fixed rank of ConstShape.
const MaxRank = tensor.MaxRank

// RawTensor is the low-level tensor representation.
type RawTensor = tensor.RawTensor

// NewRaw creates a tensor backed by a fresh zeroed buffer.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// MakeConstShape builds a ConstShape from up to MaxRank dimensions.
func MakeConstShape(dims ...int) ConstShape {
	return tensor.MakeConstShape(dims...)
}

// BroadcastShapes applies the broadcasting rules to two shapes.
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	return tensor.BroadcastShapes(a, b)
}
