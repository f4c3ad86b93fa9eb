package serialization

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"

	"github.com/gradix-ml/gradix/internal/tensor"
)

// Item is one named tensor in transit between a graph and a checkpoint
// file. Data holds the raw little-endian element bytes; for memory-mapped
// files it aliases the mapping and must be treated as read-only.
type Item struct {
	Name   string
	Shape  tensor.Shape
	DType  tensor.DataType
	Data   []byte
	Mapped bool
}

// NumElements returns the element count implied by the shape.
func (it *Item) NumElements() int { return it.Shape.NumElements() }

// Convert returns the item re-encoded with the given element type. The
// identity conversion returns the item unchanged; float16, float32 and
// float64 convert between each other through float32.
func (it *Item) Convert(to tensor.DataType) (*Item, error) {
	if it.DType == to {
		return it, nil
	}

	f32, err := it.asFloat32()
	if err != nil {
		return nil, err
	}

	out := &Item{Name: it.Name, Shape: it.Shape.Clone(), DType: to}
	switch to {
	case tensor.Float32:
		out.Data = make([]byte, len(f32)*4)
		for i, v := range f32 {
			binary.LittleEndian.PutUint32(out.Data[i*4:], math.Float32bits(v))
		}
	case tensor.Float16:
		out.Data = make([]byte, len(f32)*2)
		for i, v := range f32 {
			binary.LittleEndian.PutUint16(out.Data[i*2:], uint16(float16.Fromfloat32(v)))
		}
	case tensor.Float64:
		out.Data = make([]byte, len(f32)*8)
		for i, v := range f32 {
			binary.LittleEndian.PutUint64(out.Data[i*8:], math.Float64bits(float64(v)))
		}
	default:
		return nil, &ConversionError{From: dtypeToString(it.DType), To: dtypeToString(to)}
	}
	return out, nil
}

func (it *Item) asFloat32() ([]float32, error) {
	n := it.NumElements()
	out := make([]float32, n)
	switch it.DType {
	case tensor.Float32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(it.Data[i*4:]))
		}
	case tensor.Float16:
		for i := range out {
			out[i] = float16.Float16(binary.LittleEndian.Uint16(it.Data[i*2:])).Float32()
		}
	case tensor.Float64:
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(it.Data[i*8:])))
		}
	default:
		return nil, &ConversionError{From: dtypeToString(it.DType), To: DTypeFloat32}
	}
	return out, nil
}
