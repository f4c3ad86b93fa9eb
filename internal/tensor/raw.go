package tensor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Device represents the compute device for tensor operations. Only the CPU
// device is implemented; the constant exists so that device preconditions
// (e.g. memory-mapped loading) stay explicit at call boundaries.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// tensorBuffer is a reference-counted shared byte buffer. Multiple RawTensor
// views (broadcast, reshape) may alias the same buffer.
type tensorBuffer struct {
	data     []byte
	refCount atomic.Int32
	mu       sync.Mutex // For safe deallocation
}

func newTensorBuffer(data []byte) *tensorBuffer {
	buf := &tensorBuffer{data: data}
	buf.refCount.Store(1)
	return buf
}

func (tb *tensorBuffer) addRef() {
	tb.refCount.Add(1)
}

func (tb *tensorBuffer) release() {
	if tb.refCount.Add(-1) == 0 {
		tb.mu.Lock()
		defer tb.mu.Unlock()
		tb.data = nil
	}
}

// RawTensor is the low-level tensor representation: a non-owning view of a
// typed contiguous memory block plus a Shape. The underlying block is owned
// by an allocator; the view borrows it for its lifetime.
type RawTensor struct {
	buffer *tensorBuffer
	shape  Shape
	stride []int
	dtype  DataType
	device Device
	offset int
}

// NewRaw creates a new RawTensor with the given shape and type, backed by a
// freshly allocated zeroed buffer.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	byteSize := shape.NumElements() * dtype.Size()
	return NewRawWithBuffer(make([]byte, byteSize), shape, dtype, device)
}

// NewRawWithBuffer wraps an existing buffer, typically handed out by the
// memory façade's pool. The buffer must hold at least
// shape.NumElements()*dtype.Size() bytes.
func NewRawWithBuffer(data []byte, shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	need := shape.NumElements() * dtype.Size()
	if len(data) < need {
		return nil, fmt.Errorf("buffer of %d bytes too small for %s %s (%d bytes)", len(data), shape, dtype, need)
	}
	return &RawTensor{
		buffer: newTensorBuffer(data),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
		offset: 0,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape { return r.shape }

// ConstShape returns the fixed-rank shape for the apply engine.
func (r *RawTensor) ConstShape() ConstShape { return ConstShapeOf(r.shape) }

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int { return r.stride }

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType { return r.dtype }

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device { return r.device }

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int { return r.shape.NumElements() }

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int { return r.NumElements() * r.dtype.Size() }

// Data returns the raw byte slice of the view.
func (r *RawTensor) Data() []byte {
	return r.buffer.data[r.offset : r.offset+r.ByteSize()]
}

// Buffer returns the full backing slice, for allocators reclaiming it.
func (r *RawTensor) Buffer() []byte { return r.buffer.data }

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	data := r.buffer.data[r.offset:]
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	data := r.buffer.data[r.offset:]
	return unsafe.Slice((*float64)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	data := r.buffer.data[r.offset:]
	return unsafe.Slice((*int32)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", r.dtype))
	}
	data := r.buffer.data[r.offset:]
	return unsafe.Slice((*int64)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsUint32 interprets the data as []uint32. Index tensors (row gather, beam
// feedback) use this layout.
// Panics if the tensor's dtype is not Uint32.
func (r *RawTensor) AsUint32() []uint32 {
	if r.dtype != Uint32 {
		panic(fmt.Sprintf("tensor dtype is %s, not uint32", r.dtype))
	}
	data := r.buffer.data[r.offset:]
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsUint8 interprets the data as []uint8.
// Panics if the tensor's dtype is not Uint8.
func (r *RawTensor) AsUint8() []uint8 {
	if r.dtype != Uint8 {
		panic(fmt.Sprintf("tensor dtype is %s, not uint8", r.dtype))
	}
	return r.buffer.data[r.offset:]
}

// Clone creates a shallow copy of the RawTensor sharing the buffer with
// reference counting.
func (r *RawTensor) Clone() *RawTensor {
	r.buffer.addRef()
	return &RawTensor{
		buffer: r.buffer,
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset,
	}
}

// Release decrements the reference count and drops the buffer when it
// reaches zero.
func (r *RawTensor) Release() {
	r.buffer.release()
}

// CopyFrom copies the other tensor's bytes into this one. Shapes and types
// must match.
func (r *RawTensor) CopyFrom(other *RawTensor) error {
	if !r.shape.Equal(other.shape) || r.dtype != other.dtype {
		return fmt.Errorf("copy between %s %s and %s %s", r.shape, r.dtype, other.shape, other.dtype)
	}
	copy(r.Data(), other.Data())
	return nil
}
