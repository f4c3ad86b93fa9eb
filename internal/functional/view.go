// Package functional implements the generic elementwise apply engine: typed
// strided views over raw tensor memory, N-ary functor application with
// broadcast reads, and the nested-loop reduction form used by reduction
// operators. Every elementwise tensor operation in the graph funnels through
// this package.
package functional

import (
	"fmt"
	"unsafe"

	"github.com/gradix-ml/gradix/internal/tensor"
)

// View couples a typed data slice with a fixed-rank shape. Views are
// non-owning: the data slice aliases memory owned by an allocator.
type View[T tensor.DType] struct {
	Data  []T
	Shape tensor.ConstShape
}

// ViewOf reinterprets a RawTensor's memory as a typed view. The element type
// T must match the tensor's runtime data type.
func ViewOf[T tensor.DType](t *tensor.RawTensor) View[T] {
	var zero T
	if int(unsafe.Sizeof(zero)) != t.DType().Size() {
		panic(fmt.Sprintf("functional: view element size %d does not match tensor dtype %s", unsafe.Sizeof(zero), t.DType()))
	}
	data := t.Data()
	return View[T]{
		Data:  unsafe.Slice((*T)(unsafe.Pointer(&data[0])), t.NumElements()),
		Shape: t.ConstShape(),
	}
}

// MakeView wraps a plain slice with a shape, mostly for tests.
func MakeView[T tensor.DType](data []T, dims ...int) View[T] {
	cs := tensor.MakeConstShape(dims...)
	if cs.Elements() > len(data) {
		panic(fmt.Sprintf("functional: %d elements declared over %d available", cs.Elements(), len(data)))
	}
	return View[T]{Data: data, Shape: cs}
}

// At reads the element at a flat offset, honoring strides.
func (v View[T]) At(i int) T { return v.Data[v.Shape.Index(i)] }

// SetAt writes the element at a flat offset, honoring strides.
func (v View[T]) SetAt(i int, x T) { v.Data[v.Shape.Index(i)] = x }

// Size returns the number of addressable elements.
func (v View[T]) Size() int { return v.Shape.Elements() }
