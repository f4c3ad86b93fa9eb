package tensor

import "fmt"

// MaxRank is the fixed rank of ConstShape. Shapes of smaller rank are
// left-padded with size-1 axes; requesting a larger rank is a build-time
// capacity error, not a runtime condition.
const MaxRank = 4

// ConstShape is a fixed-rank shape with precomputed contiguous strides and
// broadcast strides. The broadcast stride of an axis is zero exactly when the
// axis has size 1, so a broadcast read replays the same element without
// materializing the expanded tensor.
type ConstShape struct {
	dims    [MaxRank]int
	stride  [MaxRank]int
	bstride [MaxRank]int

	elements int
	offset   int
}

// MakeConstShape builds a ConstShape from up to MaxRank dimensions,
// left-padding with size-1 axes. It panics when more than MaxRank dimensions
// are declared: MaxRank is a compile-time capacity constant.
func MakeConstShape(dims ...int) ConstShape {
	if len(dims) > MaxRank {
		panic(fmt.Sprintf("tensor: shape rank %d exceeds MaxRank %d; raise the constant and rebuild", len(dims), MaxRank))
	}
	var cs ConstShape
	for i := range cs.dims {
		cs.dims[i] = 1
	}
	copy(cs.dims[MaxRank-len(dims):], dims)
	cs.update()
	return cs
}

// ConstShapeOf converts a dynamic Shape into a ConstShape.
func ConstShapeOf(s Shape) ConstShape {
	return MakeConstShape(s...)
}

func (cs *ConstShape) update() {
	cs.stride[MaxRank-1] = 1
	if cs.dims[MaxRank-1] == 1 {
		cs.bstride[MaxRank-1] = 0
	} else {
		cs.bstride[MaxRank-1] = 1
	}
	for i := MaxRank - 2; i >= 0; i-- {
		cs.stride[i] = cs.stride[i+1] * cs.dims[i+1]
		if cs.dims[i] == 1 {
			cs.bstride[i] = 0
		} else {
			cs.bstride[i] = cs.stride[i]
		}
	}
	cs.elements = 1
	for i := 0; i < MaxRank; i++ {
		cs.elements *= cs.dims[i]
	}
}

// Set replaces the size of one axis and recomputes all strides and the
// element count.
func (cs *ConstShape) Set(i, dim int) {
	cs.dims[i] = dim
	cs.update()
}

// Dim returns the size of axis i.
func (cs *ConstShape) Dim(i int) int { return cs.dims[i] }

// Back returns the size of the innermost axis.
func (cs *ConstShape) Back() int { return cs.dims[MaxRank-1] }

// Stride returns the contiguous stride of axis i.
func (cs *ConstShape) Stride(i int) int { return cs.stride[i] }

// BStride returns the broadcast stride of axis i (zero for size-1 axes).
func (cs *ConstShape) BStride(i int) int { return cs.bstride[i] }

// Elements returns the total element count.
func (cs *ConstShape) Elements() int { return cs.elements }

// Offset returns the base offset applied by Index and IndexOf.
func (cs *ConstShape) Offset() int { return cs.offset }

// SetOffset sets the base offset for views into a larger buffer.
func (cs *ConstShape) SetOffset(off int) { cs.offset = off }

// Index maps a flat element offset to the strided memory offset.
func (cs *ConstShape) Index(li int) int {
	idx := cs.offset
	for i := MaxRank - 1; i >= 0; i-- {
		idx += (li % cs.dims[i]) * cs.stride[i]
		li /= cs.dims[i]
	}
	return idx
}

// IndexOf composes per-axis coordinates through the strides.
func (cs *ConstShape) IndexOf(d [MaxRank]int) int {
	idx := cs.offset
	for i := 0; i < MaxRank; i++ {
		idx += d[i] * cs.stride[i]
	}
	return idx
}

// Dims decomposes a flat element offset into per-axis coordinates.
func (cs *ConstShape) Dims(li int, out *[MaxRank]int) {
	for i := MaxRank - 1; i >= 0; i-- {
		out[i] = li % cs.dims[i]
		li /= cs.dims[i]
	}
}

// BIndex composes per-axis coordinates through the broadcast strides,
// replaying size-1 axes.
func (cs *ConstShape) BIndex(d [MaxRank]int) int {
	idx := 0
	for i := 0; i < MaxRank; i++ {
		idx += d[i] * cs.bstride[i]
	}
	return idx
}

// Equal compares axis sizes only; strides and offset do not participate.
func (cs *ConstShape) Equal(other *ConstShape) bool {
	for i := 0; i < MaxRank; i++ {
		if cs.dims[i] != other.dims[i] {
			return false
		}
	}
	return true
}

// String formats the shape with its element count.
func (cs *ConstShape) String() string {
	out := fmt.Sprintf("shape=%d", cs.dims[0])
	for i := 1; i < MaxRank; i++ {
		out += fmt.Sprintf("x%d", cs.dims[i])
	}
	return out + fmt.Sprintf(" size=%d", cs.elements)
}
