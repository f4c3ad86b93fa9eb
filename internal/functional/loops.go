package functional

import (
	"github.com/gradix-ml/gradix/internal/parallel"
	"github.com/gradix-ml/gradix/internal/tensor"
)

// Loops is the fold form of the apply engine: it sums functor results over a
// nested range of axes. For every axis, dim gives the start coordinate and
// length the number of steps; fixing length to 1 on an axis pins it, so
// single-axis and multi-axis reductions share the one recursion, which
// terminates at the innermost axis. The accumulator type equals the element
// type: there is no separate double-precision promotion, by fixed design
// choice.

// Loops1 folds f over one input.
func Loops1[T tensor.DType](f func(T) T, in View[T], length, dim [tensor.MaxRank]int) T {
	return loops1(f, in, &length, &dim, 0, 0)
}

func loops1[T tensor.DType](f func(T) T, in View[T], length, dim *[tensor.MaxRank]int, acc, axis int) T {
	var sum T
	bs := in.Shape.BStride(axis)
	if axis == tensor.MaxRank-1 {
		for i := 0; i < length[axis]; i++ {
			sum += f(in.Data[acc+(dim[axis]+i)*bs])
		}
		return sum
	}
	for i := 0; i < length[axis]; i++ {
		sum += loops1(f, in, length, dim, acc+(dim[axis]+i)*bs, axis+1)
	}
	return sum
}

// Loops2 folds f over two inputs, each read through its own broadcast
// stride.
func Loops2[T tensor.DType](f func(a, b T) T, in0, in1 View[T], length, dim [tensor.MaxRank]int) T {
	return loops2(f, in0, in1, &length, &dim, 0, 0, 0)
}

func loops2[T tensor.DType](f func(a, b T) T, in0, in1 View[T], length, dim *[tensor.MaxRank]int, acc0, acc1, axis int) T {
	var sum T
	bs0 := in0.Shape.BStride(axis)
	bs1 := in1.Shape.BStride(axis)
	if axis == tensor.MaxRank-1 {
		for i := 0; i < length[axis]; i++ {
			step := dim[axis] + i
			sum += f(in0.Data[acc0+step*bs0], in1.Data[acc1+step*bs1])
		}
		return sum
	}
	for i := 0; i < length[axis]; i++ {
		step := dim[axis] + i
		sum += loops2(f, in0, in1, length, dim, acc0+step*bs0, acc1+step*bs1, axis+1)
	}
	return sum
}

// Reduce1 writes into every element of out the fold of f over the axes that
// out collapses to size 1. Axes where out and in agree are pinned to the
// output coordinate; collapsed axes run over the full input extent.
func Reduce1[T tensor.DType](f func(T) T, out, in View[T], cfg parallel.Config) {
	reduce1(f, out, in, cfg, false)
}

// ReduceAcc1 is Reduce1 with += semantics on the output, used to fold
// broadcast-expanded gradients back into a smaller operand.
func ReduceAcc1[T tensor.DType](f func(T) T, out, in View[T], cfg parallel.Config) {
	reduce1(f, out, in, cfg, true)
}

func reduce1[T tensor.DType](f func(T) T, out, in View[T], cfg parallel.Config, acc bool) {
	var full [tensor.MaxRank]int
	for j := 0; j < tensor.MaxRank; j++ {
		if out.Shape.Dim(j) == 1 && in.Shape.Dim(j) > 1 {
			full[j] = in.Shape.Dim(j)
		} else {
			full[j] = 1
		}
	}

	parallel.Ranges(out.Size(), func(start, end int) {
		var d [tensor.MaxRank]int
		for i := start; i < end; i++ {
			out.Shape.Dims(i, &d)
			length := full
			dim := d
			for j := 0; j < tensor.MaxRank; j++ {
				if full[j] > 1 {
					dim[j] = 0
				}
			}
			sum := Loops1(f, in, length, dim)
			if acc {
				out.Data[out.Shape.IndexOf(d)] += sum
			} else {
				out.Data[out.Shape.IndexOf(d)] = sum
			}
		}
	}, cfg)
}
