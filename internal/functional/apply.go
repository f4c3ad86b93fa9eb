package functional

import (
	"github.com/gradix-ml/gradix/internal/tensor"

	"github.com/gradix-ml/gradix/internal/parallel"
)

// The apply engine has two entry points per arity: Apply evaluates the
// functor at one output coordinate (the output write is the caller's
// responsibility), and Element runs the functor over every output element,
// reading each input through its own broadcast stride so size-1 axes replay
// the same element. Arity is bounded at three inputs; wider operators are
// composed from these.

// Apply1 evaluates f for the output coordinate d, reading the input through
// its broadcast stride.
func Apply1[T tensor.DType](f func(T) T, in View[T], d [tensor.MaxRank]int) T {
	return f(in.Data[in.Shape.BIndex(d)])
}

// Apply2 evaluates f for the output coordinate d over two inputs.
func Apply2[T tensor.DType](f func(a, b T) T, in0, in1 View[T], d [tensor.MaxRank]int) T {
	return f(in0.Data[in0.Shape.BIndex(d)], in1.Data[in1.Shape.BIndex(d)])
}

// Apply3 evaluates f for the output coordinate d over three inputs.
func Apply3[T tensor.DType](f func(a, b, c T) T, in0, in1, in2 View[T], d [tensor.MaxRank]int) T {
	return f(in0.Data[in0.Shape.BIndex(d)], in1.Data[in1.Shape.BIndex(d)], in2.Data[in2.Shape.BIndex(d)])
}

// Element1 applies f over every output element: out[i] = f(in[i']), with in
// read through its broadcast stride. Element ranges are dispatched through
// the parallel worker pool; invocations are independent per element.
func Element1[T tensor.DType](f func(T) T, out, in View[T], cfg parallel.Config) {
	parallel.Ranges(out.Size(), func(start, end int) {
		var d [tensor.MaxRank]int
		for i := start; i < end; i++ {
			out.Shape.Dims(i, &d)
			out.Data[out.Shape.IndexOf(d)] = Apply1(f, in, d)
		}
	}, cfg)
}

// Element2 applies f over every output element with two broadcast inputs.
func Element2[T tensor.DType](f func(a, b T) T, out, in0, in1 View[T], cfg parallel.Config) {
	parallel.Ranges(out.Size(), func(start, end int) {
		var d [tensor.MaxRank]int
		for i := start; i < end; i++ {
			out.Shape.Dims(i, &d)
			out.Data[out.Shape.IndexOf(d)] = Apply2(f, in0, in1, d)
		}
	}, cfg)
}

// Element3 applies f over every output element with three broadcast inputs.
func Element3[T tensor.DType](f func(a, b, c T) T, out, in0, in1, in2 View[T], cfg parallel.Config) {
	parallel.Ranges(out.Size(), func(start, end int) {
		var d [tensor.MaxRank]int
		for i := start; i < end; i++ {
			out.Shape.Dims(i, &d)
			out.Data[out.Shape.IndexOf(d)] = Apply3(f, in0, in1, in2, d)
		}
	}, cfg)
}
