package graph

import (
	"fmt"
	"math"

	"github.com/gradix-ml/gradix/internal/functional"
	"github.com/gradix-ml/gradix/internal/parallel"
	"github.com/gradix-ml/gradix/internal/tensor"
)

// sumNode collapses one axis to size 1, keeping the rank. The backward pass
// broadcasts the incoming gradient back over the collapsed axis through the
// zero broadcast stride.
type sumNode struct {
	NodeBase
	axis int
}

// Sum reduces a over the given axis (negative counts from the back). The
// reduced axis stays in the shape with size 1.
func Sum(a Expr, axis int) Expr {
	mustFloat32("sum", a)
	shape := a.Shape().Clone()
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		panic(fmt.Sprintf("graph: sum axis %d out of range for %s", axis, a.Shape()))
	}
	shape[axis] = 1
	n := &sumNode{
		NodeBase: newNodeBase(a.Graph(), "sum", shape, a.ValueType(), uint64(axis), a),
		axis:     axis,
	}
	return a.Graph().Add(n)
}

func (n *sumNode) Forward() {
	out := functional.ViewOf[float32](n.val)
	in := functional.ViewOf[float32](n.children[0].Val())
	functional.Reduce1(func(x float32) float32 { return x }, out, in, n.graph.parallel)
}

func (n *sumNode) Backward() {
	c := n.children[0]
	if !c.Trainable() || c.Grad() == nil {
		return
	}
	gx := c.Grad().AsFloat32()
	g := n.grad.AsFloat32()
	cs := c.Grad().ConstShape()
	gs := n.grad.ConstShape()

	parallel.Ranges(len(gx), func(start, end int) {
		var d [tensor.MaxRank]int
		for i := start; i < end; i++ {
			cs.Dims(i, &d)
			gx[cs.IndexOf(d)] += g[gs.BIndex(d)]
		}
	}, n.graph.parallel)
}

// Mean reduces a over the given axis and divides by the axis length.
func Mean(a Expr, axis int) Expr {
	s := Sum(a, axis)
	d := a.Shape().Dim(axis)
	return MulScalar(s, 1/float32(d))
}

// logSoftmaxNode computes log(softmax(x)) along the innermost axis with the
// usual max-shift for stability.
type logSoftmaxNode struct {
	NodeBase
}

// LogSoftmax returns the log of the softmax over the innermost axis.
func LogSoftmax(a Expr) Expr {
	mustFloat32("logsoftmax", a)
	n := &logSoftmaxNode{
		NodeBase: newNodeBase(a.Graph(), "logsoftmax", a.Shape(), a.ValueType(), 0, a),
	}
	return a.Graph().Add(n)
}

func (n *logSoftmaxNode) Forward() {
	x := n.children[0].Val().AsFloat32()
	y := n.val.AsFloat32()
	cols := n.shape.Dim(-1)
	rows := len(x) / cols

	parallel.Ranges(rows, func(start, end int) {
		for r := start; r < end; r++ {
			row := x[r*cols : (r+1)*cols]
			out := y[r*cols : (r+1)*cols]
			max := row[0]
			for _, v := range row[1:] {
				if v > max {
					max = v
				}
			}
			var sum float64
			for _, v := range row {
				sum += math.Exp(float64(v - max))
			}
			shift := max + float32(math.Log(sum))
			for i, v := range row {
				out[i] = v - shift
			}
		}
	}, n.graph.parallel)
}

func (n *logSoftmaxNode) Backward() {
	c := n.children[0]
	if !c.Trainable() || c.Grad() == nil {
		return
	}
	y := n.val.AsFloat32()
	g := n.grad.AsFloat32()
	gx := c.Grad().AsFloat32()
	cols := n.shape.Dim(-1)
	rows := len(y) / cols

	parallel.Ranges(rows, func(start, end int) {
		for r := start; r < end; r++ {
			off := r * cols
			var sum float32
			for i := 0; i < cols; i++ {
				sum += g[off+i]
			}
			for i := 0; i < cols; i++ {
				gx[off+i] += g[off+i] - float32(math.Exp(float64(y[off+i])))*sum
			}
		}
	}, n.graph.parallel)
}

// Softmax returns exp(logsoftmax(x)), sharing the stabilized computation.
func Softmax(a Expr) Expr {
	return Exp(LogSoftmax(a))
}
