package graph

import (
	"fmt"

	"github.com/gradix-ml/gradix/internal/parallel"
	"github.com/gradix-ml/gradix/internal/tensor"
)

// dotNode is the 2-D matrix product [m,k] x [k,n] = [m,n]. The forward pass
// parallelizes over output rows; the backward pass distributes the incoming
// gradient as gA += g.Bᵀ and gB += Aᵀ.g.
type dotNode struct {
	NodeBase
}

// Dot returns the matrix product of two rank-2 operands.
func Dot(a, b Expr) Expr {
	mustFloat32("dot", a)
	mustFloat32("dot", b)
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		panic(fmt.Sprintf("graph: dot requires rank-2 operands, got %s and %s", as, bs))
	}
	if as[1] != bs[0] {
		panic(fmt.Sprintf("graph: dot inner dimensions differ: %s vs %s", as, bs))
	}
	n := &dotNode{
		NodeBase: newNodeBase(a.Graph(), "dot", tensor.Shape{as[0], bs[1]}, a.ValueType(), 0, a, b),
	}
	return a.Graph().Add(n)
}

func (n *dotNode) Forward() {
	a := n.children[0].Val().AsFloat32()
	b := n.children[1].Val().AsFloat32()
	y := n.val.AsFloat32()
	m := n.shape[0]
	nn := n.shape[1]
	k := n.children[0].Shape()[1]

	parallel.Ranges(m, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < nn; j++ {
				var sum float32
				for l := 0; l < k; l++ {
					sum += a[i*k+l] * b[l*nn+j]
				}
				y[i*nn+j] = sum
			}
		}
	}, n.graph.parallel)
}

func (n *dotNode) Backward() {
	a := n.children[0].Val().AsFloat32()
	b := n.children[1].Val().AsFloat32()
	g := n.grad.AsFloat32()
	m := n.shape[0]
	nn := n.shape[1]
	k := n.children[0].Shape()[1]

	if c := n.children[0]; c.Trainable() && c.Grad() != nil {
		ga := c.Grad().AsFloat32()
		parallel.Ranges(m, func(start, end int) {
			for i := start; i < end; i++ {
				for l := 0; l < k; l++ {
					var sum float32
					for j := 0; j < nn; j++ {
						sum += g[i*nn+j] * b[l*nn+j]
					}
					ga[i*k+l] += sum
				}
			}
		}, n.graph.parallel)
	}
	if c := n.children[1]; c.Trainable() && c.Grad() != nil {
		gb := c.Grad().AsFloat32()
		parallel.Ranges(k, func(start, end int) {
			for l := start; l < end; l++ {
				for j := 0; j < nn; j++ {
					var sum float32
					for i := 0; i < m; i++ {
						sum += a[i*k+l] * g[i*nn+j]
					}
					gb[l*nn+j] += sum
				}
			}
		}, n.graph.parallel)
	}
}

// Affine returns Dot(a, w) + b with b broadcast over rows.
func Affine(a, w, b Expr) Expr {
	return Add(Dot(a, w), b)
}

// rowsNode gathers rows of a rank-2 operand by an index vector. The index
// child is not differentiable; the backward pass scatter-adds the incoming
// gradient into the gathered rows, accumulating on duplicate indices.
type rowsNode struct {
	NodeBase
}

// Rows returns the rows of a selected by indices, in index order.
func Rows(a, indices Expr) Expr {
	mustFloat32("rows", a)
	if indices.ValueType() != tensor.Uint32 {
		panic(fmt.Sprintf("graph: rows requires uint32 indices, got %s", indices.ValueType()))
	}
	as := a.Shape()
	if len(as) != 2 {
		panic(fmt.Sprintf("graph: rows requires a rank-2 operand, got %s", as))
	}
	n := &rowsNode{
		NodeBase: newNodeBase(a.Graph(), "rows", tensor.Shape{indices.Shape().NumElements(), as[1]}, a.ValueType(), 0, a, indices),
	}
	return a.Graph().Add(n)
}

func (n *rowsNode) Forward() {
	a := n.children[0].Val().AsFloat32()
	idx := n.children[1].Val().AsUint32()
	y := n.val.AsFloat32()
	cols := n.shape[1]

	parallel.Ranges(len(idx), func(start, end int) {
		for i := start; i < end; i++ {
			copy(y[i*cols:(i+1)*cols], a[int(idx[i])*cols:(int(idx[i])+1)*cols])
		}
	}, n.graph.parallel)
}

func (n *rowsNode) Backward() {
	c := n.children[0]
	if !c.Trainable() || c.Grad() == nil {
		return
	}
	idx := n.children[1].Val().AsUint32()
	g := n.grad.AsFloat32()
	ga := c.Grad().AsFloat32()
	cols := n.shape[1]

	// Sequential: duplicate indices write to the same destination row.
	for i := range idx {
		dst := ga[int(idx[i])*cols : (int(idx[i])+1)*cols]
		src := g[i*cols : (i+1)*cols]
		for j := range dst {
			dst[j] += src[j]
		}
	}
}

// transposeNode permutes the padded fixed-rank axes. The permutation is part
// of the node's structural identity.
type transposeNode struct {
	NodeBase
	perm [tensor.MaxRank]int
}

// Transpose swaps the last two axes of a rank-2 operand.
func Transpose(a Expr) Expr {
	return TransposeAxes(a, 0, 1, 3, 2)
}

// TransposeAxes permutes all fixed-rank axes of the operand after left-
// padding it to full rank. The result shape carries the full rank.
func TransposeAxes(a Expr, perm ...int) Expr {
	mustFloat32("transpose", a)
	if len(perm) != tensor.MaxRank {
		panic(fmt.Sprintf("graph: transpose needs %d axes, got %d", tensor.MaxRank, len(perm)))
	}
	var p [tensor.MaxRank]int
	seen := [tensor.MaxRank]bool{}
	for i, ax := range perm {
		if ax < 0 || ax >= tensor.MaxRank || seen[ax] {
			panic(fmt.Sprintf("graph: invalid transpose permutation %v", perm))
		}
		seen[ax] = true
		p[i] = ax
	}

	in := tensor.ConstShapeOf(a.Shape())
	shape := make(tensor.Shape, tensor.MaxRank)
	var key uint64
	for i := 0; i < tensor.MaxRank; i++ {
		shape[i] = in.Dim(p[i])
		key = key*uint64(tensor.MaxRank) + uint64(p[i])
	}
	n := &transposeNode{
		NodeBase: newNodeBase(a.Graph(), "transpose", shape, a.ValueType(), key, a),
		perm:     p,
	}
	return a.Graph().Add(n)
}

func (n *transposeNode) Forward() {
	x := n.children[0].Val().AsFloat32()
	y := n.val.AsFloat32()
	in := n.children[0].Val().ConstShape()
	out := n.val.ConstShape()
	p := n.perm

	parallel.Ranges(len(y), func(start, end int) {
		var d, q [tensor.MaxRank]int
		for i := start; i < end; i++ {
			out.Dims(i, &d)
			for j := 0; j < tensor.MaxRank; j++ {
				q[p[j]] = d[j]
			}
			y[out.IndexOf(d)] = x[in.IndexOf(q)]
		}
	}, n.graph.parallel)
}

func (n *transposeNode) Backward() {
	c := n.children[0]
	if !c.Trainable() || c.Grad() == nil {
		return
	}
	g := n.grad.AsFloat32()
	gx := c.Grad().AsFloat32()
	in := c.Grad().ConstShape()
	out := n.grad.ConstShape()
	p := n.perm

	parallel.Ranges(len(g), func(start, end int) {
		var d, q [tensor.MaxRank]int
		for i := start; i < end; i++ {
			out.Dims(i, &d)
			for j := 0; j < tensor.MaxRank; j++ {
				q[p[j]] = d[j]
			}
			gx[in.IndexOf(q)] += g[out.IndexOf(d)]
		}
	}, n.graph.parallel)
}

// reshapeNode reinterprets the operand's contiguous memory under a new shape
// with the same element count.
type reshapeNode struct {
	NodeBase
}

// Reshape returns a with its elements laid out under the given shape.
func Reshape(a Expr, shape tensor.Shape) Expr {
	mustFloat32("reshape", a)
	if shape.NumElements() != a.Shape().NumElements() {
		panic(fmt.Sprintf("graph: reshape from %s to %s changes the element count", a.Shape(), shape))
	}
	n := &reshapeNode{
		NodeBase: newNodeBase(a.Graph(), "reshape", shape, a.ValueType(), 0, a),
	}
	return a.Graph().Add(n)
}

func (n *reshapeNode) Forward() {
	copy(n.val.AsFloat32(), n.children[0].Val().AsFloat32())
}

func (n *reshapeNode) Backward() {
	c := n.children[0]
	if !c.Trainable() || c.Grad() == nil {
		return
	}
	g := n.grad.AsFloat32()
	gx := c.Grad().AsFloat32()
	for i := range gx {
		gx[i] += g[i]
	}
}
