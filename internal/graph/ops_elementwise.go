package graph

import (
	"fmt"
	"math"

	"github.com/gradix-ml/gradix/internal/functional"
	"github.com/gradix-ml/gradix/internal/tensor"
)

// Elementwise operators funnel through the functional apply engine. The
// forward pass evaluates the functor per output element with broadcast
// reads; the backward pass evaluates the local derivative times the incoming
// gradient over the output shape, then folds it back into each operand's
// gradient, summing over axes the operand broadcast along.

// unaryNode applies fwd elementwise. bwd receives the input, the output and
// the incoming gradient and returns the gradient contribution.
type unaryNode struct {
	NodeBase
	fwd func(x float32) float32
	bwd func(x, y, g float32) float32
}

func newUnaryNode(g *Graph, kind string, a Expr, fwd func(float32) float32, bwd func(x, y, g float32) float32) Expr {
	mustFloat32(kind, a)
	n := &unaryNode{
		NodeBase: newNodeBase(g, kind, a.Shape(), a.ValueType(), 0, a),
		fwd:      fwd,
		bwd:      bwd,
	}
	return g.Add(n)
}

func (n *unaryNode) Forward() {
	out := functional.ViewOf[float32](n.val)
	in := functional.ViewOf[float32](n.children[0].Val())
	functional.Element1(n.fwd, out, in, n.graph.parallel)
}

func (n *unaryNode) Backward() {
	c := n.children[0]
	if !c.Trainable() || c.Grad() == nil {
		return
	}
	x := c.Val().AsFloat32()
	y := n.val.AsFloat32()
	g := n.grad.AsFloat32()
	gx := c.Grad().AsFloat32()
	for i := range gx {
		gx[i] += n.bwd(x[i], y[i], g[i])
	}
}

// binaryNode applies fwd over two broadcast operands. dfa and dfb receive
// both operand values and the incoming gradient and return the contribution
// to the respective operand.
type binaryNode struct {
	NodeBase
	fwd func(a, b float32) float32
	dfa func(a, b, g float32) float32
	dfb func(a, b, g float32) float32
}

func newBinaryNode(g *Graph, kind string, a, b Expr, fwd func(x, y float32) float32, dfa, dfb func(x, y, g float32) float32) Expr {
	mustFloat32(kind, a)
	mustFloat32(kind, b)
	shape, _, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("graph: %s: %v", kind, err))
	}
	n := &binaryNode{
		NodeBase: newNodeBase(g, kind, shape, a.ValueType(), 0, a, b),
		fwd:      fwd,
		dfa:      dfa,
		dfb:      dfb,
	}
	return g.Add(n)
}

func (n *binaryNode) Forward() {
	out := functional.ViewOf[float32](n.val)
	a := functional.ViewOf[float32](n.children[0].Val())
	b := functional.ViewOf[float32](n.children[1].Val())
	functional.Element2(n.fwd, out, a, b, n.graph.parallel)
}

func (n *binaryNode) Backward() {
	a := functional.ViewOf[float32](n.children[0].Val())
	b := functional.ViewOf[float32](n.children[1].Val())
	g := functional.ViewOf[float32](n.grad)

	tmp := functional.View[float32]{
		Data:  make([]float32, n.val.NumElements()),
		Shape: n.val.ConstShape(),
	}
	ident := func(x float32) float32 { return x }

	if c := n.children[0]; c.Trainable() && c.Grad() != nil {
		functional.Element3(n.dfa, tmp, a, b, g, n.graph.parallel)
		functional.ReduceAcc1(ident, functional.ViewOf[float32](c.Grad()), tmp, n.graph.parallel)
	}
	if c := n.children[1]; c.Trainable() && c.Grad() != nil {
		functional.Element3(n.dfb, tmp, a, b, g, n.graph.parallel)
		functional.ReduceAcc1(ident, functional.ViewOf[float32](c.Grad()), tmp, n.graph.parallel)
	}
}

// scalarNode applies fwd against a literal scalar, which participates in the
// node's structural hash.
type scalarNode struct {
	NodeBase
	scalar float32
	fwd    func(x, s float32) float32
	bwd    func(x, s, g float32) float32
}

func newScalarNode(g *Graph, kind string, a Expr, s float32, fwd func(x, s float32) float32, bwd func(x, s, g float32) float32) Expr {
	mustFloat32(kind, a)
	n := &scalarNode{
		NodeBase: newNodeBase(g, kind, a.Shape(), a.ValueType(), uint64(math.Float32bits(s)), a),
		scalar:   s,
		fwd:      fwd,
		bwd:      bwd,
	}
	return g.Add(n)
}

func (n *scalarNode) Forward() {
	out := functional.ViewOf[float32](n.val)
	in := functional.ViewOf[float32](n.children[0].Val())
	s := n.scalar
	functional.Element1(func(x float32) float32 { return n.fwd(x, s) }, out, in, n.graph.parallel)
}

func (n *scalarNode) Backward() {
	c := n.children[0]
	if !c.Trainable() || c.Grad() == nil {
		return
	}
	x := c.Val().AsFloat32()
	g := n.grad.AsFloat32()
	gx := c.Grad().AsFloat32()
	for i := range gx {
		gx[i] += n.bwd(x[i], n.scalar, g[i])
	}
}

func mustFloat32(kind string, a Expr) {
	if a.ValueType() != tensor.Float32 {
		panic(fmt.Sprintf("graph: %s requires float32 operands, got %s", kind, a.ValueType()))
	}
}

// Add returns the broadcast elementwise sum a + b.
func Add(a, b Expr) Expr {
	return newBinaryNode(a.Graph(), "add", a, b,
		func(x, y float32) float32 { return x + y },
		func(x, y, g float32) float32 { return g },
		func(x, y, g float32) float32 { return g })
}

// Sub returns the broadcast elementwise difference a - b.
func Sub(a, b Expr) Expr {
	return newBinaryNode(a.Graph(), "sub", a, b,
		func(x, y float32) float32 { return x - y },
		func(x, y, g float32) float32 { return g },
		func(x, y, g float32) float32 { return -g })
}

// Mul returns the broadcast elementwise product a * b.
func Mul(a, b Expr) Expr {
	return newBinaryNode(a.Graph(), "mul", a, b,
		func(x, y float32) float32 { return x * y },
		func(x, y, g float32) float32 { return y * g },
		func(x, y, g float32) float32 { return x * g })
}

// Div returns the broadcast elementwise quotient a / b.
func Div(a, b Expr) Expr {
	return newBinaryNode(a.Graph(), "div", a, b,
		func(x, y float32) float32 { return x / y },
		func(x, y, g float32) float32 { return g / y },
		func(x, y, g float32) float32 { return -x / (y * y) * g })
}

// Neg returns -a.
func Neg(a Expr) Expr {
	return newUnaryNode(a.Graph(), "neg", a,
		func(x float32) float32 { return -x },
		func(x, y, g float32) float32 { return -g })
}

// Exp returns e^a elementwise.
func Exp(a Expr) Expr {
	return newUnaryNode(a.Graph(), "exp", a,
		func(x float32) float32 { return float32(math.Exp(float64(x))) },
		func(x, y, g float32) float32 { return y * g })
}

// Log returns the natural logarithm elementwise.
func Log(a Expr) Expr {
	return newUnaryNode(a.Graph(), "log", a,
		func(x float32) float32 { return float32(math.Log(float64(x))) },
		func(x, y, g float32) float32 { return g / x })
}

// Sqrt returns the square root elementwise.
func Sqrt(a Expr) Expr {
	return newUnaryNode(a.Graph(), "sqrt", a,
		func(x float32) float32 { return float32(math.Sqrt(float64(x))) },
		func(x, y, g float32) float32 { return g / (2 * y) })
}

// Sqr returns a*a elementwise.
func Sqr(a Expr) Expr {
	return newUnaryNode(a.Graph(), "sqr", a,
		func(x float32) float32 { return x * x },
		func(x, y, g float32) float32 { return 2 * x * g })
}

// Sigmoid returns the logistic function elementwise.
func Sigmoid(a Expr) Expr {
	return newUnaryNode(a.Graph(), "sigmoid", a,
		func(x float32) float32 { return float32(1 / (1 + math.Exp(-float64(x)))) },
		func(x, y, g float32) float32 { return y * (1 - y) * g })
}

// Tanh returns the hyperbolic tangent elementwise.
func Tanh(a Expr) Expr {
	return newUnaryNode(a.Graph(), "tanh", a,
		func(x float32) float32 { return float32(math.Tanh(float64(x))) },
		func(x, y, g float32) float32 { return (1 - y*y) * g })
}

// ReLU returns max(0, a) elementwise.
func ReLU(a Expr) Expr {
	return newUnaryNode(a.Graph(), "relu", a,
		func(x float32) float32 {
			if x > 0 {
				return x
			}
			return 0
		},
		func(x, y, g float32) float32 {
			if x > 0 {
				return g
			}
			return 0
		})
}

// AddScalar returns a + s elementwise.
func AddScalar(a Expr, s float32) Expr {
	return newScalarNode(a.Graph(), "scalar_add", a, s,
		func(x, s float32) float32 { return x + s },
		func(x, s, g float32) float32 { return g })
}

// MulScalar returns a * s elementwise.
func MulScalar(a Expr, s float32) Expr {
	return newScalarNode(a.Graph(), "scalar_mul", a, s,
		func(x, s float32) float32 { return x * s },
		func(x, s, g float32) float32 { return s * g })
}
