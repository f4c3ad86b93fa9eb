// Package graph implements the dynamic expression graph: self-registering
// operation nodes, forward evaluation in insertion order, reverse-mode
// differentiation over the backward tape, short/long-term node memoization
// and gradient checkpointing with recomputation subtapes.
package graph

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/gradix-ml/gradix/internal/tensor"
)

// Expr is one operation or value in the computation graph. Each operator
// kind is one implementation; NodeBase supplies the shared bookkeeping.
//
// A node carries two distinct identities: the integer ID assigned when it is
// first inserted into the graph, and the structural hash derived from the
// operator kind, children and literal parameters, which drives memoization.
type Expr interface {
	Type() string
	Graph() *Graph
	ID() int64
	SetID(int64)
	Name() string
	SetName(string)
	Shape() tensor.Shape
	ValueType() tensor.DataType

	Hash() uint64
	Equal(other Expr) bool
	extraKey() uint64

	Trainable() bool
	SetTrainable(bool)
	Memoize() bool

	Children() []Expr
	ClearChildren()

	Val() *tensor.RawTensor
	Grad() *tensor.RawTensor

	Allocate() error
	Init()
	Free()
	InitDependent() error
	SetZeroGrad() error

	Forward()
	Backward()

	MarkCheckpoint()
	IsCheckpoint() bool
	subtape() *[]Expr
	setSubtape(*[]Expr)

	Debug(msg string)
	MarkedForDebug() bool
	DebugMessage() string
}

// NodeBase carries the bookkeeping common to every node kind. Concrete ops
// embed it and implement Forward, Backward and (where literals participate)
// their hash contribution.
type NodeBase struct {
	graph *Graph
	kind  string
	id    int64
	name  string

	shape tensor.Shape
	dtype tensor.DataType

	children  []Expr
	trainable bool
	memoize   bool

	hash  uint64
	extra uint64

	val  *tensor.RawTensor
	grad *tensor.RawTensor

	checkpoint bool
	tape       *[]Expr

	initialized bool
	init        Initializer

	debug    bool
	debugMsg string
}

// newNodeBase wires the shared node state. A node is trainable when any of
// its children is; leaves override. The structural hash is computed here,
// before graph insertion, so memoized lookup can run first.
func newNodeBase(g *Graph, kind string, shape tensor.Shape, dtype tensor.DataType, extra uint64, children ...Expr) NodeBase {
	trainable := false
	for _, c := range children {
		if c.Trainable() {
			trainable = true
			break
		}
	}
	n := NodeBase{
		graph:     g,
		kind:      kind,
		shape:     shape.Clone(),
		dtype:     dtype,
		children:  children,
		trainable: trainable,
		extra:     extra,
		id:        -1,
	}
	n.hash = n.structuralHash()
	return n
}

func (n *NodeBase) structuralHash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.kind))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(n.dtype))
	_, _ = h.Write(buf[:])
	for _, d := range n.shape {
		binary.LittleEndian.PutUint64(buf[:], uint64(d))
		_, _ = h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], n.extra)
	_, _ = h.Write(buf[:])
	for _, c := range n.children {
		binary.LittleEndian.PutUint64(buf[:], c.Hash())
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

func (n *NodeBase) Type() string { return n.kind }
func (n *NodeBase) Graph() *Graph { return n.graph }
func (n *NodeBase) ID() int64 { return n.id }
func (n *NodeBase) SetID(id int64) { n.id = id }
func (n *NodeBase) Name() string { return n.name }
func (n *NodeBase) SetName(name string) { n.name = name }
func (n *NodeBase) Shape() tensor.Shape { return n.shape }
func (n *NodeBase) ValueType() tensor.DataType { return n.dtype }
func (n *NodeBase) Hash() uint64 { return n.hash }
func (n *NodeBase) extraKey() uint64 { return n.extra }
func (n *NodeBase) Trainable() bool { return n.trainable }
func (n *NodeBase) SetTrainable(trainable bool) { n.trainable = trainable }
func (n *NodeBase) Memoize() bool { return n.memoize }
func (n *NodeBase) Children() []Expr { return n.children }
func (n *NodeBase) ClearChildren() { n.children = nil }
func (n *NodeBase) Val() *tensor.RawTensor { return n.val }
func (n *NodeBase) Grad() *tensor.RawTensor { return n.grad }

// Equal reports full structural equality: same operator kind, value type,
// shape and literals, and identical child nodes. Used by the short-term
// memoization lookup to verify hash-colliding candidates.
func (n *NodeBase) Equal(other Expr) bool {
	if n.kind != other.Type() || n.dtype != other.ValueType() || n.extra != other.extraKey() {
		return false
	}
	if !n.shape.Equal(other.Shape()) {
		return false
	}
	oc := other.Children()
	if len(n.children) != len(oc) {
		return false
	}
	for i := range n.children {
		if n.children[i] != oc[i] {
			return false
		}
	}
	return true
}

// Allocate lazily acquires value storage through the graph's tensor façade.
func (n *NodeBase) Allocate() error {
	return n.graph.tensors.allocateForward(n)
}

// Init runs the node's one-time initializer, if any.
func (n *NodeBase) Init() {
	if n.init != nil && !n.initialized {
		n.init(n.val)
		n.initialized = true
	}
}

// Free releases the node's value storage back to the pool. Used by the
// checkpointing scheme to trade memory for recomputation.
func (n *NodeBase) Free() {
	if n.val != nil {
		n.graph.tensors.free(n.val)
		n.val = nil
		n.initialized = false
	}
}

// InitDependent seeds the node's incoming gradient with the
// differentiation-start value (ones), allocating it on first use.
func (n *NodeBase) InitDependent() error {
	if n.grad != nil {
		return nil
	}
	if err := n.graph.tensors.allocateBackward(n); err != nil {
		return err
	}
	fillFloat32(n.grad, 1)
	return nil
}

// SetZeroGrad gives the node a fresh zeroed gradient accumulation slot. A
// gradient that is already allocated is left alone: parents accumulate into
// it additively.
func (n *NodeBase) SetZeroGrad() error {
	if n.grad != nil {
		return nil
	}
	if err := n.graph.tensors.allocateBackward(n); err != nil {
		return err
	}
	fillFloat32(n.grad, 0)
	return nil
}

func (n *NodeBase) MarkCheckpoint() { n.checkpoint = true }
func (n *NodeBase) IsCheckpoint() bool { return n.checkpoint }
func (n *NodeBase) subtape() *[]Expr { return n.tape }
func (n *NodeBase) setSubtape(t *[]Expr) { n.tape = t }

// Debug marks the node for a value dump after its forward step.
func (n *NodeBase) Debug(msg string) {
	n.debug = true
	n.debugMsg = msg
}

func (n *NodeBase) MarkedForDebug() bool { return n.debug }
func (n *NodeBase) DebugMessage() string { return n.debugMsg }

func fillFloat32(t *tensor.RawTensor, x float32) {
	data := t.AsFloat32()
	for i := range data {
		data[i] = x
	}
}
