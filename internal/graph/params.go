package graph

import (
	"hash/fnv"

	"github.com/gradix-ml/gradix/internal/tensor"
)

// paramNode is a named trainable leaf. Its hash derives from the parameter
// name rather than from structure, so the same name always resolves to the
// same node within a graph lifetime.
type paramNode struct {
	NodeBase
	fixed bool
}

func newParamNode(g *Graph, name string, shape tensor.Shape, init Initializer, fixed bool) *paramNode {
	p := &paramNode{
		NodeBase: newNodeBase(g, "param", shape, tensor.Float32, 0),
		fixed:    fixed,
	}
	p.name = name
	p.trainable = !fixed
	p.init = init

	h := fnv.New64a()
	_, _ = h.Write([]byte("param:" + name))
	p.hash = h.Sum64()
	return p
}

func (p *paramNode) Forward()  {}
func (p *paramNode) Backward() {}

// Free is a no-op: parameter storage persists across iterations and must not
// be reclaimed by the checkpointing scheme.
func (p *paramNode) Free() {}

// constantNode is a non-trainable leaf. Plain constants get a unique hash so
// they are never deduplicated; memoized constants hash by content descriptor
// and persist across graph clears.
type constantNode struct {
	NodeBase
}

func newConstantNode(g *Graph, shape tensor.Shape, dtype tensor.DataType, init Initializer, memoize bool, contentKey uint64) *constantNode {
	c := &constantNode{
		NodeBase: newNodeBase(g, "const", shape, dtype, contentKey),
	}
	c.init = init
	c.memoize = memoize
	if !memoize {
		// A fresh nonce keeps distinct constants distinct under hashing.
		c.extra = g.nextNonce()
		c.hash = c.structuralHash()
	}
	return c
}

func (c *constantNode) Forward()  {}
func (c *constantNode) Backward() {}

// Parameters is the ordered registry of named parameters. Iteration order is
// registration order, which fixes the layout of checkpoints and the
// optimizer's update sequence.
type Parameters struct {
	params []*paramNode
	byName map[string]*paramNode
}

// NewParameters creates an empty registry.
func NewParameters() *Parameters {
	return &Parameters{byName: make(map[string]*paramNode)}
}

// Get returns the parameter with the given full name, or nil.
func (p *Parameters) Get(name string) Expr {
	if n, ok := p.byName[name]; ok {
		return n
	}
	return nil
}

func (p *Parameters) get(name string) *paramNode {
	return p.byName[name]
}

func (p *Parameters) add(n *paramNode) {
	p.params = append(p.params, n)
	p.byName[n.Name()] = n
}

// Len returns the number of registered parameters.
func (p *Parameters) Len() int { return len(p.params) }

// Walk calls f for every parameter in registration order.
func (p *Parameters) Walk(f func(Expr)) {
	for _, n := range p.params {
		f(n)
	}
}

// AllocateForward makes sure every parameter has value storage and has run
// its initializer.
func (p *Parameters) AllocateForward() error {
	for _, n := range p.params {
		if err := n.Allocate(); err != nil {
			return err
		}
		n.Init()
	}
	return nil
}

// AllocateBackward gives every trainable parameter a zeroed gradient.
func (p *Parameters) AllocateBackward() error {
	for _, n := range p.params {
		if !n.Trainable() {
			continue
		}
		if err := n.SetZeroGrad(); err != nil {
			return err
		}
	}
	return nil
}

// ZeroGrads clears accumulated gradients in place, keeping the storage.
func (p *Parameters) ZeroGrads() {
	for _, n := range p.params {
		if n.Grad() != nil {
			fillFloat32(n.Grad(), 0)
		}
	}
}
