package graph

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"strings"

	"k8s.io/klog/v2"

	"github.com/gradix-ml/gradix/internal/memory"
	"github.com/gradix-ml/gradix/internal/parallel"
	"github.com/gradix-ml/gradix/internal/serialization"
	"github.com/gradix-ml/gradix/internal/tensor"
)

// Graph is a dynamic computation graph. Nodes self-register on construction:
// building an expression appends it to the forward tape (insertion order)
// and, when trainable, to the backward tape, which Backward consumes in
// reverse. The graph owns parameter and tensor storage across iterations;
// Clear resets the per-iteration state and keeps parameters and memoized
// constants.
//
// A Graph is not safe for concurrent use.
type Graph struct {
	count int64
	nonce uint64

	nodesForward  []Expr
	nodesBackward []Expr
	topNodes      map[Expr]struct{}

	params  *Parameters
	tensors *tensors

	namespace string
	reloaded  bool
	meta      map[string][]byte

	inferenceOnly bool
	checkpointing bool
	throwNaN      bool

	saveType tensor.DataType
	parallel parallel.Config
	rng      *rand.Rand
}

// New creates an empty training graph.
func New() *Graph {
	return &Graph{
		topNodes: make(map[Expr]struct{}),
		meta:     make(map[string][]byte),
		params:   NewParameters(),
		tensors:  newTensors(),
		saveType: tensor.Float32,
		parallel: parallel.DefaultConfig(),
		rng:      rand.New(rand.NewSource(1)),
	}
}

// NewInference creates a graph that skips all backward bookkeeping and
// releases child links after each forward step.
func NewInference() *Graph {
	g := New()
	g.inferenceOnly = true
	return g
}

// SetCheckpointing toggles gradient checkpointing for subsequently built
// iterations. With checkpointing on, intermediate values between checkpoints
// are freed after the forward pass and recomputed on demand during backward.
func (g *Graph) SetCheckpointing(on bool) { g.checkpointing = on }

// SetThrowNaN toggles NaN/Inf screening of values and gradients.
func (g *Graph) SetThrowNaN(on bool) { g.throwNaN = on }

// SetSeed reseeds the graph's random source for initializers and dropout.
func (g *Graph) SetSeed(seed int64) { g.rng = rand.New(rand.NewSource(seed)) }

// SetParallel installs the worker configuration used by all operators.
func (g *Graph) SetParallel(cfg parallel.Config) { g.parallel = cfg }

// SetSaveType sets the element type parameters are converted to on save.
func (g *Graph) SetSaveType(dt tensor.DataType) { g.saveType = dt }

// SwitchParams changes the namespace prepended to parameter names, allowing
// several parameter sets to share one graph.
func (g *Graph) SwitchParams(namespace string) { g.namespace = namespace }

// Params returns the parameter registry.
func (g *Graph) Params() *Parameters { return g.params }

// ReserveWorkspaceMB fixes the workspace budget used by Fits.
func (g *Graph) ReserveWorkspaceMB(mb int) {
	g.tensors.allocator.Reserve(mb * 1024 * 1024)
}

// ReuseWorkspace shares the other graph's tensor storage with this one.
// The two graphs must not run iterations concurrently; the intended use is
// an auxiliary graph that is active only while the main graph is idle.
func (g *Graph) ReuseWorkspace(other *Graph) {
	g.tensors = other.tensors
}

func (g *Graph) nextNonce() uint64 {
	g.nonce++
	return g.nonce
}

// Add inserts a node into the graph unless an equivalent node already
// exists, in which case the existing node is returned and the new one
// discarded. Equivalence is decided by the memoization maps: long-term for
// memoizable nodes, short-term (one generation) for the rest.
func (g *Graph) Add(node Expr) Expr {
	if found := g.tensors.findOrRemember(node); found != nil {
		return found
	}

	node.SetID(g.count)
	g.count++

	g.nodesForward = append(g.nodesForward, node)

	if !g.inferenceOnly && node.Trainable() {
		g.nodesBackward = append(g.nodesBackward, node)
		g.topNodes[node] = struct{}{}
	}
	if _, ok := g.topNodes[node]; ok {
		for _, child := range node.Children() {
			delete(g.topNodes, child)
		}
	}
	return node
}

// Param returns the named trainable parameter, creating it on first use.
// Repeated calls must agree on the shape. After a graph reload, new
// parameter names are rejected.
func (g *Graph) Param(name string, shape tensor.Shape, init Initializer) Expr {
	return g.param(name, shape, init, false)
}

// FixedParam is Param with training disabled: the parameter keeps its value
// and receives no gradient.
func (g *Graph) FixedParam(name string, shape tensor.Shape, init Initializer) Expr {
	return g.param(name, shape, init, true)
}

func (g *Graph) param(name string, shape tensor.Shape, init Initializer, fixed bool) Expr {
	if g.namespace != "" {
		name = g.namespace + "::" + name
	}

	if p := g.params.get(name); p != nil {
		if !shape.Equal(p.Shape()) {
			klog.Fatalf("requested shape %s for existing parameter %q does not match original shape %s",
				shape, name, p.Shape())
		}
		p.SetTrainable(!fixed)
		g.Add(p)
		return p
	}

	if g.reloaded {
		klog.Fatalf("graph was reloaded and parameter %q is newly created", name)
	}

	p := newParamNode(g, name, shape, init, fixed)
	g.params.add(p)
	g.Add(p)
	return p
}

// Constant builds a non-trainable leaf with the given contents. Each call
// creates a distinct node.
func (g *Graph) Constant(shape tensor.Shape, init Initializer) Expr {
	return g.ConstantOfType(shape, tensor.Float32, init)
}

// ConstantOfType is Constant with an explicit element type.
func (g *Graph) ConstantOfType(shape tensor.Shape, dtype tensor.DataType, init Initializer) Expr {
	return g.Add(newConstantNode(g, shape, dtype, init, false, 0))
}

// cachedConstant deduplicates by content key and survives graph clears; its
// storage comes from the cache allocator.
func (g *Graph) cachedConstant(shape tensor.Shape, dtype tensor.DataType, init Initializer, key uint64) Expr {
	return g.Add(newConstantNode(g, shape, dtype, init, true, key))
}

// Ones returns a cached all-ones constant of the given shape.
func (g *Graph) Ones(shape tensor.Shape) Expr {
	return g.cachedConstant(shape, tensor.Float32, Ones(), uint64(math.Float32bits(1)))
}

// Zeros returns a cached all-zeros constant of the given shape.
func (g *Graph) Zeros(shape tensor.Shape) Expr {
	return g.cachedConstant(shape, tensor.Float32, Zeros(), uint64(math.Float32bits(0)))
}

// Indices builds an index-vector constant for gather operations and beam
// feedback.
func (g *Graph) Indices(indices []uint32) Expr {
	return g.ConstantOfType(tensor.Shape{len(indices)}, tensor.Uint32, FromIndices(indices))
}

// Dropout builds a fresh scaled Bernoulli mask of the given shape.
func (g *Graph) Dropout(prob float32, shape tensor.Shape) Expr {
	return g.Constant(shape, Bernoulli(g.rng, prob))
}

// Get returns the parameter with the given name under the current
// namespace, or nil.
func (g *Graph) Get(name string) Expr {
	if g.namespace != "" {
		name = g.namespace + "::" + name
	}
	return g.params.Get(name)
}

// Forward allocates parameters and evaluates all pending nodes.
func (g *Graph) Forward() error {
	if err := g.params.AllocateForward(); err != nil {
		return err
	}
	return g.ForwardNext()
}

// ForwardNext evaluates the nodes added since the last forward pass. With
// checkpointing on, the pass is treated as provisional: recomputation
// subtapes are built from the checkpoint cuts and non-checkpoint values are
// freed as soon as their last checkpoint consumer has run.
func (g *Graph) ForwardNext() error {
	g.tensors.clearShorttermMemos()

	if g.checkpointing {
		for top := range g.topNodes {
			top.MarkCheckpoint()
		}
		for i := len(g.nodesBackward) - 1; i >= 0; i-- {
			if v := g.nodesBackward[i]; v.IsCheckpoint() {
				createSubtape(v)
			}
		}
		// The stretch from the last checkpoint to the top is never
		// recomputed, so promote it to checkpoints and drop its subtape.
		for top := range g.topNodes {
			if st := top.subtape(); st != nil {
				for _, node := range *st {
					node.MarkCheckpoint()
				}
				*st = (*st)[:0]
			}
		}
	}

	return g.forward(&g.nodesForward, !g.checkpointing)
}

func (g *Graph) forward(tape *[]Expr, finalPass bool) error {
	firstNaN := true
	for len(*tape) > 0 {
		v := (*tape)[0]

		if err := v.Allocate(); err != nil {
			return err
		}
		v.Init()

		for _, child := range v.Children() {
			if child.Val() == nil {
				klog.Fatalf("deallocated child %d %s of %d %s", child.ID(), child.Type(), v.ID(), v.Type())
			}
		}

		v.Forward()

		if v.Trainable() && g.throwNaN && firstNaN {
			if isNaN, isInf := checkNaN(v.Val()); isNaN || isInf {
				klog.Errorf("detected NaN (%v) or Inf (%v) in value (forward pass)", isNaN, isInf)
				klog.Errorf("\ttype: %s, shape: %s, name: %s, id: %d, hash: %d",
					v.Type(), v.Shape(), v.Name(), v.ID(), v.Hash())
				for _, child := range v.Children() {
					klog.Errorf("\tchild type: %s, shape: %s, name: %s, id: %d, hash: %d",
						child.Type(), child.Shape(), child.Name(), child.ID(), child.Hash())
				}
				firstNaN = false
			}
		}

		if v.MarkedForDebug() {
			klog.Infof("debug: %s op=%s", v.DebugMessage(), v.Type())
			klog.Infof("%v", v.Val().AsFloat32())
		}

		if g.inferenceOnly {
			v.ClearChildren()
		}

		if g.checkpointing && !finalPass {
			if st := v.subtape(); st != nil {
				for _, node := range *st {
					node.Free()
				}
			}
		}

		*tape = (*tape)[1:]
	}
	return nil
}

// createSubtape collects, in forward order, the non-checkpoint nodes between
// a checkpoint's cut and the node itself. Recursion stops at checkpoints;
// nodes already claimed by another subtape are not claimed again.
func createSubtape(node Expr) {
	subtape := make([]Expr, 0)

	for _, child := range node.Children() {
		if child.IsCheckpoint() {
			continue
		}
		if child.subtape() != nil {
			continue
		}
		createSubtape(child)
		subtape = append(subtape, *child.subtape()...)
		*child.subtape() = (*child.subtape())[:0]
	}

	if !node.IsCheckpoint() {
		subtape = append(subtape, node)
	}
	node.setSubtape(&subtape)
}

// Backward runs reverse-mode differentiation from the single top node. When
// zero is set, parameter gradients are reset first; clipValue, when nonzero,
// clamps intermediate gradients elementwise to [-clipValue, clipValue]
// before they propagate further.
func (g *Graph) Backward(zero bool, clipValue float32) error {
	if len(g.topNodes) > 1 {
		klog.Errorf("there are more (%d) than one topmost nodes for backward pass:", len(g.topNodes))
		for node := range g.topNodes {
			klog.Errorf("\ttype: %s, shape: %s, name: %s, id: %d, hash: %d",
				node.Type(), node.Shape(), node.Name(), node.ID(), node.Hash())
		}
		klog.Fatal("aborting")
	}

	if err := g.params.AllocateBackward(); err != nil {
		return err
	}
	if zero {
		g.params.ZeroGrads()
	}

	for v := range g.topNodes {
		if err := v.InitDependent(); err != nil {
			return err
		}
	}
	g.topNodes = make(map[Expr]struct{})

	g.tensors.clearShorttermMemos()

	firstNaN := true
	for len(g.nodesBackward) > 0 {
		v := g.nodesBackward[len(g.nodesBackward)-1]
		g.nodesBackward = g.nodesBackward[:len(g.nodesBackward)-1]

		for _, child := range v.Children() {
			if child.Trainable() && child.Type() != "param" {
				if err := child.SetZeroGrad(); err != nil {
					return err
				}
			}
		}

		if g.checkpointing && v.subtape() != nil {
			if err := g.forward(v.subtape(), true); err != nil {
				return err
			}
		}

		if v.Trainable() && v.MarkedForDebug() {
			klog.Infof("debug grad: %s op=%s", v.DebugMessage(), v.Type())
			klog.Infof("%v", v.Grad().AsFloat32())
		}

		if v.Trainable() && clipValue != 0 && v.Type() != "param" {
			clampGrad(v.Grad(), clipValue)
		}

		if v.Trainable() {
			v.Backward()
		}

		if g.throwNaN && firstNaN {
			for _, child := range v.Children() {
				if !child.Trainable() || child.Grad() == nil {
					continue
				}
				if isNaN, isInf := checkNaN(child.Grad()); isNaN || isInf {
					klog.Errorf("detected NaN (%v) or Inf (%v) in gradient (backward pass) of child node", isNaN, isInf)
					klog.Errorf("child - type: %s, shape: %s, name: %s, id: %d, hash: %d",
						child.Type(), child.Shape(), child.Name(), child.ID(), child.Hash())
					klog.Errorf("parent - type: %s, shape: %s, name: %s, id: %d, hash: %d",
						v.Type(), v.Shape(), v.Name(), v.ID(), v.Hash())
					firstNaN = false
				}
			}
		}

		v.ClearChildren()
	}
	return nil
}

// Backprop runs one full forward and backward pass.
func (g *Graph) Backprop() error {
	if err := g.Forward(); err != nil {
		return err
	}
	return g.Backward(true, 0)
}

// Fits reports whether one full backprop iteration stays inside the
// reserved workspace, without committing the allocations that would not.
func (g *Graph) Fits() bool {
	g.tensors.allocator.SetProbe(true)
	err := g.Backprop()
	g.tensors.allocator.SetProbe(false)
	return !errors.Is(err, memory.ErrWorkspaceExceeded)
}

// Clear resets everything apart from parameters and memoized constants:
// pending tapes, top-node tracking, pooled value storage and the short-term
// memos.
func (g *Graph) Clear() {
	g.count = 0
	g.nodesForward = nil
	g.nodesBackward = nil
	g.topNodes = make(map[Expr]struct{})
	g.tensors.clear()
}

// ClearLongtermMemos additionally drops memoized constants and their cache
// storage.
func (g *Graph) ClearLongtermMemos() {
	g.tensors.clearLongtermMemos()
}

func clampGrad(t *tensor.RawTensor, clipValue float32) {
	data := t.AsFloat32()
	for i, x := range data {
		if x > clipValue {
			data[i] = clipValue
		} else if x < -clipValue {
			data[i] = -clipValue
		}
	}
}

func checkNaN(t *tensor.RawTensor) (isNaN, isInf bool) {
	for _, x := range t.AsFloat32() {
		f := float64(x)
		if math.IsNaN(f) {
			isNaN = true
		}
		if math.IsInf(f, 0) {
			isInf = true
		}
		if isNaN && isInf {
			break
		}
	}
	return isNaN, isInf
}

// Save converts all parameters into serialization items, sorted by name,
// with the current namespace prefix stripped and values converted to the
// configured save type.
func (g *Graph) Save() ([]serialization.Item, error) {
	items := make([]serialization.Item, 0, g.params.Len())
	var err error
	g.params.Walk(func(p Expr) {
		if err != nil {
			return
		}
		name := p.Name()
		if g.namespace != "" {
			name = strings.TrimPrefix(name, g.namespace+"::")
		}
		item := serialization.Item{
			Name:  name,
			Shape: p.Shape().Clone(),
			DType: p.Val().DType(),
			Data:  append([]byte(nil), p.Val().Data()...),
		}
		conv, cerr := item.Convert(g.saveType)
		if cerr != nil {
			err = cerr
			return
		}
		items = append(items, *conv)
	})
	if err != nil {
		return nil, err
	}
	for name, data := range g.meta {
		items = append(items, serialization.Item{
			Name:  "special:" + name,
			Shape: tensor.Shape{len(data)},
			DType: tensor.Uint8,
			Data:  append([]byte(nil), data...),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// AddMeta attaches out-of-band metadata that travels with checkpoints as a
// "special:"-prefixed item.
func (g *Graph) AddMeta(name string, data []byte) {
	g.meta[name] = append([]byte(nil), data...)
}

// Meta returns metadata previously attached or loaded, or nil.
func (g *Graph) Meta(name string) []byte { return g.meta[name] }

// Load registers a parameter per item, to be filled from the checkpoint on
// the next forward pass. Items with the reserved "special:" name prefix
// carry metadata and are recorded instead of registered. With markReloaded
// set, the graph afterwards rejects parameters it has not seen.
func (g *Graph) Load(items []serialization.Item, markReloaded bool) {
	g.reloaded = false
	for i := range items {
		item := &items[i]
		if strings.HasPrefix(item.Name, "special:") {
			g.meta[strings.TrimPrefix(item.Name, "special:")] = append([]byte(nil), item.Data...)
			continue
		}
		g.Param(item.Name, item.Shape, FromItem(item))
	}
	if markReloaded {
		g.reloaded = true
	}
}

// SaveFile writes all parameters to a checkpoint file.
func (g *Graph) SaveFile(path string) error {
	items, err := g.Save()
	if err != nil {
		return err
	}
	return serialization.SaveItems(path, items)
}

// LoadFile reads a checkpoint file and registers its parameters.
func (g *Graph) LoadFile(path string) error {
	items, err := serialization.LoadItems(path)
	if err != nil {
		return err
	}
	g.Load(items, true)
	return nil
}

// MmapFile maps a checkpoint file and registers its parameters over the
// mapped memory. Only inference graphs may map: mapped parameters are
// read-only.
func (g *Graph) MmapFile(path string) error {
	if !g.inferenceOnly {
		klog.Fatal("memory mapping is only supported in inference mode")
	}
	items, err := serialization.MmapItems(path)
	if err != nil {
		return err
	}
	g.Load(items, true)
	return nil
}
