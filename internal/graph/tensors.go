package graph

import (
	"github.com/gradix-ml/gradix/internal/memory"
	"github.com/gradix-ml/gradix/internal/tensor"
)

// tensors routes node storage through two allocators and keeps the two
// memoization maps. The main allocator backs per-iteration values and
// gradients and is recycled on every graph clear; the cache allocator backs
// memoized constants, which survive clears until the long-term memos are
// dropped.
type tensors struct {
	allocator *memory.Allocator
	cache     *memory.Allocator

	shortterm map[uint64][]Expr
	longterm  map[uint64][]Expr

	// cached marks tensors owned by the cache allocator so that free calls
	// on them are ignored.
	cached map[*tensor.RawTensor]struct{}
}

func newTensors() *tensors {
	return &tensors{
		allocator: memory.NewAllocator(),
		cache:     memory.NewAllocator(),
		shortterm: make(map[uint64][]Expr),
		longterm:  make(map[uint64][]Expr),
		cached:    make(map[*tensor.RawTensor]struct{}),
	}
}

func (t *tensors) allocateForward(n *NodeBase) error {
	if n.val != nil {
		return nil
	}
	raw, err := t.allocate(n.shape, n.dtype, n.memoize)
	if err != nil {
		return err
	}
	n.val = raw
	return nil
}

func (t *tensors) allocateBackward(n *NodeBase) error {
	if n.grad != nil {
		return nil
	}
	raw, err := t.allocate(n.shape, n.dtype, false)
	if err != nil {
		return err
	}
	n.grad = raw
	return nil
}

func (t *tensors) allocate(shape tensor.Shape, dtype tensor.DataType, memoize bool) (*tensor.RawTensor, error) {
	alloc := t.allocator
	if memoize {
		alloc = t.cache
	}
	buf, err := alloc.Alloc(shape.NumElements() * dtype.Size())
	if err != nil {
		return nil, err
	}
	raw, err := tensor.NewRawWithBuffer(buf, shape, dtype, tensor.CPU)
	if err != nil {
		return nil, err
	}
	if memoize {
		t.cached[raw] = struct{}{}
	}
	return raw, nil
}

func (t *tensors) free(raw *tensor.RawTensor) {
	if raw == nil {
		return
	}
	if _, ok := t.cached[raw]; ok {
		return
	}
	t.allocator.Free(raw.Buffer())
}

// findOrRemember returns an earlier node the given node duplicates, or nil
// after registering it as new. Memoizable nodes are first matched against
// the long-term map on hash alone, taking the first candidate without an
// Equal check.
// TODO: verify long-term candidates with Equal the way the short-term path
// does; an earlier attempt broke constant reuse across parameter swaps and
// was reverted.
func (t *tensors) findOrRemember(node Expr) Expr {
	hash := node.Hash()
	if node.Memoize() {
		for _, found := range t.longterm[hash] {
			return found
		}
		t.longterm[hash] = append(t.longterm[hash], node)
	}
	for _, found := range t.shortterm[hash] {
		if node.Equal(found) {
			return found
		}
	}
	t.shortterm[hash] = append(t.shortterm[hash], node)
	return nil
}

// clear resets the per-iteration state: pooled buffers and the short-term
// memos. Long-term memos and their cache allocator are untouched.
func (t *tensors) clear() {
	t.allocator.Clear()
	t.clearShorttermMemos()
}

func (t *tensors) clearShorttermMemos() {
	t.shortterm = make(map[uint64][]Expr)
}

func (t *tensors) clearLongtermMemos() {
	t.longterm = make(map[uint64][]Expr)
	t.cached = make(map[*tensor.RawTensor]struct{})
	t.cache.Clear()
}
