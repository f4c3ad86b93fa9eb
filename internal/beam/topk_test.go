package beam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopKSelectsBestDescending(t *testing.T) {
	topk := NewTopK(1)
	// Two hypothesis rows over a vocabulary of three.
	costs := []float32{1, 5, 3, 2, 2, 9}

	keys, out := topk.NBest([]int{2}, costs, 3)
	require.Len(t, keys, 2)
	assert.Equal(t, []uint32{5, 1}, keys)
	assert.Equal(t, []float32{9, 5}, out)
}

func TestTopKTieResolvesToLowerKey(t *testing.T) {
	topk := NewTopK(1)
	costs := []float32{5, 5, 1}

	keys, out := topk.NBest([]int{2}, costs, 3)
	assert.Equal(t, []uint32{0, 1}, keys)
	assert.Equal(t, []float32{5, 5}, out)
}

func TestTopKPerBatchSelection(t *testing.T) {
	topk := NewTopK(2)
	// One row per batch entry, vocabulary of two. Keys address the flattened
	// tensor, so the second batch entry's words start at 2.
	costs := []float32{1, 7, 8, 2}

	keys, out := topk.NBest([]int{1, 1}, costs, 2)
	assert.Equal(t, []uint32{1, 2}, keys)
	assert.Equal(t, []float32{7, 8}, out)
}

func TestTopKMaskSkipsRows(t *testing.T) {
	topk := NewTopK(1)
	costs := []float32{1, 2, 100, 100}

	topk.SetHypMask([]bool{true, false})
	keys, out := topk.NBest([]int{1}, costs, 2)
	assert.Equal(t, []uint32{1}, keys)
	assert.Equal(t, []float32{2}, out)

	// The mask is consumed; the next call sees every row again.
	keys, out = topk.NBest([]int{1}, costs, 2)
	assert.Equal(t, []uint32{2}, keys)
	assert.Equal(t, []float32{100}, out)
}

func TestTopKPadsShortSelections(t *testing.T) {
	topk := NewTopK(1)
	costs := []float32{3, 1}

	keys, out := topk.NBest([]int{3}, costs, 2)
	require.Len(t, keys, 3)
	assert.Equal(t, []uint32{0, 1, 0}, keys)
	assert.Equal(t, float32(3), out[0])
	assert.Equal(t, float32(1), out[1])
	assert.Equal(t, fillerCost, out[2])
}
