package graph

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradix-ml/gradix/internal/serialization"
	"github.com/gradix-ml/gradix/internal/tensor"
)

func newTestTensor(t *testing.T, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	return raw
}

func TestFromValueAndOnes(t *testing.T) {
	raw := newTestTensor(t, tensor.Shape{2, 3})
	FromValue(7)(raw)
	for _, v := range raw.AsFloat32() {
		assert.Equal(t, float32(7), v)
	}

	Ones()(raw)
	for _, v := range raw.AsFloat32() {
		assert.Equal(t, float32(1), v)
	}
}

func TestFromVectorLengthMismatchPanics(t *testing.T) {
	raw := newTestTensor(t, tensor.Shape{2, 2})
	assert.Panics(t, func() {
		FromVector([]float32{1, 2, 3})(raw)
	})
}

func TestUniformStaysInRange(t *testing.T) {
	raw := newTestTensor(t, tensor.Shape{1000})
	Uniform(rand.New(rand.NewSource(1)), -2, 3)(raw)
	for _, v := range raw.AsFloat32() {
		assert.GreaterOrEqual(t, v, float32(-2))
		assert.Less(t, v, float32(3))
	}
}

func TestNormalMoments(t *testing.T) {
	raw := newTestTensor(t, tensor.Shape{10000})
	Normal(rand.New(rand.NewSource(1)), 2, 0.5)(raw)

	var sum, sumSq float64
	for _, v := range raw.AsFloat32() {
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}
	n := float64(raw.NumElements())
	mean := sum / n
	std := math.Sqrt(sumSq/n - mean*mean)
	assert.InDelta(t, 2.0, mean, 0.05)
	assert.InDelta(t, 0.5, std, 0.05)
}

func TestGlorotUniformBound(t *testing.T) {
	raw := newTestTensor(t, tensor.Shape{30, 50})
	GlorotUniform(rand.New(rand.NewSource(1)))(raw)

	limit := float32(math.Sqrt(6.0 / 80.0))
	for _, v := range raw.AsFloat32() {
		assert.LessOrEqual(t, v, limit)
		assert.GreaterOrEqual(t, v, -limit)
	}
}

func TestBernoulliScalesKeptElements(t *testing.T) {
	raw := newTestTensor(t, tensor.Shape{5000})
	Bernoulli(rand.New(rand.NewSource(1)), 0.25)(raw)

	kept := 0
	scale := float32(1) / 0.75
	for _, v := range raw.AsFloat32() {
		switch v {
		case 0:
		case scale:
			kept++
		default:
			t.Fatalf("unexpected value %v", v)
		}
	}
	assert.InDelta(t, 0.75, float64(kept)/5000, 0.03)
}

func TestFromIndices(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{3}, tensor.Uint32, tensor.CPU)
	require.NoError(t, err)
	FromIndices([]uint32{5, 0, 9})(raw)
	assert.Equal(t, []uint32{5, 0, 9}, raw.AsUint32())
}

func TestFromItemConvertsDType(t *testing.T) {
	// A float64 checkpoint item loads into a float32 tensor.
	src := newTestTensor(t, tensor.Shape{2})
	copy(src.AsFloat32(), []float32{1.5, -2.5})
	item, err := (&serialization.Item{
		Name:  "w",
		Shape: tensor.Shape{2},
		DType: tensor.Float32,
		Data:  append([]byte(nil), src.Data()...),
	}).Convert(tensor.Float64)
	require.NoError(t, err)

	dst := newTestTensor(t, tensor.Shape{2})
	FromItem(item)(dst)
	assert.Equal(t, []float32{1.5, -2.5}, dst.AsFloat32())
}
