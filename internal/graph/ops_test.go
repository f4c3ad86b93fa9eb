package graph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradix-ml/gradix/internal/tensor"
)

func TestUnaryGradients(t *testing.T) {
	tests := []struct {
		name     string
		op       func(Expr) Expr
		input    []float32
		wantGrad []float32
	}{
		{"neg", Neg, []float32{3, -2}, []float32{-1, -1}},
		{"exp", Exp, []float32{0, 1}, []float32{1, float32(math.E)}},
		{"log", Log, []float32{1, 2}, []float32{1, 0.5}},
		{"sqrt", Sqrt, []float32{4, 9}, []float32{0.25, 1.0 / 6}},
		{"sqr", Sqr, []float32{3, -2}, []float32{6, -4}},
		{"sigmoid", Sigmoid, []float32{0, 0}, []float32{0.25, 0.25}},
		{"tanh", Tanh, []float32{0, 0}, []float32{1, 1}},
		{"relu", ReLU, []float32{-1, 2}, []float32{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			p := g.Param("p", tensor.Shape{1, len(tt.input)}, FromVector(tt.input))
			_ = tt.op(p)

			require.NoError(t, g.Backprop())
			assertFloats(t, tt.wantGrad, p.Grad().AsFloat32(), 1e-5)
		})
	}
}

func TestBinaryForward(t *testing.T) {
	g := New()
	a := g.Constant(tensor.Shape{1, 4}, FromVector([]float32{8, 6, 4, 2}))
	b := g.Constant(tensor.Shape{1, 4}, FromVector([]float32{2, 2, 2, 2}))

	sub := Sub(a, b)
	mul := Mul(a, b)
	div := Div(a, b)
	require.NoError(t, g.Forward())

	assertFloats(t, []float32{6, 4, 2, 0}, sub.Val().AsFloat32(), 0)
	assertFloats(t, []float32{16, 12, 8, 4}, mul.Val().AsFloat32(), 0)
	assertFloats(t, []float32{4, 3, 2, 1}, div.Val().AsFloat32(), 0)
}

func TestDivGradients(t *testing.T) {
	g := New()
	a := g.Param("a", tensor.Shape{1, 2}, FromVector([]float32{6, 8}))
	b := g.Param("b", tensor.Shape{1, 2}, FromVector([]float32{2, 4}))
	_ = Div(a, b)

	require.NoError(t, g.Backprop())
	// d(a/b)/da = 1/b, d(a/b)/db = -a/b².
	assertFloats(t, []float32{0.5, 0.25}, a.Grad().AsFloat32(), 1e-5)
	assertFloats(t, []float32{-1.5, -0.5}, b.Grad().AsFloat32(), 1e-5)
}

// TestBroadcastGradientFoldsBack checks that a broadcast operand receives the
// sum of the expanded gradient over the replayed axis.
func TestBroadcastGradientFoldsBack(t *testing.T) {
	g := New()
	p := g.Param("p", tensor.Shape{1, 3}, FromVector([]float32{1, 2, 3}))
	c := g.Constant(tensor.Shape{2, 3}, FromVector([]float32{1, 1, 1, 1, 1, 1}))
	y := Add(p, c)

	require.NoError(t, g.Backprop())
	assert.Equal(t, tensor.Shape{2, 3}, y.Shape())
	assertFloats(t, []float32{2, 2, 2}, p.Grad().AsFloat32(), 1e-6)
}

func TestScalarOps(t *testing.T) {
	g := New()
	p := g.Param("p", tensor.Shape{1, 2}, FromVector([]float32{1, 2}))
	y := AddScalar(MulScalar(p, 3), 10)

	require.NoError(t, g.Backprop())
	assertFloats(t, []float32{13, 16}, y.Val().AsFloat32(), 0)
	assertFloats(t, []float32{3, 3}, p.Grad().AsFloat32(), 1e-6)
}

func TestDotForwardAndGradients(t *testing.T) {
	g := New()
	a := g.Param("a", tensor.Shape{2, 3}, FromVector([]float32{1, 2, 3, 4, 5, 6}))
	b := g.Param("b", tensor.Shape{3, 2}, FromVector([]float32{7, 8, 9, 10, 11, 12}))
	y := Dot(a, b)

	require.NoError(t, g.Backprop())
	assertFloats(t, []float32{58, 64, 139, 154}, y.Val().AsFloat32(), 1e-4)

	// With dL/dy = ones: dL/da = ones·bᵀ, dL/db = aᵀ·ones.
	assertFloats(t, []float32{15, 19, 23, 15, 19, 23}, a.Grad().AsFloat32(), 1e-4)
	assertFloats(t, []float32{5, 5, 7, 7, 9, 9}, b.Grad().AsFloat32(), 1e-4)
}

func TestDotRejectsHigherRank(t *testing.T) {
	g := New()
	a := g.Constant(tensor.Shape{2, 2, 2}, Zeros())
	b := g.Constant(tensor.Shape{2, 2}, Zeros())
	assert.Panics(t, func() { Dot(a, b) })
}

func TestAffine(t *testing.T) {
	g := New()
	x := g.Constant(tensor.Shape{2, 2}, FromVector([]float32{1, 2, 3, 4}))
	w := g.Param("w", tensor.Shape{2, 2}, FromVector([]float32{1, 0, 0, 1}))
	b := g.Param("b", tensor.Shape{1, 2}, FromVector([]float32{10, 20}))
	y := Affine(x, w, b)

	require.NoError(t, g.Backprop())
	assertFloats(t, []float32{11, 22, 13, 24}, y.Val().AsFloat32(), 1e-5)
	// Bias broadcasts over rows, so its gradient is the per-column sum.
	assertFloats(t, []float32{2, 2}, b.Grad().AsFloat32(), 1e-5)
}

func TestRowsGatherAndScatter(t *testing.T) {
	g := New()
	table := g.Param("table", tensor.Shape{4, 2}, FromVector([]float32{1, 2, 3, 4, 5, 6, 7, 8}))
	y := Rows(table, g.Indices([]uint32{2, 0, 2}))

	require.NoError(t, g.Backprop())
	assert.Equal(t, tensor.Shape{3, 2}, y.Shape())
	assertFloats(t, []float32{5, 6, 1, 2, 5, 6}, y.Val().AsFloat32(), 0)

	// Row 2 was gathered twice and accumulates both contributions.
	assertFloats(t, []float32{1, 1, 0, 0, 2, 2, 0, 0}, table.Grad().AsFloat32(), 1e-6)
}

func TestTransposeForwardAndGradient(t *testing.T) {
	g := New()
	p := g.Param("p", tensor.Shape{2, 3}, FromVector([]float32{1, 2, 3, 4, 5, 6}))
	y := Transpose(p)

	require.NoError(t, g.Backprop())
	assert.Equal(t, tensor.Shape{1, 1, 3, 2}, y.Shape())
	assertFloats(t, []float32{1, 4, 2, 5, 3, 6}, y.Val().AsFloat32(), 0)
	assertFloats(t, []float32{1, 1, 1, 1, 1, 1}, p.Grad().AsFloat32(), 1e-6)
}

func TestTransposeAxesBatchSwap(t *testing.T) {
	g := New()
	// {2, 1, 3, 1} -> {3, 1, 2, 1}: swap the outermost and third axes.
	c := g.Constant(tensor.Shape{2, 1, 3, 1}, FromVector([]float32{1, 2, 3, 4, 5, 6}))
	y := TransposeAxes(c, 2, 1, 0, 3)

	require.NoError(t, g.Forward())
	assert.Equal(t, tensor.Shape{3, 1, 2, 1}, y.Shape())
	assertFloats(t, []float32{1, 4, 2, 5, 3, 6}, y.Val().AsFloat32(), 0)
}

func TestReshape(t *testing.T) {
	g := New()
	p := g.Param("p", tensor.Shape{2, 3}, FromVector([]float32{1, 2, 3, 4, 5, 6}))
	y := Reshape(p, tensor.Shape{3, 2})

	require.NoError(t, g.Backprop())
	assert.Equal(t, tensor.Shape{3, 2}, y.Shape())
	assertFloats(t, []float32{1, 2, 3, 4, 5, 6}, y.Val().AsFloat32(), 0)
	assertFloats(t, []float32{1, 1, 1, 1, 1, 1}, p.Grad().AsFloat32(), 1e-6)

	assert.Panics(t, func() { Reshape(p, tensor.Shape{4, 2}) })
}

func TestSumAndMean(t *testing.T) {
	g := New()
	p := g.Param("p", tensor.Shape{2, 3}, FromVector([]float32{1, 2, 3, 4, 5, 6}))
	s := Sum(p, 0)

	require.NoError(t, g.Backprop())
	assert.Equal(t, tensor.Shape{1, 3}, s.Shape())
	assertFloats(t, []float32{5, 7, 9}, s.Val().AsFloat32(), 1e-5)
	assertFloats(t, []float32{1, 1, 1, 1, 1, 1}, p.Grad().AsFloat32(), 1e-6)

	g2 := New()
	q := g2.Param("q", tensor.Shape{2, 3}, FromVector([]float32{1, 2, 3, 4, 5, 6}))
	m := Mean(q, 0)
	require.NoError(t, g2.Backprop())
	assertFloats(t, []float32{2.5, 3.5, 4.5}, m.Val().AsFloat32(), 1e-5)
	assertFloats(t, []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, q.Grad().AsFloat32(), 1e-6)
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	g := New()
	c := g.Constant(tensor.Shape{2, 4}, FromVector([]float32{1, 2, 3, 4, -1, 0, 1, 100}))
	y := Softmax(c)

	require.NoError(t, g.Forward())
	out := y.Val().AsFloat32()
	for r := 0; r < 2; r++ {
		var sum float32
		for i := 0; i < 4; i++ {
			sum += out[r*4+i]
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "row %d", r)
	}
	// The shifted computation survives large logits.
	assert.InDelta(t, 1.0, out[7], 1e-5)
}

// TestLogSoftmaxPickGradient checks the classic result that the gradient of
// picking one log-probability is softmax(x) minus the one-hot pick.
func TestLogSoftmaxPickGradient(t *testing.T) {
	g := New()
	p := g.Param("p", tensor.Shape{1, 3}, FromVector([]float32{1, 2, 3}))
	oneHot := g.Constant(tensor.Shape{1, 3}, FromVector([]float32{0, 1, 0}))
	_ = Sum(Mul(LogSoftmax(p), oneHot), -1)

	require.NoError(t, g.Backprop())

	var softmax [3]float32
	var z float64
	for _, v := range []float32{1, 2, 3} {
		z += math.Exp(float64(v))
	}
	for i, v := range []float32{1, 2, 3} {
		softmax[i] = float32(math.Exp(float64(v)) / z)
	}

	want := []float32{0 - softmax[0], 1 - softmax[1], 0 - softmax[2]}
	assertFloats(t, want, p.Grad().AsFloat32(), 1e-5)
}

func TestBinaryShapeMismatchPanics(t *testing.T) {
	g := New()
	a := g.Constant(tensor.Shape{2, 3}, Zeros())
	b := g.Constant(tensor.Shape{2, 4}, Zeros())
	assert.Panics(t, func() { Add(a, b) })
}
