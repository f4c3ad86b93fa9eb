package optim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradix-ml/gradix/internal/graph"
	"github.com/gradix-ml/gradix/internal/tensor"
)

// squaredLoss builds y = p² so that dL/dp = 2p under a ones seed.
func squaredLoss(t *testing.T, g *graph.Graph, values []float32) graph.Expr {
	t.Helper()
	p := g.Param("p", tensor.Shape{1, len(values)}, graph.FromVector(values))
	_ = graph.Sqr(p)
	return p
}

func TestSGDStep(t *testing.T) {
	g := graph.New()
	p := squaredLoss(t, g, []float32{3, -2})
	require.NoError(t, g.Backprop())

	opt := NewSGD(g.Params(), SGDConfig{LR: 0.1})
	require.NoError(t, opt.Step())

	// val -= lr * 2*val
	assert.InDelta(t, 2.4, float64(p.Val().AsFloat32()[0]), 1e-5)
	assert.InDelta(t, -1.6, float64(p.Val().AsFloat32()[1]), 1e-5)
}

func TestSGDMomentumAccumulatesVelocity(t *testing.T) {
	g := graph.New()
	p := squaredLoss(t, g, []float32{1})
	require.NoError(t, g.Backprop())

	opt := NewSGD(g.Params(), SGDConfig{LR: 0.1, Momentum: 0.5})

	// First step: v = 2, val = 1 - 0.1*2 = 0.8.
	require.NoError(t, opt.Step())
	assert.InDelta(t, 0.8, float64(p.Val().AsFloat32()[0]), 1e-5)

	// Second step reuses the stale gradient: v = 0.5*2 + 2 = 3,
	// val = 0.8 - 0.1*3 = 0.5. Plain SGD would land on 0.6.
	require.NoError(t, opt.Step())
	assert.InDelta(t, 0.5, float64(p.Val().AsFloat32()[0]), 1e-5)
}

func TestSGDSkipsFixedParameters(t *testing.T) {
	g := graph.New()
	p := g.FixedParam("frozen", tensor.Shape{1, 1}, graph.FromValue(5))
	q := squaredLoss(t, g, []float32{1})
	require.NoError(t, g.Backprop())

	opt := NewSGD(g.Params(), SGDConfig{LR: 0.1})
	require.NoError(t, opt.Step())

	assert.Equal(t, float32(5), p.Val().AsFloat32()[0])
	assert.NotEqual(t, float32(1), q.Val().AsFloat32()[0])
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	g := graph.New()
	p := squaredLoss(t, g, []float32{3, -2})
	require.NoError(t, g.Backprop())

	opt := NewAdam(g.Params(), DefaultAdamConfig())
	require.NoError(t, opt.Step())

	// After bias correction the first update is lr * g/|g| up to epsilon,
	// regardless of the gradient magnitude.
	assert.InDelta(t, 3-0.001, float64(p.Val().AsFloat32()[0]), 1e-5)
	assert.InDelta(t, -2+0.001, float64(p.Val().AsFloat32()[1]), 1e-5)
}

func TestAdamDefaultsFilledIn(t *testing.T) {
	opt := NewAdam(graph.New().Params(), AdamConfig{LR: 0.01})
	assert.Equal(t, [2]float32{0.9, 0.999}, opt.config.Betas)
	assert.Equal(t, float32(1e-8), opt.config.Epsilon)
}

func TestZeroGrad(t *testing.T) {
	g := graph.New()
	p := squaredLoss(t, g, []float32{3})
	require.NoError(t, g.Backprop())
	require.NotZero(t, p.Grad().AsFloat32()[0])

	NewSGD(g.Params(), SGDConfig{LR: 0.1}).ZeroGrad()
	assert.Zero(t, p.Grad().AsFloat32()[0])
}

// TestSGDConvergesOnQuadratic runs full training iterations against y = p²
// and expects the parameter to approach the minimum at zero.
func TestSGDConvergesOnQuadratic(t *testing.T) {
	g := graph.New()
	opt := NewSGD(g.Params(), SGDConfig{LR: 0.1})

	var p graph.Expr
	for i := 0; i < 50; i++ {
		g.Clear()
		p = g.Param("p", tensor.Shape{1, 1}, graph.FromValue(4))
		_ = graph.Sqr(p)
		require.NoError(t, g.Backprop())
		require.NoError(t, opt.Step())
	}

	assert.Less(t, math.Abs(float64(p.Val().AsFloat32()[0])), 1e-3)
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	g := graph.New()
	opt := NewAdam(g.Params(), AdamConfig{LR: 0.01})

	var p graph.Expr
	for i := 0; i < 600; i++ {
		g.Clear()
		p = g.Param("p", tensor.Shape{1, 1}, graph.FromValue(4))
		_ = graph.Sqr(p)
		require.NoError(t, g.Backprop())
		require.NoError(t, opt.Step())
	}

	assert.Less(t, math.Abs(float64(p.Val().AsFloat32()[0])), 0.05)
}
