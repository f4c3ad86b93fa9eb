// Package optim implements gradient-descent optimizers stepping a graph's
// parameter registry in place.
package optim

import (
	"fmt"
	"math"

	"github.com/gradix-ml/gradix/internal/graph"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies one update. Parameters without a gradient are skipped.
	Step() error
	// ZeroGrad clears accumulated gradients in place.
	ZeroGrad()
}

// SGDConfig configures stochastic gradient descent.
type SGDConfig struct {
	LR       float32
	Momentum float32 // 0 disables the velocity buffer
}

// SGD is plain stochastic gradient descent with optional momentum.
type SGD struct {
	params   *graph.Parameters
	config   SGDConfig
	velocity map[string][]float32
}

// NewSGD creates an SGD optimizer over a parameter registry.
func NewSGD(params *graph.Parameters, config SGDConfig) *SGD {
	return &SGD{
		params:   params,
		config:   config,
		velocity: make(map[string][]float32),
	}
}

// Step applies val -= lr * grad, routing through a velocity buffer when
// momentum is enabled.
func (s *SGD) Step() error {
	var err error
	s.params.Walk(func(p graph.Expr) {
		if err != nil || p.Grad() == nil || !p.Trainable() {
			return
		}
		val := p.Val().AsFloat32()
		grad := p.Grad().AsFloat32()
		if len(val) != len(grad) {
			err = fmt.Errorf("optim: parameter %q value and gradient sizes differ", p.Name())
			return
		}

		if s.config.Momentum == 0 {
			for i := range val {
				val[i] -= s.config.LR * grad[i]
			}
			return
		}

		v := s.velocity[p.Name()]
		if v == nil {
			v = make([]float32, len(val))
			s.velocity[p.Name()] = v
		}
		for i := range val {
			v[i] = s.config.Momentum*v[i] + grad[i]
			val[i] -= s.config.LR * v[i]
		}
	})
	return err
}

// ZeroGrad clears all parameter gradients.
func (s *SGD) ZeroGrad() { s.params.ZeroGrads() }

// AdamConfig configures the Adam optimizer.
type AdamConfig struct {
	LR      float32
	Betas   [2]float32
	Epsilon float32
}

// DefaultAdamConfig returns the usual Adam settings.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{LR: 0.001, Betas: [2]float32{0.9, 0.999}, Epsilon: 1e-8}
}

type adamState struct {
	m, v []float32
}

// Adam is adaptive moment estimation with bias correction.
type Adam struct {
	params *graph.Parameters
	config AdamConfig
	state  map[string]*adamState
	step   int
}

// NewAdam creates an Adam optimizer over a parameter registry.
func NewAdam(params *graph.Parameters, config AdamConfig) *Adam {
	if config.Betas == [2]float32{} {
		config.Betas = [2]float32{0.9, 0.999}
	}
	if config.Epsilon == 0 {
		config.Epsilon = 1e-8
	}
	return &Adam{
		params: params,
		config: config,
		state:  make(map[string]*adamState),
	}
}

// Step applies one bias-corrected Adam update.
func (a *Adam) Step() error {
	a.step++
	beta1 := float64(a.config.Betas[0])
	beta2 := float64(a.config.Betas[1])
	corr1 := float32(1 - math.Pow(beta1, float64(a.step)))
	corr2 := float32(1 - math.Pow(beta2, float64(a.step)))

	var err error
	a.params.Walk(func(p graph.Expr) {
		if err != nil || p.Grad() == nil || !p.Trainable() {
			return
		}
		val := p.Val().AsFloat32()
		grad := p.Grad().AsFloat32()
		if len(val) != len(grad) {
			err = fmt.Errorf("optim: parameter %q value and gradient sizes differ", p.Name())
			return
		}

		st := a.state[p.Name()]
		if st == nil {
			st = &adamState{m: make([]float32, len(val)), v: make([]float32, len(val))}
			a.state[p.Name()] = st
		}

		b1 := a.config.Betas[0]
		b2 := a.config.Betas[1]
		for i := range val {
			g := grad[i]
			st.m[i] = b1*st.m[i] + (1-b1)*g
			st.v[i] = b2*st.v[i] + (1-b2)*g*g
			mHat := st.m[i] / corr1
			vHat := st.v[i] / corr2
			val[i] -= a.config.LR * mHat / (float32(math.Sqrt(float64(vHat))) + a.config.Epsilon)
		}
	})
	return err
}

// ZeroGrad clears all parameter gradients.
func (a *Adam) ZeroGrad() { a.params.ZeroGrads() }
