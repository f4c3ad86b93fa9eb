// Package optim exposes the public optimizer API.
package optim

import (
	"github.com/gradix-ml/gradix/internal/graph"
	"github.com/gradix-ml/gradix/internal/optim"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer = optim.Optimizer

// SGD is stochastic gradient descent with optional momentum.
type SGD = optim.SGD

// SGDConfig configures SGD.
type SGDConfig = optim.SGDConfig

// NewSGD creates an SGD optimizer over a graph's parameters.
func NewSGD(params *graph.Parameters, config SGDConfig) *SGD {
	return optim.NewSGD(params, config)
}

// Adam is adaptive moment estimation with bias correction.
type Adam = optim.Adam

// AdamConfig configures Adam.
type AdamConfig = optim.AdamConfig

// DefaultAdamConfig returns the usual Adam settings.
func DefaultAdamConfig() AdamConfig { return optim.DefaultAdamConfig() }

// NewAdam creates an Adam optimizer over a graph's parameters.
func NewAdam(params *graph.Parameters, config AdamConfig) *Adam {
	return optim.NewAdam(params, config)
}
