// Package graph exposes the public computation graph API: building
// expressions, running forward and backward passes, gradient checkpointing
// and parameter persistence.
package graph

import (
	"github.com/gradix-ml/gradix/internal/graph"
)

// Graph is a dynamic computation graph with reverse-mode differentiation.
type Graph = graph.Graph

// Expr is one node of a computation graph.
type Expr = graph.Expr

// Parameters is the ordered registry of named trainable parameters.
type Parameters = graph.Parameters

// Initializer fills a freshly allocated tensor with its starting contents.
type Initializer = graph.Initializer

// New creates an empty training graph.
func New() *Graph { return graph.New() }

// NewInference creates a graph without backward bookkeeping.
func NewInference() *Graph { return graph.NewInference() }

// Initializers.
var (
	Zeros       = graph.Zeros
	Ones        = graph.Ones
	FromValue   = graph.FromValue
	FromVector  = graph.FromVector
	FromIndices = graph.FromIndices
	Uniform     = graph.Uniform
	Normal      = graph.Normal
	Glorot      = graph.GlorotUniform
)

// Operators.
var (
	Add           = graph.Add
	Sub           = graph.Sub
	Mul           = graph.Mul
	Div           = graph.Div
	Neg           = graph.Neg
	Exp           = graph.Exp
	Log           = graph.Log
	Sqrt          = graph.Sqrt
	Sqr           = graph.Sqr
	Sigmoid       = graph.Sigmoid
	Tanh          = graph.Tanh
	ReLU          = graph.ReLU
	AddScalar     = graph.AddScalar
	MulScalar     = graph.MulScalar
	Sum           = graph.Sum
	Mean          = graph.Mean
	Softmax       = graph.Softmax
	LogSoftmax    = graph.LogSoftmax
	Dot           = graph.Dot
	Affine        = graph.Affine
	Rows          = graph.Rows
	Transpose     = graph.Transpose
	TransposeAxes = graph.TransposeAxes
	Reshape       = graph.Reshape
)
