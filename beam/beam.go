// Package beam exposes the public beam-search decoding API.
package beam

import (
	"github.com/gradix-ml/gradix/internal/beam"
)

// Config controls a beam search.
type Config = beam.Config

// Search runs beam-search decoding with a set of scorers.
type Search = beam.Search

// Scorer scores hypothesis expansions.
type Scorer = beam.Scorer

// State is a scorer's decoder state after a step.
type State = beam.State

// Batch is the batched source input of one search.
type Batch = beam.Batch

// Hypothesis is one partial output sequence.
type Hypothesis = beam.Hypothesis

// Beam is the set of live hypotheses of one sentence.
type Beam = beam.Beam

// History records the search of one sentence and ranks finished candidates.
type History = beam.History

// Histories groups one history per batched sentence.
type Histories = beam.Histories

// Result is one finished candidate.
type Result = beam.Result

// Word ids with fixed meaning in the target vocabulary.
const (
	WordEOS = beam.WordEOS
	WordUnk = beam.WordUnk
)

// DefaultConfig mirrors the usual decoding settings.
func DefaultConfig() Config { return beam.DefaultConfig() }

// NewSearch creates a search from a config and one or more scorers.
func NewSearch(config Config, scorers ...Scorer) *Search {
	return beam.NewSearch(config, scorers...)
}
