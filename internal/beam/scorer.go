package beam

import (
	"github.com/gradix-ml/gradix/internal/graph"
)

// Batch is the batched source input of one search: sentence ids plus the
// padded source width and mask used for alignment extraction.
type Batch struct {
	SentenceIDs []uint64
	Width       int       // padded source length
	Mask        []float32 // width*size entries, word-major; nil when unused
}

// Size returns the number of sentences in the batch.
func (b *Batch) Size() int { return len(b.SentenceIDs) }

// State is a scorer's decoder state after a step. Probs returns the
// expansion scores of the step as a graph expression of shape
// {beam, 1, batch, vocab} (log domain).
type State interface {
	Probs() graph.Expr
}

// Scorer scores hypothesis expansions. One search can combine several
// scorers; their Probs are weighted and summed.
type Scorer interface {
	// Clear resets any per-search state before a new search begins.
	Clear(g *graph.Graph)
	// StartState builds the initial decoder state for a batch.
	StartState(g *graph.Graph, batch *Batch) State
	// Step advances the state: hypIndices selects the surviving state rows,
	// embIndices the words fed back in.
	Step(g *graph.Graph, state State, hypIndices, embIndices []uint32, dimBatch, beamSize int) State
	// Weight scales this scorer's contribution to the combined costs.
	Weight() float32
}

// BreakDowner is implemented by states that can report their own
// contribution to a combined cost, for n-best breakdowns. The key addresses
// the flattened (state row, word) expansion.
type BreakDowner interface {
	BreakDown(key int) float32
}

// Shortlisted is implemented by scorers that score over a sub-selected
// vocabulary; ReverseMap translates a shortlist column back to the original
// word id.
type Shortlisted interface {
	ReverseMap(idx int) int
}

// Aligner is implemented by scorers that expose soft source alignments for
// the most recent step.
type Aligner interface {
	Alignment() []float32
}

// Blacklister is implemented by states that suppress words depending on the
// batch, by overwriting entries of the combined cost tensor after the
// forward pass.
type Blacklister interface {
	Blacklist(totalCosts graph.Expr, batch *Batch)
}
