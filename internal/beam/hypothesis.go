// Package beam implements batched beam-search decoding over a computation
// graph. A search step scores every expansion of every live hypothesis,
// keeps the best per sentence, and feeds the surviving hypotheses' state
// indices and words back into the scorers for the next step.
package beam

import (
	"math"
	"sort"
)

// Word ids with fixed meaning in the target vocabulary.
const (
	WordEOS uint32 = 0
	WordUnk uint32 = 1
)

// Hypothesis is one partial translation: a link to its predecessor, the word
// appended at this step, the flattened index of the decoder state row it
// extends and the accumulated path cost.
type Hypothesis struct {
	prev          *Hypothesis
	word          uint32
	prevStateIdx  int
	cost          float32
	costBreakdown []float32
	alignment     []float32
}

// NewHypothesis creates the start hypothesis of a sentence.
func NewHypothesis() *Hypothesis {
	return &Hypothesis{}
}

// Extend appends a word to a hypothesis.
func (h *Hypothesis) Extend(word uint32, prevStateIdx int, cost float32) *Hypothesis {
	return &Hypothesis{prev: h, word: word, prevStateIdx: prevStateIdx, cost: cost}
}

// Prev returns the predecessor hypothesis, nil at the start.
func (h *Hypothesis) Prev() *Hypothesis { return h.prev }

// Word returns the word appended at this step.
func (h *Hypothesis) Word() uint32 { return h.word }

// PrevStateIndex returns the flattened decoder state row this hypothesis
// extends.
func (h *Hypothesis) PrevStateIndex() int { return h.prevStateIdx }

// Cost returns the accumulated path cost.
func (h *Hypothesis) Cost() float32 { return h.cost }

// CostBreakdown returns the per-scorer cost components, when tracked.
func (h *Hypothesis) CostBreakdown() []float32 { return h.costBreakdown }

// SetCostBreakdown stores per-scorer cost components for n-best output.
func (h *Hypothesis) SetCostBreakdown(b []float32) { h.costBreakdown = b }

// Alignment returns soft source alignments for this step, when tracked.
func (h *Hypothesis) Alignment() []float32 { return h.alignment }

// SetAlignment stores soft source alignments for this step.
func (h *Hypothesis) SetAlignment(a []float32) { h.alignment = a }

// Traceback returns the generated words in output order, excluding the
// start hypothesis.
func (h *Hypothesis) Traceback() []uint32 {
	var rev []uint32
	for hyp := h; hyp.prev != nil; hyp = hyp.prev {
		rev = append(rev, hyp.word)
	}
	words := make([]uint32, len(rev))
	for i, w := range rev {
		words[len(rev)-1-i] = w
	}
	return words
}

// Beam is the set of live hypotheses of one sentence, best first.
type Beam []*Hypothesis

// Beams groups one beam per batched sentence.
type Beams []Beam

// Result is one finished translation candidate.
type Result struct {
	Words      []uint32
	Hypothesis *Hypothesis
	Score      float32 // length-adjusted cost used for ranking
}

// History records the full search of one sentence and collects finished
// hypotheses, ranked by a length-normalized score.
type History struct {
	sentenceID  uint64
	normalize   float32
	wordPenalty float32
	steps       int
	finished    []Result
}

// NewHistory creates a history with the given length-normalization exponent
// and per-word penalty.
func NewHistory(sentenceID uint64, normalize, wordPenalty float32) *History {
	return &History{sentenceID: sentenceID, normalize: normalize, wordPenalty: wordPenalty}
}

// SentenceID returns the id of the sentence this history belongs to.
func (h *History) SentenceID() uint64 { return h.sentenceID }

// Size returns the number of recorded steps.
func (h *History) Size() int { return h.steps }

func (h *History) lengthScore(cost float32, length int) float32 {
	score := cost - h.wordPenalty*float32(length)
	if h.normalize != 0 && length > 0 {
		score /= float32(math.Pow(float64(length), float64(h.normalize)))
	}
	return score
}

// Add records one step of the search. Hypotheses ending in EOS are
// collected as finished; when last is set, every hypothesis is.
func (h *History) Add(beam Beam, last bool) {
	h.steps++
	for _, hyp := range beam {
		if hyp.Word() == WordEOS || last {
			words := hyp.Traceback()
			h.finished = append(h.finished, Result{
				Words:      words,
				Hypothesis: hyp,
				Score:      h.lengthScore(hyp.Cost(), len(words)),
			})
		}
	}
}

// NBest returns up to n finished candidates, best score first.
func (h *History) NBest(n int) []Result {
	sorted := make([]Result, len(h.finished))
	copy(sorted, h.finished)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Top returns the best finished candidate, or a zero Result when the search
// produced none.
func (h *History) Top() Result {
	best := h.NBest(1)
	if len(best) == 0 {
		return Result{}
	}
	return best[0]
}

// Histories groups one history per batched sentence.
type Histories []*History
