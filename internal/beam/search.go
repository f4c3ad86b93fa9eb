package beam

import (
	"k8s.io/klog/v2"

	"github.com/gradix-ml/gradix/internal/graph"
	"github.com/gradix-ml/gradix/internal/tensor"
)

// Config controls a beam search.
type Config struct {
	BeamSize        int     // hypotheses kept per sentence
	Normalize       float32 // length-normalization exponent, 0 disables
	WordPenalty     float32 // per-word cost subtracted before ranking
	MaxLengthFactor float32 // output length bound as a multiple of source width
	AllowUnk        bool    // permit the unknown-word token in output
	NBest           bool    // track per-scorer cost breakdowns
	Alignment       bool    // track soft alignments from the first scorer
}

// DefaultConfig mirrors the usual decoding settings.
func DefaultConfig() Config {
	return Config{
		BeamSize:        3,
		Normalize:       0.6,
		WordPenalty:     0,
		MaxLengthFactor: 3,
	}
}

// Search runs beam-search decoding with a set of scorers over a shared
// graph.
type Search struct {
	config  Config
	scorers []Scorer
}

// NewSearch creates a search from a config and one or more scorers.
func NewSearch(config Config, scorers ...Scorer) *Search {
	if config.BeamSize <= 0 {
		config.BeamSize = 3
	}
	return &Search{config: config, scorers: scorers}
}

// Run decodes the batch and returns one history per sentence.
func (s *Search) Run(g *graph.Graph, batch *Batch) (Histories, error) {
	dimBatch := batch.Size()

	histories := make(Histories, dimBatch)
	for i := 0; i < dimBatch; i++ {
		histories[i] = NewHistory(batch.SentenceIDs[i], s.config.Normalize, s.config.WordPenalty)
	}

	localBeamSize := s.config.BeamSize
	topk := NewTopK(dimBatch)

	beams := make(Beams, dimBatch)
	for i := range beams {
		beams[i] = make(Beam, localBeamSize)
		for j := range beams[i] {
			beams[i][j] = NewHypothesis()
		}
	}

	for i := 0; i < dimBatch; i++ {
		histories[i].Add(beams[i], false)
	}

	for _, scorer := range s.scorers {
		scorer.Clear(g)
	}
	states := make([]State, len(s.scorers))
	for i, scorer := range s.scorers {
		states[i] = scorer.StartState(g, batch)
	}

	first := true
	final := false

	for {
		// Feed back surviving hypotheses: their state rows, their words and
		// their accumulated costs, column-major over (slot, sentence) so the
		// layout matches the scorer's {beam, 1, batch, vocab} output. Dead
		// slots get filler costs that no live expansion can compete with.
		var hypIndices, embIndices []uint32
		var prevCosts graph.Expr

		if first {
			prevCosts = g.Constant(tensor.Shape{1, 1, 1, 1}, graph.FromValue(0))
		} else {
			var beamCosts []float32
			for i := 0; i < localBeamSize; i++ {
				for j := range beams {
					if i < len(beams[j]) {
						hyp := beams[j][i]
						hypIndices = append(hypIndices, uint32(hyp.PrevStateIndex()))
						embIndices = append(embIndices, hyp.Word())
						beamCosts = append(beamCosts, hyp.Cost())
					} else {
						hypIndices = append(hypIndices, 0)
						embIndices = append(embIndices, 0)
						beamCosts = append(beamCosts, fillerCost)
					}
				}
			}
			prevCosts = g.Constant(tensor.Shape{localBeamSize, 1, dimBatch, 1}, graph.FromVector(beamCosts))
		}

		totalCosts := prevCosts
		for i, scorer := range s.scorers {
			states[i] = scorer.Step(g, states[i], hypIndices, embIndices, dimBatch, localBeamSize)
			if w := scorer.Weight(); w != 1 {
				totalCosts = graph.Add(totalCosts, graph.MulScalar(states[i].Probs(), w))
			} else {
				totalCosts = graph.Add(totalCosts, states[i].Probs())
			}
		}

		// Make per-sentence cost blocks contiguous for selection.
		if dimBatch > 1 && localBeamSize > 1 {
			totalCosts = graph.TransposeAxes(totalCosts, 2, 1, 0, 3)
		}

		var err error
		if first {
			err = g.Forward()
		} else {
			err = g.ForwardNext()
		}
		if err != nil {
			return nil, err
		}

		if !s.config.AllowUnk {
			suppressWord(totalCosts, WordUnk)
		}
		for _, state := range states {
			if bl, ok := state.(Blacklister); ok {
				bl.Blacklist(totalCosts, batch)
			}
		}

		vocab := totalCosts.Shape().Dim(-1)
		beamSizes := make([]int, dimBatch)
		for i := range beamSizes {
			beamSizes[i] = localBeamSize
		}
		if !first {
			// Dead slots already carry filler costs; masking their rows
			// takes them out of selection entirely.
			mask := make([]bool, dimBatch*localBeamSize)
			for j := range beams {
				for i := 0; i < localBeamSize; i++ {
					mask[j*localBeamSize+i] = i < len(beams[j])
				}
			}
			topk.SetHypMask(mask)
		}
		keys, costs := topk.NBest(beamSizes, totalCosts.Val().AsFloat32(), vocab)

		beams = s.toHyps(keys, costs, vocab, beams, states, localBeamSize, first, batch)

		prunedBeams := pruneBeam(beams)
		for i := range beams {
			if len(beams[i]) == 0 {
				continue
			}
			final = final || float32(histories[i].Size()) >= s.config.MaxLengthFactor*float32(batch.Width)
			histories[i].Add(beams[i], len(prunedBeams[i]) == 0 || final)
		}
		beams = prunedBeams

		if !first {
			maxBeam := 0
			for _, beam := range beams {
				if len(beam) > maxBeam {
					maxBeam = len(beam)
				}
			}
			localBeamSize = maxBeam
		}
		first = false

		if localBeamSize == 0 || final {
			break
		}
	}

	return histories, nil
}

// toHyps rebuilds the beams from selected expansions. A key addresses the
// flattened cost tensor; its row part carries both the sentence and the
// hypothesis slot, which is translated back to the flattened decoder state
// row the next step gathers from.
func (s *Search) toHyps(keys []uint32, costs []float32, vocab int, beams Beams, states []State, beamSize int, first bool, batch *Batch) Beams {
	newBeams := make(Beams, len(beams))

	var alignments []float32
	if s.config.Alignment && len(s.scorers) > 0 {
		if al, ok := s.scorers[0].(Aligner); ok {
			alignments = al.Alignment()
		}
	}

	for i := range keys {
		embIdx := int(keys[i]) % vocab
		beamIdx := i / beamSize
		cost := costs[i]

		if cost <= fillerCost {
			continue
		}
		if len(s.scorers) > 0 {
			if sl, ok := s.scorers[0].(Shortlisted); ok {
				embIdx = sl.ReverseMap(embIdx)
			}
		}

		beam := beams[beamIdx]
		if len(newBeams[beamIdx]) >= len(beam) {
			continue
		}

		hypIdx := int(keys[i]) / vocab
		hypIdxTrans := (hypIdx / beamSize) + (hypIdx%beamSize)*len(beams)
		if first {
			hypIdxTrans = hypIdx
		}

		beamHypIdx := hypIdx % beamSize
		if beamHypIdx >= len(beam) {
			beamHypIdx = beamHypIdx % len(beam)
		}
		if first {
			beamHypIdx = 0
		}

		hyp := beam[beamHypIdx].Extend(uint32(embIdx), hypIdxTrans, cost)

		if s.config.NBest {
			breakdown := make([]float32, len(states))
			prev := beam[beamHypIdx].CostBreakdown()
			for j, state := range states {
				bd, ok := state.(BreakDowner)
				if !ok {
					continue
				}
				key := embIdx + hypIdxTrans*vocab
				breakdown[j] = bd.BreakDown(key)
				if j < len(prev) {
					breakdown[j] += prev[j]
				}
			}
			hyp.SetCostBreakdown(breakdown)
		}

		if alignments != nil {
			hyp.SetAlignment(hardAlignment(alignments, batch, beamHypIdx, beamIdx))
		}

		newBeams[beamIdx] = append(newBeams[beamIdx], hyp)
	}
	return newBeams
}

// hardAlignment extracts the source alignment column of one hypothesis from
// the scorer's flattened alignment vector, dropping padded source words.
func hardAlignment(alignments []float32, batch *Batch, beamHypIdx, beamIdx int) []float32 {
	batchSize := batch.Size()
	batchWidth := batch.Width * batchSize
	var align []float32

	for w := 0; w < batchWidth/batchSize; w++ {
		a := (batchWidth * beamHypIdx) + beamIdx + batchSize*w
		if a >= len(alignments) {
			klog.Warningf("alignment index %d out of range %d", a, len(alignments))
			break
		}
		m := a % batchWidth
		if batch.Mask == nil || batch.Mask[m] != 0 {
			align = append(align, alignments[a])
		}
	}
	return align
}

// pruneBeam drops hypotheses that generated EOS.
func pruneBeam(beams Beams) Beams {
	newBeams := make(Beams, 0, len(beams))
	for _, beam := range beams {
		var newBeam Beam
		for _, hyp := range beam {
			if hyp.Word() > 0 {
				newBeam = append(newBeam, hyp)
			}
		}
		newBeams = append(newBeams, newBeam)
	}
	return newBeams
}

// suppressWord overwrites one vocabulary column of the evaluated cost
// tensor so selection can never pick it.
func suppressWord(totalCosts graph.Expr, word uint32) {
	data := totalCosts.Val().AsFloat32()
	vocab := totalCosts.Shape().Dim(-1)
	for row := 0; row < len(data)/vocab; row++ {
		data[row*vocab+int(word)] = fillerCost
	}
}
