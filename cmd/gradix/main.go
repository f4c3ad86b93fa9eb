// Package main provides the gradix CLI.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/pkoukk/tiktoken-go"

	"github.com/gradix-ml/gradix/beam"
	"github.com/gradix-ml/gradix/graph"
	"github.com/gradix-ml/gradix/tensor"
)

const version = "v0.3.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("gradix %s\n", version)
			return
		case "decode":
			if err := runDecode(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "decode: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	fmt.Println("gradix - computation graphs with reverse-mode autodiff")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version    Show version")
	fmt.Println("  decode     Beam-search decoding demo over a toy bigram model")
}

// runDecode builds a random bigram model over the prompt's token
// vocabulary and beam-decodes a continuation from it. The point is to
// exercise the full decode path end to end, not to produce sensible text.
func runDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	prompt := fs.String("prompt", "the quick brown fox jumps over the lazy dog", "prompt text")
	beamSize := fs.Int("beam", 3, "beam size")
	seed := fs.Int64("seed", 42, "model seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	promptTokens := enc.Encode(*prompt, nil, nil)
	if len(promptTokens) == 0 {
		return fmt.Errorf("empty prompt")
	}

	// Model vocabulary: EOS, UNK, then the prompt's distinct tokens.
	vocab := []int{-1, -1}
	seen := make(map[int]int)
	for _, tok := range promptTokens {
		if _, ok := seen[tok]; !ok {
			seen[tok] = len(vocab)
			vocab = append(vocab, tok)
		}
	}

	g := graph.NewInference()
	rng := rand.New(rand.NewSource(*seed))
	scorer := newBigramScorer(len(vocab), uint32(seen[promptTokens[0]]), rng)

	cfg := beam.DefaultConfig()
	cfg.BeamSize = *beamSize
	cfg.MaxLengthFactor = 2

	search := beam.NewSearch(cfg, scorer)
	histories, err := search.Run(g, &beam.Batch{
		SentenceIDs: []uint64{0},
		Width:       len(promptTokens),
	})
	if err != nil {
		return err
	}

	best := histories[0].Top()
	var out []int
	for _, w := range best.Words {
		if int(w) < len(vocab) && vocab[w] >= 0 {
			out = append(out, vocab[w])
		}
	}
	fmt.Printf("prompt: %s\n", *prompt)
	fmt.Printf("score:  %.4f\n", best.Score)
	fmt.Printf("output: %s\n", enc.Decode(out))
	return nil
}

// bigramScorer scores expansions with a fixed random transition matrix:
// logP(w|prev) = logsoftmax(T[prev]).
type bigramScorer struct {
	vocabSize  int
	startWord  uint32
	rng        *rand.Rand
	transition graph.Expr
}

type bigramState struct {
	probs graph.Expr
}

func (s *bigramState) Probs() graph.Expr { return s.probs }

func newBigramScorer(vocabSize int, startWord uint32, rng *rand.Rand) *bigramScorer {
	return &bigramScorer{vocabSize: vocabSize, startWord: startWord, rng: rng}
}

func (s *bigramScorer) Clear(g *graph.Graph) {
	s.transition = nil
}

func (s *bigramScorer) Weight() float32 { return 1 }

func (s *bigramScorer) StartState(g *graph.Graph, batch *beam.Batch) beam.State {
	s.transition = g.Param("bigram.transition",
		tensor.Shape{s.vocabSize, s.vocabSize},
		graph.Normal(s.rng, 0, 1))

	starts := make([]uint32, batch.Size())
	for i := range starts {
		starts[i] = s.startWord
	}
	return s.expand(g, starts, batch.Size(), 1)
}

func (s *bigramScorer) Step(g *graph.Graph, state beam.State, hypIndices, embIndices []uint32, dimBatch, beamSize int) beam.State {
	return s.expand(g, embIndices, dimBatch, beamSize)
}

func (s *bigramScorer) expand(g *graph.Graph, words []uint32, dimBatch, beamSize int) *bigramState {
	logits := graph.Rows(s.transition, g.Indices(words))
	probs := graph.Reshape(graph.LogSoftmax(logits),
		tensor.Shape{beamSize, 1, dimBatch, s.vocabSize})
	return &bigramState{probs: probs}
}
