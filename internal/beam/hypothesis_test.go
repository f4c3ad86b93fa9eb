package beam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(words ...uint32) *Hypothesis {
	hyp := NewHypothesis()
	for i, w := range words {
		hyp = hyp.Extend(w, 0, -float32(i+1))
	}
	return hyp
}

func TestHypothesisTraceback(t *testing.T) {
	hyp := chain(4, 7, 0)
	assert.Equal(t, []uint32{4, 7, 0}, hyp.Traceback())
	assert.Equal(t, uint32(0), hyp.Word())
	assert.Equal(t, uint32(7), hyp.Prev().Word())
	assert.Equal(t, float32(-3), hyp.Cost())
}

func TestHypothesisTracebackEmpty(t *testing.T) {
	assert.Empty(t, NewHypothesis().Traceback())
}

func TestHistoryCollectsEOSHypotheses(t *testing.T) {
	h := NewHistory(42, 0, 0)
	assert.Equal(t, uint64(42), h.SentenceID())

	h.Add(Beam{chain(4, 7)}, false)
	assert.Empty(t, h.NBest(10))

	h.Add(Beam{chain(4, 7, WordEOS)}, false)
	results := h.NBest(10)
	require.Len(t, results, 1)
	assert.Equal(t, []uint32{4, 7, 0}, results[0].Words)
	assert.Equal(t, 2, h.Size())
}

func TestHistoryLastCollectsEverything(t *testing.T) {
	h := NewHistory(0, 0, 0)
	h.Add(Beam{chain(4), chain(5)}, true)
	assert.Len(t, h.NBest(10), 2)
}

func TestHistoryLengthNormalization(t *testing.T) {
	normalize := float32(0.6)
	penalty := float32(0.1)
	h := NewHistory(0, normalize, penalty)

	hyp := chain(4, 7, WordEOS) // cost -3, length 3
	h.Add(Beam{hyp}, false)

	want := (-3 - 0.1*3) / float32(math.Pow(3, 0.6))
	top := h.Top()
	assert.InDelta(t, float64(want), float64(top.Score), 1e-6)
}

func TestHistoryNBestOrdersByScore(t *testing.T) {
	h := NewHistory(0, 0, 0)
	good := NewHypothesis().Extend(3, 0, -1).Extend(WordEOS, 0, -1.5)
	bad := NewHypothesis().Extend(4, 0, -2).Extend(WordEOS, 0, -6)
	h.Add(Beam{bad, good}, false)

	results := h.NBest(2)
	require.Len(t, results, 2)
	assert.Equal(t, []uint32{3, 0}, results[0].Words)
	assert.Equal(t, []uint32{4, 0}, results[1].Words)

	assert.Len(t, h.NBest(1), 1)
}

func TestHistoryTopEmpty(t *testing.T) {
	h := NewHistory(0, 0, 0)
	top := h.Top()
	assert.Empty(t, top.Words)
	assert.Nil(t, top.Hypothesis)
}
