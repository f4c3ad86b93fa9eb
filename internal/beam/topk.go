package beam

import (
	"container/heap"
	"sort"
)

// fillerCost marks padded beam slots. Expansions inheriting it score far
// below any real hypothesis and are dropped when beams are rebuilt.
const fillerCost = float32(-9999)

type candidate struct {
	key  uint32
	cost float32
}

// candidateHeap is a min-heap on cost, so the worst of the current best n
// sits on top and is evicted first.
type candidateHeap []candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)         { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopK selects the best expansions per batch entry from a flattened cost
// tensor laid out as [batch][row][vocab], where a row is one live
// hypothesis slot.
type TopK struct {
	dimBatch int
	mask     []bool // per (batch, row); nil means all rows live
}

// NewTopK creates a selector for the given batch size.
func NewTopK(dimBatch int) *TopK {
	return &TopK{dimBatch: dimBatch}
}

// SetHypMask restricts selection to the rows marked true. The mask is
// consumed by the next NBest call and indexed as batch*rows+row.
func (t *TopK) SetHypMask(mask []bool) {
	t.mask = mask
}

// NBest returns, for each batch entry j, the beamSizes[j] best expansions.
// Keys address the flattened cost tensor: key/vocab is the global row and
// key%vocab the word. Equal costs resolve to the earlier key.
func (t *TopK) NBest(beamSizes []int, costs []float32, vocab int) (keys []uint32, outCosts []float32) {
	rows := len(costs) / (t.dimBatch * vocab)
	mask := t.mask
	t.mask = nil

	for j := 0; j < t.dimBatch; j++ {
		n := beamSizes[j]
		h := make(candidateHeap, 0, n+1)
		heap.Init(&h)

		for r := 0; r < rows; r++ {
			if mask != nil && !mask[j*rows+r] {
				continue
			}
			row := (j*rows + r) * vocab
			for w := 0; w < vocab; w++ {
				c := costs[row+w]
				if len(h) < n {
					heap.Push(&h, candidate{key: uint32(row + w), cost: c})
				} else if c > h[0].cost {
					h[0] = candidate{key: uint32(row + w), cost: c}
					heap.Fix(&h, 0)
				}
			}
		}

		selected := make([]candidate, len(h))
		copy(selected, h)
		sort.Slice(selected, func(a, b int) bool {
			if selected[a].cost != selected[b].cost {
				return selected[a].cost > selected[b].cost
			}
			return selected[a].key < selected[b].key
		})
		for _, c := range selected {
			keys = append(keys, c.key)
			outCosts = append(outCosts, c.cost)
		}
		for i := len(selected); i < n; i++ {
			keys = append(keys, 0)
			outCosts = append(outCosts, fillerCost)
		}
	}
	return keys, outCosts
}
