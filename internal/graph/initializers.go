package graph

import (
	"math"
	"math/rand"

	"github.com/gradix-ml/gradix/internal/serialization"
	"github.com/gradix-ml/gradix/internal/tensor"
)

// Initializer fills a freshly allocated tensor with its starting contents.
// Initializers run once per node, on the first forward pass that allocates
// the value.
type Initializer func(t *tensor.RawTensor)

// Zeros fills with zeros. Buffers come out of the pool already cleared, so
// this only exists to make the intent explicit at call sites.
func Zeros() Initializer {
	return FromValue(0)
}

// Ones fills with ones.
func Ones() Initializer {
	return FromValue(1)
}

// FromValue fills every element with v.
func FromValue(v float32) Initializer {
	return func(t *tensor.RawTensor) {
		fillFloat32(t, v)
	}
}

// FromVector copies the given values. The slice length must match the
// tensor's element count.
func FromVector(values []float32) Initializer {
	return func(t *tensor.RawTensor) {
		data := t.AsFloat32()
		if len(values) != len(data) {
			panic("graph: initializer vector length does not match tensor size")
		}
		copy(data, values)
	}
}

// FromIndices copies word or row indices into an index tensor.
func FromIndices(indices []uint32) Initializer {
	return func(t *tensor.RawTensor) {
		data := t.AsUint32()
		if len(indices) != len(data) {
			panic("graph: initializer index count does not match tensor size")
		}
		copy(data, indices)
	}
}

// Uniform draws from U[lo, hi) with the given source.
func Uniform(rng *rand.Rand, lo, hi float32) Initializer {
	return func(t *tensor.RawTensor) {
		data := t.AsFloat32()
		scale := hi - lo
		for i := range data {
			data[i] = lo + rng.Float32()*scale
		}
	}
}

// Normal draws from N(mean, stddev²) with the given source.
func Normal(rng *rand.Rand, mean, stddev float32) Initializer {
	return func(t *tensor.RawTensor) {
		data := t.AsFloat32()
		for i := range data {
			data[i] = mean + float32(rng.NormFloat64())*stddev
		}
	}
}

// GlorotUniform scales a uniform draw by the fan-in and fan-out of a weight
// matrix, read from the tensor's last two axes.
func GlorotUniform(rng *rand.Rand) Initializer {
	return func(t *tensor.RawTensor) {
		s := t.Shape()
		fanIn, fanOut := 1, 1
		if len(s) >= 2 {
			fanIn, fanOut = s[len(s)-2], s[len(s)-1]
		} else if len(s) == 1 {
			fanOut = s[0]
		}
		limit := float32(math.Sqrt(6 / float64(fanIn+fanOut)))
		Uniform(rng, -limit, limit)(t)
	}
}

// Bernoulli fills a dropout mask: each element is 1/(1-p) with probability
// 1-p and 0 otherwise, so the expectation stays 1.
func Bernoulli(rng *rand.Rand, p float32) Initializer {
	return func(t *tensor.RawTensor) {
		data := t.AsFloat32()
		keep := 1 - p
		scale := float32(1) / keep
		for i := range data {
			if rng.Float32() < keep {
				data[i] = scale
			} else {
				data[i] = 0
			}
		}
	}
}

// Dummy marks storage that is filled by other means (memory-mapped loads,
// beam state scatter). It leaves the buffer as allocated.
func Dummy() Initializer {
	return func(*tensor.RawTensor) {}
}

// FromItem copies a deserialized checkpoint item. The item is converted to
// the tensor's data type first, so float16 checkpoints load into float32
// parameters transparently.
func FromItem(item *serialization.Item) Initializer {
	return func(t *tensor.RawTensor) {
		conv, err := item.Convert(t.DType())
		if err != nil {
			panic("graph: " + err.Error())
		}
		copy(t.Data(), conv.Data)
	}
}
