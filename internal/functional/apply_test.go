package functional

import (
	"testing"

	"github.com/gradix-ml/gradix/internal/parallel"
)

func assertFloats(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestElement1(t *testing.T) {
	in := MakeView([]float32{1, 2, 3, 4}, 2, 2)
	out := MakeView(make([]float32, 4), 2, 2)

	Element1(func(x float32) float32 { return 2 * x }, out, in, parallel.Sequential())
	assertFloats(t, out.Data, []float32{2, 4, 6, 8})
}

func TestElement2BroadcastRow(t *testing.T) {
	a := MakeView([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := MakeView([]float32{10, 20, 30}, 1, 3)
	out := MakeView(make([]float32, 6), 2, 3)

	Element2(func(x, y float32) float32 { return x + y }, out, a, b, parallel.Sequential())
	assertFloats(t, out.Data, []float32{11, 22, 33, 14, 25, 36})
}

func TestElement2BroadcastColumn(t *testing.T) {
	a := MakeView([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := MakeView([]float32{10, 100}, 2, 1)
	out := MakeView(make([]float32, 6), 2, 3)

	Element2(func(x, y float32) float32 { return x * y }, out, a, b, parallel.Sequential())
	assertFloats(t, out.Data, []float32{10, 20, 30, 400, 500, 600})
}

func TestElement3(t *testing.T) {
	a := MakeView([]float32{1, 2}, 2)
	b := MakeView([]float32{3, 4}, 2)
	c := MakeView([]float32{5, 6}, 2)
	out := MakeView(make([]float32, 2), 2)

	Element3(func(x, y, z float32) float32 { return x*y + z }, out, a, b, c, parallel.Sequential())
	assertFloats(t, out.Data, []float32{8, 14})
}

func TestElementParallelMatchesSequential(t *testing.T) {
	const n = 4096
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i)
	}
	in := MakeView(data, n)
	seq := MakeView(make([]float32, n), n)
	par := MakeView(make([]float32, n), n)
	f := func(x float32) float32 { return x*x + 1 }

	Element1(f, seq, in, parallel.Sequential())
	Element1(f, par, in, parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16})
	assertFloats(t, par.Data, seq.Data)
}
