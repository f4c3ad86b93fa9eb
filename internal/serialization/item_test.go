package serialization

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/gradix-ml/gradix/internal/tensor"
)

func TestConvertIdentityReturnsSameItem(t *testing.T) {
	it := float32Item(t, "w", tensor.Shape{2}, []float32{1, 2})
	got, err := it.Convert(tensor.Float32)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if got != &it {
		t.Error("identity conversion should return the item itself")
	}
}

func TestConvertFloat32ToFloat16RoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 0.5, 3.14159, 1000}
	it := float32Item(t, "w", tensor.Shape{len(values)}, values)

	half, err := it.Convert(tensor.Float16)
	if err != nil {
		t.Fatalf("Convert to float16 failed: %v", err)
	}
	if len(half.Data) != len(values)*2 {
		t.Fatalf("float16 data size = %d, want %d", len(half.Data), len(values)*2)
	}

	back, err := half.Convert(tensor.Float32)
	if err != nil {
		t.Fatalf("Convert back failed: %v", err)
	}
	for i, want := range values {
		got := math.Float32frombits(binary.LittleEndian.Uint32(back.Data[i*4:]))
		// Half precision carries ~3 decimal digits.
		if diff := math.Abs(float64(got - want)); diff > 0.001*math.Max(1, math.Abs(float64(want))) {
			t.Errorf("element %d = %v, want %v", i, got, want)
		}
	}
}

func TestConvertFloat32ToFloat64Exact(t *testing.T) {
	values := []float32{1.5, -2.25, 0}
	it := float32Item(t, "w", tensor.Shape{len(values)}, values)

	wide, err := it.Convert(tensor.Float64)
	if err != nil {
		t.Fatalf("Convert to float64 failed: %v", err)
	}
	for i, want := range values {
		got := math.Float64frombits(binary.LittleEndian.Uint64(wide.Data[i*8:]))
		if got != float64(want) {
			t.Errorf("element %d = %v, want %v", i, got, want)
		}
	}
}

func TestConvertUnsupportedDType(t *testing.T) {
	it := Item{Name: "idx", Shape: tensor.Shape{2}, DType: tensor.Uint32, Data: make([]byte, 8)}
	_, err := it.Convert(tensor.Float32)
	if err == nil {
		t.Fatal("expected conversion error")
	}
	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Errorf("expected ConversionError, got %T", err)
	}
}
