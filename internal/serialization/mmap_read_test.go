package serialization

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/gradix-ml/gradix/internal/tensor"
)

func TestMmapReaderReadsItems(t *testing.T) {
	items := []Item{
		float32Item(t, "weight", tensor.Shape{2, 2}, []float32{1, 2, 3, 4}),
		float32Item(t, "bias", tensor.Shape{2}, []float32{5, 6}),
	}
	path := filepath.Join(t.TempDir(), "mapped.grdx")
	if err := SaveItems(path, items); err != nil {
		t.Fatal(err)
	}

	r, err := NewMmapReader(path)
	if err != nil {
		t.Fatalf("NewMmapReader failed: %v", err)
	}
	defer func() { _ = r.Close() }()

	mapped, err := r.ReadItems()
	if err != nil {
		t.Fatalf("ReadItems failed: %v", err)
	}
	if len(mapped) != 2 {
		t.Fatalf("got %d items, want 2", len(mapped))
	}
	for i, want := range items {
		got := mapped[i]
		if !got.Mapped {
			t.Errorf("item %d not marked as mapped", i)
		}
		if !bytes.Equal(got.Data, want.Data) {
			t.Errorf("item %d data differs", i)
		}
	}
}

func TestMmapReaderTensorData(t *testing.T) {
	items := []Item{float32Item(t, "w", tensor.Shape{2}, []float32{1, 2})}
	path := filepath.Join(t.TempDir(), "data.grdx")
	if err := SaveItems(path, items); err != nil {
		t.Fatal(err)
	}

	r, err := NewMmapReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = r.Close() }()

	data, err := r.TensorData("w")
	if err != nil {
		t.Fatalf("TensorData failed: %v", err)
	}
	if !bytes.Equal(data, items[0].Data) {
		t.Error("mapped bytes differ from written bytes")
	}

	if _, err := r.TensorData("missing"); err == nil {
		t.Error("expected error for unknown tensor")
	}
}

func TestMmapReaderClosedAccess(t *testing.T) {
	items := []Item{float32Item(t, "w", tensor.Shape{1}, []float32{1})}
	path := filepath.Join(t.TempDir(), "closed.grdx")
	if err := SaveItems(path, items); err != nil {
		t.Fatal(err)
	}

	r, err := NewMmapReader(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.TensorData("w"); err == nil {
		t.Error("expected error after Close")
	}
	if err := r.Close(); err != nil {
		t.Errorf("double Close failed: %v", err)
	}
}
