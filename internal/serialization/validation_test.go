package serialization

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gradix-ml/gradix/internal/tensor"
)

func TestValidateTensorName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string // "" means valid
	}{
		{"plain", "layer.weight", ""},
		{"namespaced", "encoder::Wemb", ""},
		{"special", "special:model.yml", ""},
		{"too long", strings.Repeat("a", MaxTensorNameLen+1), "name_too_long"},
		{"dotdot", "../../etc/passwd", "invalid_name"},
		{"slash", "dir/tensor", "invalid_name"},
		{"backslash", "dir\\tensor", "invalid_name"},
		{"null byte", "tensor\x00name", "invalid_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorName(tt.input)
			if tt.wantType == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Type != tt.wantType {
				t.Errorf("type = %q, want %q", verr.Type, tt.wantType)
			}
		})
	}
}

func TestValidateTensorOffsets(t *testing.T) {
	tests := []struct {
		name     string
		tensors  []TensorMeta
		dataSize int64
		wantType string
	}{
		{
			name: "valid layout",
			tensors: []TensorMeta{
				{Name: "a", Offset: 0, Size: 64},
				{Name: "b", Offset: 64, Size: 32},
			},
			dataSize: 96,
		},
		{
			name: "aligned gaps are fine",
			tensors: []TensorMeta{
				{Name: "a", Offset: 0, Size: 10},
				{Name: "b", Offset: 64, Size: 10},
			},
			dataSize: 74,
		},
		{
			name: "negative offset",
			tensors: []TensorMeta{
				{Name: "a", Offset: -8, Size: 16},
			},
			dataSize: 64,
			wantType: "negative_offset",
		},
		{
			name: "out of bounds",
			tensors: []TensorMeta{
				{Name: "a", Offset: 0, Size: 128},
			},
			dataSize: 64,
			wantType: "out_of_bounds",
		},
		{
			name: "overlap",
			tensors: []TensorMeta{
				{Name: "a", Offset: 0, Size: 48},
				{Name: "b", Offset: 32, Size: 32},
			},
			dataSize: 64,
			wantType: "offset_overlap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.tensors, tt.dataSize)
			if tt.wantType == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Type != tt.wantType {
				t.Errorf("type = %q, want %q", verr.Type, tt.wantType)
			}
		})
	}
}

func TestValidateHeaderRejectsDuplicateNames(t *testing.T) {
	h := &Header{
		Tensors: []TensorMeta{
			{Name: "w", Offset: 0, Size: 8},
			{Name: "w", Offset: 64, Size: 8},
		},
	}

	err := ValidateHeader(h, 128)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if verr.Type != "duplicate_name" || verr.Tensor != "w" {
		t.Errorf("got %v, want duplicate_name for %q", verr, "w")
	}
}

func TestValidateHeaderRejectsTooManyTensors(t *testing.T) {
	h := &Header{Tensors: make([]TensorMeta, MaxTensorCount+1)}

	err := ValidateHeader(h, 0)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if verr.Type != "too_many_tensors" {
		t.Errorf("type = %q, want too_many_tensors", verr.Type)
	}
}

// A file carrying two tensors under one name must not open: resolving the
// duplicate silently would hand the caller whichever payload came first.
func TestLoadRejectsDuplicateTensorNames(t *testing.T) {
	items := []Item{
		float32Item(t, "w", tensor.Shape{2}, []float32{1, 2}),
		float32Item(t, "w", tensor.Shape{2}, []float32{3, 4}),
	}

	path := filepath.Join(t.TempDir(), "dup.grdx")
	if err := SaveItems(path, items); err != nil {
		t.Fatalf("SaveItems failed: %v", err)
	}

	_, err := LoadItems(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if verr.Type != "duplicate_name" {
		t.Errorf("type = %q, want duplicate_name", verr.Type)
	}

	if _, err := MmapItems(path); err == nil {
		t.Error("MmapItems accepted a file with duplicate tensor names")
	}
}
