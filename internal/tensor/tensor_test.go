package tensor

import (
	"math"
	"testing"

	"github.com/pkg/errors"
)

func TestFromSlice(t *testing.T) {
	tests := []struct {
		name    string
		data    []float64
		shape   []int
		wantErr bool
	}{
		{"exact fit", []float64{1, 2, 3, 4, 5, 6}, []int{2, 3}, false},
		{"too few values", []float64{1, 2, 3}, []int{2, 2}, true},
		{"too many values", []float64{1, 2, 3, 4, 5}, []int{2, 2}, true},
		{"empty shape", []float64{1}, nil, true},
	}

	for _, tt := range tests {
		got, err := FromSlice(tt.data, tt.shape...)
		if tt.wantErr {
			if !errors.Is(err, ErrShape) {
				t.Errorf("%s: err = %v, want ErrShape", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got.Size() != len(tt.data) || got.String() != ShapeString(tt.shape) {
			t.Errorf("%s: got %s with %d values", tt.name, got, got.Size())
		}
	}
}

func TestSliceCopiesBatchEntries(t *testing.T) {
	src, err := FromSlice([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 4, 2, 1, 1)
	if err != nil {
		t.Fatal(err)
	}

	got := src.Slice(1, 3)
	if got.String() != "(2, 2, 1, 1)" {
		t.Fatalf("shape = %s, want (2, 2, 1, 1)", got)
	}
	want := []float64{3, 4, 5, 6}
	for i, v := range want {
		if got.Data[i] != v {
			t.Errorf("Data[%d] = %v, want %v", i, got.Data[i], v)
		}
	}

	got.Data[0] = -1
	if src.Data[2] != 3 {
		t.Errorf("Slice shares storage with its source: src.Data[2] = %v", src.Data[2])
	}
}

func TestStack(t *testing.T) {
	out, err := Stack(1, 1, 2, []float64{1, 2}, []float64{3, 4}, []float64{5, 6})
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != "(3, 1, 1, 2)" {
		t.Fatalf("shape = %s, want (3, 1, 1, 2)", out)
	}
	for i := 0; i < 3; i++ {
		s := out.Sample(i)
		if s[0] != float64(2*i+1) || s[1] != float64(2*i+2) {
			t.Errorf("sample %d = %v", i, s)
		}
	}

	if _, err := Stack(1, 1, 2, []float64{1, 2}, []float64{3}); !errors.Is(err, ErrShape) {
		t.Errorf("Stack with short sample: err = %v, want ErrShape", err)
	}
}

func TestAbsMeanDiff(t *testing.T) {
	a, _ := FromSlice([]float64{1, -2, 3, 0}, 1, 1, 2, 2)
	b, _ := FromSlice([]float64{0, 2, 3, -1}, 1, 1, 2, 2)
	got, err := AbsMeanDiff(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if want := (1.0 + 4 + 0 + 1) / 4; math.Abs(got-want) > 1e-12 {
		t.Errorf("AbsMeanDiff = %v, want %v", got, want)
	}

	other, _ := FromSlice([]float64{1, 2, 3, 4}, 1, 4, 1, 1)
	if _, err := AbsMeanDiff(a, other); !errors.Is(err, ErrShape) {
		t.Errorf("AbsMeanDiff across shapes: err = %v, want ErrShape", err)
	}
}

func TestMeanAndIsFinite(t *testing.T) {
	x, _ := FromSlice([]float64{1, 2, 3, 6}, 4)
	if got := x.Mean(); got != 3 {
		t.Errorf("Mean = %v, want 3", got)
	}
	if !x.IsFinite() {
		t.Error("IsFinite = false for finite values")
	}
	x.Data[2] = math.NaN()
	if x.IsFinite() {
		t.Error("IsFinite = true with a NaN")
	}
	x.Data[2] = math.Inf(-1)
	if x.IsFinite() {
		t.Error("IsFinite = true with -Inf")
	}
}
