package replay

import (
	"testing"

	"github.com/FlavioCFOliveira/recyclegan/internal/layer"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

func batch(values ...float64) *tensor.Tensor {
	t := tensor.New(len(values), 1, 1, 1)
	copy(t.Data, values)
	return t
}

func TestDisabledBufferPassesThrough(t *testing.T) {
	b := New(0, layer.NewRNG(1))
	in := batch(1, 2)
	if out := b.Query(in); out != in {
		t.Error("disabled buffer must return its input")
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}
}

func TestBufferFillsToCapacity(t *testing.T) {
	b := New(3, layer.NewRNG(1))
	out := b.Query(batch(1, 2))
	if out.Data[0] != 1 || out.Data[1] != 2 {
		t.Errorf("filling query returned %v", out.Data)
	}
	if b.Len() != 2 {
		t.Errorf("Len() = %d, want 2", b.Len())
	}
	b.Query(batch(3, 4))
	if b.Len() != 3 {
		t.Errorf("Len() = %d, want capacity 3", b.Len())
	}
}

func TestBufferReturnsKnownImages(t *testing.T) {
	b := New(4, layer.NewRNG(7))
	seen := map[float64]bool{}
	next := 0.0
	sawOld := false
	for i := 0; i < 50; i++ {
		next++
		seen[next] = true
		out := b.Query(batch(next))
		v := out.Data[0]
		if !seen[v] {
			t.Fatalf("query returned unknown image %v", v)
		}
		if v != next {
			sawOld = true
		}
		if b.Len() > b.Capacity() {
			t.Fatalf("Len() = %d exceeds capacity", b.Len())
		}
	}
	if !sawOld {
		t.Error("full buffer never returned a stored image")
	}
}

func TestBufferDoesNotAliasInput(t *testing.T) {
	b := New(1, layer.NewRNG(1))
	in := batch(5)
	b.Query(in)
	in.Data[0] = -1
	for i := 0; i < 20; i++ {
		if out := b.Query(batch(6)); out.Data[0] == -1 {
			t.Fatal("stored image aliases caller tensor")
		}
	}
}

// script replays fixed random draws.
type script struct {
	floats []float64
	ints   []int
}

func (s *script) RandFloat() float64 {
	v := s.floats[0]
	s.floats = s.floats[1:]
	return v
}

func (s *script) Intn(int) int {
	v := s.ints[0]
	s.ints = s.ints[1:]
	return v
}

func stored(b *Buffer) map[float64]bool {
	m := map[float64]bool{}
	for _, img := range b.images {
		m[img[0]] = true
	}
	return m
}

func TestBufferEvictsOldest(t *testing.T) {
	rng := &script{floats: []float64{0.9, 0.1, 0.9}, ints: []int{0, 0}}
	b := New(2, rng)

	tests := []struct {
		in     float64
		out    float64
		stored []float64
	}{
		{1, 1, []float64{1}},
		{2, 2, []float64{1, 2}},
		{3, 1, []float64{2, 3}}, // stored image 1 is returned, then evicted
		{4, 4, []float64{3, 4}},
		{5, 3, []float64{4, 5}},
	}
	for _, tt := range tests {
		out := b.Query(batch(tt.in))
		if out.Data[0] != tt.out {
			t.Errorf("query %v returned %v, want %v", tt.in, out.Data[0], tt.out)
		}
		got := stored(b)
		if len(got) != len(tt.stored) {
			t.Fatalf("after %v: stored %v, want %v", tt.in, got, tt.stored)
		}
		for _, v := range tt.stored {
			if !got[v] {
				t.Errorf("after %v: stored %v, want %v", tt.in, got, tt.stored)
			}
		}
	}
}

func TestBufferPushesWholeBatch(t *testing.T) {
	b := New(3, layer.NewRNG(2))
	b.Query(batch(1, 2, 3, 4, 5))
	got := stored(b)
	for _, v := range []float64{3, 4, 5} {
		if !got[v] {
			t.Errorf("stored %v, want the newest 3, 4, 5", got)
		}
	}
}
