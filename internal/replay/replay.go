// Package replay keeps a history of generated images so discriminators are
// trained against older fakes as well as the latest ones.
package replay

import (
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// Source provides the randomness used to pick stored images.
type Source interface {
	RandFloat() float64
	Intn(n int) int
}

// Buffer is a bounded ring of past fake images for one domain. Every
// queried image is pushed; once full, the oldest stored image is evicted.
type Buffer struct {
	capacity int
	images   [][]float64
	next     int // slot of the oldest image once full
	rng      Source
}

// New returns a buffer holding up to capacity images. A capacity of zero
// disables the buffer: Query returns its input unchanged.
func New(capacity int, rng Source) *Buffer {
	return &Buffer{capacity: capacity, rng: rng}
}

// Len returns the number of stored images.
func (b *Buffer) Len() int {
	return len(b.images)
}

// Capacity returns the maximum number of stored images.
func (b *Buffer) Capacity() int {
	return b.capacity
}

func (b *Buffer) push(img []float64) {
	if len(b.images) < b.capacity {
		b.images = append(b.images, img)
		return
	}
	b.images[b.next] = img
	b.next = (b.next + 1) % b.capacity
}

// Query returns a batch of the same shape as fakes and pushes every image of
// fakes into the buffer. While the buffer fills up the images are returned as
// is. Once full, each output is a random stored image with probability 1/2
// (picked before the push) and the new image otherwise.
func (b *Buffer) Query(fakes *tensor.Tensor) *tensor.Tensor {
	if b.capacity <= 0 {
		return fakes
	}
	out := tensor.Like(fakes)
	for n := 0; n < fakes.Shape[0]; n++ {
		img := append([]float64(nil), fakes.Sample(n)...)
		dst := out.Sample(n)
		if len(b.images) == b.capacity && b.rng.RandFloat() > 0.5 {
			copy(dst, b.images[b.rng.Intn(b.capacity)])
		} else {
			copy(dst, img)
		}
		b.push(img)
	}
	return out
}
