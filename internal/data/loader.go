// Package data provides the image batch sources of the training driver.
package data

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// ErrData reports an unusable dataset.
var ErrData = errors.New("data: invalid dataset")

// SliceLoader serves batches from an in-memory (N, C, H, W) tensor.
type SliceLoader struct {
	images    *tensor.Tensor
	batchSize int
	shuffle   bool
	seed      int64
}

// NewSliceLoader creates a loader over images. When limit is positive only
// the first limit images are used. With shuffle set, every epoch visits the
// images in a different order derived from seed and the epoch number.
func NewSliceLoader(images *tensor.Tensor, batchSize, limit int, shuffle bool, seed int64) (*SliceLoader, error) {
	if images == nil || len(images.Shape) != 4 || images.Shape[0] == 0 {
		return nil, errors.Wrap(ErrData, "images must be a non-empty (N, C, H, W) tensor")
	}
	if batchSize <= 0 {
		return nil, errors.Wrapf(ErrData, "batch size must be positive, got %d", batchSize)
	}
	if limit > 0 && limit < images.Shape[0] {
		images = images.Slice(0, limit)
	}
	return &SliceLoader{images: images, batchSize: batchSize, shuffle: shuffle, seed: seed}, nil
}

// Len returns the number of images.
func (l *SliceLoader) Len() int {
	return l.images.Shape[0]
}

// Images returns the underlying tensor.
func (l *SliceLoader) Images() *tensor.Tensor {
	return l.images
}

// Batches splits one pass over the images into batches. The last batch may
// be smaller than the batch size.
func (l *SliceLoader) Batches(epoch int) ([]*tensor.Tensor, error) {
	n := l.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		rng := rand.New(rand.NewSource(l.seed + int64(epoch)))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	_, c, h, w := l.images.Dims()
	var batches []*tensor.Tensor
	for from := 0; from < n; from += l.batchSize {
		to := min(from+l.batchSize, n)
		samples := make([][]float64, 0, to-from)
		for _, idx := range order[from:to] {
			samples = append(samples, l.images.Sample(idx))
		}
		b, err := tensor.Stack(c, h, w, samples...)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}
