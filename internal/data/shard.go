package data

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// shard is the on-disk form of a block of normalized images.
type shard struct {
	Shape []int
	Data  []float64
}

// WriteShard stores images, an (N, C, H, W) tensor with values in [-1, 1], as
// a gob-encoded shard.
func WriteShard(path string, images *tensor.Tensor) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create shard %s", path)
	}
	if err := gob.NewEncoder(file).Encode(shard{Shape: images.Shape, Data: images.Data}); err != nil {
		file.Close()
		return errors.Wrapf(err, "encode shard %s", path)
	}
	return file.Close()
}

// ReadShard loads a shard written by WriteShard.
func ReadShard(path string) (*tensor.Tensor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open shard %s", path)
	}
	defer file.Close()

	var s shard
	if err := gob.NewDecoder(file).Decode(&s); err != nil {
		return nil, errors.Wrapf(ErrData, "decode shard %s: %v", path, err)
	}
	t, err := tensor.FromSlice(s.Data, s.Shape...)
	if err != nil {
		return nil, errors.Wrapf(ErrData, "shard %s: %v", path, err)
	}
	if len(t.Shape) != 4 {
		return nil, errors.Wrapf(ErrData, "shard %s has shape %s, want (N, C, H, W)", path, t)
	}
	return t, nil
}

// LoadShards reads and concatenates shards. Every shard must hold images of
// the given channels and size.
func LoadShards(paths []string, channels, height, width int) (*tensor.Tensor, error) {
	if len(paths) == 0 {
		return nil, errors.Wrap(ErrData, "no shard files")
	}
	var samples [][]float64
	for _, path := range paths {
		t, err := ReadShard(path)
		if err != nil {
			return nil, err
		}
		if _, c, h, w := t.Dims(); c != channels || h != height || w != width {
			return nil, errors.Wrapf(ErrData, "shard %s has images %dx%dx%d, want %dx%dx%d",
				path, c, h, w, channels, height, width)
		}
		for i := 0; i < t.Shape[0]; i++ {
			samples = append(samples, t.Sample(i))
		}
	}
	return tensor.Stack(channels, height, width, samples...)
}
