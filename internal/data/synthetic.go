package data

import (
	"image"
	"math"
	"math/rand"

	"golang.org/x/image/vector"

	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// Domain selects the shape family drawn by Synthetic.
type Domain int

const (
	// Discs draws filled circles.
	Discs Domain = iota
	// Squares draws filled axis-aligned squares.
	Squares
)

func (d Domain) String() string {
	if d == Squares {
		return "squares"
	}
	return "discs"
}

// Synthetic renders n images of one shape per image on a dark background.
// Shape position, size and per-channel intensity are random; values are
// normalized to [-1, 1]. The two domains differ only in shape, which makes
// them a small unpaired translation problem.
func Synthetic(domain Domain, n, channels, height, width int, seed int64) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	out := tensor.New(n, channels, height, width)
	for i := 0; i < n; i++ {
		mask := rasterize(domain, rng, width, height)
		img := out.Sample(i)
		for c := 0; c < channels; c++ {
			intensity := 0.5 + 0.5*rng.Float64()
			plane := img[c*height*width : (c+1)*height*width]
			for p, a := range mask.Pix {
				plane[p] = 2*intensity*float64(a)/255 - 1
			}
		}
	}
	return out
}

// rasterize draws one anti-aliased shape into an alpha mask.
func rasterize(domain Domain, rng *rand.Rand, width, height int) *image.Alpha {
	size := float64(min(width, height))
	radius := size * (0.15 + 0.2*rng.Float64())
	cx := radius + rng.Float64()*(float64(width)-2*radius)
	cy := radius + rng.Float64()*(float64(height)-2*radius)

	z := vector.NewRasterizer(width, height)
	switch domain {
	case Squares:
		z.MoveTo(float32(cx-radius), float32(cy-radius))
		z.LineTo(float32(cx+radius), float32(cy-radius))
		z.LineTo(float32(cx+radius), float32(cy+radius))
		z.LineTo(float32(cx-radius), float32(cy+radius))
	default:
		const segments = 32
		for s := 0; s < segments; s++ {
			angle := 2 * math.Pi * float64(s) / segments
			x := float32(cx + radius*math.Cos(angle))
			y := float32(cy + radius*math.Sin(angle))
			if s == 0 {
				z.MoveTo(x, y)
			} else {
				z.LineTo(x, y)
			}
		}
	}
	z.ClosePath()

	mask := image.NewAlpha(image.Rect(0, 0, width, height))
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}
