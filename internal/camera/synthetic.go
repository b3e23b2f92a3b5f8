package camera

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync/atomic"
	"time"

	"github.com/banshee-data/depthcast/internal/depth"
)

const (
	syntheticWallMM = 3500
	syntheticBoxMM  = 1500
)

// Synthetic renders a room with a box sweeping side to side in front of a
// back wall. Every frame is deterministic given its index.
type Synthetic struct {
	width, height int
	pacer         pacer
	index         uint64
	closed        atomic.Bool
}

// NewSynthetic returns a synthetic camera, 640×480 unless opts says
// otherwise.
func NewSynthetic(opts Options) *Synthetic {
	w, h := opts.Width, opts.Height
	if w <= 0 || h <= 0 {
		w, h = 640, 480
	}
	return &Synthetic{width: w, height: h, pacer: newPacer(opts.Clock, opts.FPS)}
}

func (c *Synthetic) WaitForFrames(ctx context.Context, timeout time.Duration) (*FrameSet, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	at, err := c.pacer.wait(ctx, timeout)
	if err != nil {
		return nil, err
	}
	i := c.index
	c.index++
	d := SyntheticDepth(c.width, c.height, i)
	return &FrameSet{
		Index:    i,
		Captured: at,
		Depth:    d,
		Color:    syntheticColor(d),
		IR:       syntheticIR(d),
	}, nil
}

func (c *Synthetic) Close() error {
	c.closed.Store(true)
	return nil
}

// boxRect is where the box sits in frame i.
func boxRect(w, h int, i uint64) image.Rectangle {
	bw, bh := w/8, h/4
	phase := math.Sin(float64(i) * 2 * math.Pi / 120)
	cx := w/2 + int(phase*float64(w)/3)
	cy := h / 2
	return image.Rect(cx-bw/2, cy-bh/2, cx+bw/2, cy+bh/2)
}

// SyntheticDepth builds frame i of the synthetic scene in millimetres.
func SyntheticDepth(w, h int, i uint64) *depth.Sample {
	s := depth.NewSample(w, h, 1)
	box := boxRect(w, h, i)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v uint16
			switch {
			case (x*31+y*17+int(i))%53 == 0:
				v = 0 // dropout
			case image.Pt(x, y).In(box):
				v = syntheticBoxMM
			case y > h*3/4:
				// Floor, nearer towards the bottom edge.
				v = uint16(syntheticWallMM - (y-h*3/4)*2000/(h/4))
			default:
				v = syntheticWallMM
			}
			s.Data[y*w+x] = v
		}
	}
	return s
}

func syntheticColor(d *depth.Sample) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			v := d.At(x, y)
			var c color.RGBA
			switch {
			case v == syntheticBoxMM:
				c = color.RGBA{R: 200, G: 40, B: 40, A: 255}
			case y > d.Height*3/4:
				c = color.RGBA{R: 110, G: 90, B: 70, A: 255}
			default:
				c = color.RGBA{R: 180, G: 190, B: uint8(150 + y*80/d.Height), A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func syntheticIR(d *depth.Sample) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, d.Width, d.Height))
	for i, v := range d.Data {
		if v == 0 {
			continue
		}
		img.Pix[i] = uint8(255 - min(int(v)/20, 255))
	}
	return img
}
