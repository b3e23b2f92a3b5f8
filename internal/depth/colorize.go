package depth

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// VisualizeMaxMM is the reading that saturates the visualization ramp.
const VisualizeMaxMM = 5000

// jet control points, low to high.
var jetStops = []struct {
	pos float64
	c   colorful.Color
}{
	{0.0, colorful.Color{R: 0, G: 0, B: 0.5}},
	{0.125, colorful.Color{R: 0, G: 0, B: 1}},
	{0.375, colorful.Color{R: 0, G: 1, B: 1}},
	{0.625, colorful.Color{R: 1, G: 1, B: 0}},
	{0.875, colorful.Color{R: 1, G: 0, B: 0}},
	{1.0, colorful.Color{R: 0.5, G: 0, B: 0}},
}

var jetLUT = buildJet()

func buildJet() [256]color.RGBA {
	var lut [256]color.RGBA
	for i := range lut {
		t := float64(i) / 255
		k := 1
		for k < len(jetStops)-1 && t > jetStops[k].pos {
			k++
		}
		lo, hi := jetStops[k-1], jetStops[k]
		c := lo.c.BlendRgb(hi.c, (t-lo.pos)/(hi.pos-lo.pos))
		r, g, b := c.Clamped().RGB255()
		lut[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return lut
}

// JET returns the colormap entry for an 8-bit level.
func JET(level uint8) color.RGBA {
	return jetLUT[level]
}

// Colorize renders a sample as an 8-bit false-color image. Millimetres are
// scaled by 255/VisualizeMaxMM and saturate, so everything past 5 m shares
// the hottest color and missing readings take the coldest.
func Colorize(s *Sample) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	k := float64(s.Scale) * 255 / VisualizeMaxMM
	for i, v := range s.Data {
		level := float64(v)*k + 0.5
		if level > 255 {
			level = 255
		}
		c := jetLUT[uint8(level)]
		o := i * 4
		img.Pix[o] = c.R
		img.Pix[o+1] = c.G
		img.Pix[o+2] = c.B
		img.Pix[o+3] = 255
	}
	return img
}
