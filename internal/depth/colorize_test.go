package depth

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJETEndpoints(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 0, G: 0, B: 128, A: 255}, JET(0))
	assert.Equal(t, color.RGBA{R: 128, G: 0, B: 0, A: 255}, JET(255))

	mid := JET(128)
	assert.Greater(t, int(mid.G), 200, "middle of the ramp should be green-ish, got %v", mid)
}

func TestColorizeSaturates(t *testing.T) {
	s := &Sample{Width: 3, Height: 1, Scale: 1, Data: []uint16{0, 5000, 60000}}
	img := Colorize(s)

	assert.Equal(t, JET(0), img.RGBAAt(0, 0))
	assert.Equal(t, JET(255), img.RGBAAt(1, 0))
	assert.Equal(t, JET(255), img.RGBAAt(2, 0))
}

func TestColorizeHonoursScale(t *testing.T) {
	// 2500 raw at scale 2 is 5000 mm, the top of the ramp.
	s := &Sample{Width: 1, Height: 1, Scale: 2, Data: []uint16{2500}}
	assert.Equal(t, JET(255), Colorize(s).RGBAAt(0, 0))
}
