// Package mapper turns a depth sample into a top-down occupancy image: the
// sensor sits at the top edge looking down the image, range grows with y
// and bearing is spread across x.
package mapper

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"

	"github.com/banshee-data/depthcast/internal/depth"
)

// Config controls the map canvas and projection.
type Config struct {
	Width       int
	Height      int
	MaxRangeM   float64
	MinRangeM   float64
	FOVDeg      float64
	Stride      int
	GridSpacing int
	IconRadius  int
}

// DefaultConfig returns the 640×480, 4 m map.
func DefaultConfig() Config {
	return Config{
		Width:       640,
		Height:      480,
		MaxRangeM:   4.0,
		MinRangeM:   0.2,
		FOVDeg:      60,
		Stride:      4,
		GridSpacing: 50,
		IconRadius:  5,
	}
}

var (
	backgroundColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gridColor       = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	headingColor    = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	agentColor      = color.RGBA{R: 0, G: 255, B: 0, A: 255}
)

// ObstacleColor is the pixel color for an obstacle at depthM metres:
// near obstacles are blue, far ones fade towards dark red.
func ObstacleColor(depthM, maxRangeM float64) color.RGBA {
	i := 1 - depthM/maxRangeM
	return color.RGBA{
		R: uint8((1 - i) * 100),
		G: 0,
		B: uint8(i * 200),
		A: 255,
	}
}

// Mapper owns one reusable canvas. It is not safe for concurrent use; each
// orchestrator holds its own.
type Mapper struct {
	cfg    Config
	canvas *image.RGBA
	dc     *gg.Context
}

// New returns a Mapper, filling zero fields from DefaultConfig.
func New(cfg Config) *Mapper {
	def := DefaultConfig()
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.Stride <= 0 {
		cfg.Stride = def.Stride
	}
	if cfg.GridSpacing <= 0 {
		cfg.GridSpacing = def.GridSpacing
	}
	if cfg.FOVDeg <= 0 {
		cfg.FOVDeg = def.FOVDeg
	}
	if cfg.IconRadius <= 0 {
		cfg.IconRadius = def.IconRadius
	}
	canvas := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	return &Mapper{cfg: cfg, canvas: canvas, dc: gg.NewContextForRGBA(canvas)}
}

// Config returns the effective configuration.
func (m *Mapper) Config() Config {
	return m.cfg
}

// Update clears the canvas and redraws it from s. The returned image is the
// mapper's canvas and is overwritten by the next call; Clone it to keep it.
// A MaxRangeM of zero or less yields the bare grid.
func (m *Mapper) Update(s *depth.Sample) *image.RGBA {
	m.drawBackground()
	if s != nil && s.Validate() == nil && m.cfg.MaxRangeM > 0 {
		m.plot(s)
	}
	m.drawAgent()
	return m.canvas
}

// Snapshot is Update followed by a copy of the canvas.
func (m *Mapper) Snapshot(s *depth.Sample) *image.RGBA {
	img := m.Update(s)
	out := image.NewRGBA(img.Rect)
	copy(out.Pix, img.Pix)
	return out
}

func (m *Mapper) drawBackground() {
	w, h := float64(m.cfg.Width), float64(m.cfg.Height)
	m.dc.SetColor(backgroundColor)
	m.dc.Clear()

	// Axis-aligned unit rects on whole pixels fill with full coverage, so
	// the grid stays crisp.
	for y := 0; y < m.cfg.Height; y += m.cfg.GridSpacing {
		m.dc.DrawRectangle(0, float64(y), w, 1)
	}
	for x := 0; x < m.cfg.Width; x += m.cfg.GridSpacing {
		m.dc.DrawRectangle(float64(x), 0, 1, h)
	}
	m.dc.SetColor(gridColor)
	m.dc.Fill()

	m.dc.DrawRectangle(float64(m.cfg.Width/2), 0, 1, h)
	m.dc.SetColor(headingColor)
	m.dc.Fill()
}

func (m *Mapper) drawAgent() {
	m.dc.DrawCircle(float64(m.cfg.Width/2), float64(m.cfg.Height-10), float64(m.cfg.IconRadius))
	m.dc.SetColor(agentColor)
	m.dc.Fill()
}

func (m *Mapper) plot(s *depth.Sample) {
	w, h := m.cfg.Width, m.cfg.Height
	maxR := m.cfg.MaxRangeM
	fov := m.cfg.FOVDeg * math.Pi / 180
	sw := float64(s.Width)
	mmScale := float64(s.Scale) / 1000

	for y := 0; y < s.Height; y += m.cfg.Stride {
		row := s.Data[y*s.Width : (y+1)*s.Width]
		for x := 0; x < s.Width; x += m.cfg.Stride {
			v := row[x]
			if v == 0 {
				continue
			}
			depthM := float64(v) * mmScale
			if depthM > maxR || depthM < m.cfg.MinRangeM {
				continue
			}
			angle := (float64(x) - sw/2) / sw * fov
			xPos := depthM * math.Tan(angle)
			mx := w/2 + int(xPos*float64(w)/(maxR*2))
			my := int(depthM * float64(h) / maxR)
			if mx < 0 || mx >= w || my < 0 || my >= h {
				continue
			}
			m.canvas.SetRGBA(mx, my, ObstacleColor(depthM, maxR))
		}
	}
}
