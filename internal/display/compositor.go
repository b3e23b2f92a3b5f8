// Package display composes the receiver's fresh frames into one mosaic and
// hands it to sinks on a fixed cadence.
package display

import (
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/banshee-data/depthcast/internal/mapper"
	"github.com/banshee-data/depthcast/internal/projector"
	"github.com/banshee-data/depthcast/internal/stream"
	"github.com/banshee-data/depthcast/internal/transport"
)

const (
	Width  = 1280
	Height = 720

	panelWidth  = Width / 2
	panelHeight = Height / 2
)

const (
	LabelNoDepth = "NO DEPTH"
	LabelNoMap   = "NO MAP"
	LabelNo3D    = "NO 3D DATA"
)

var (
	placeholderColor = color.RGBA{R: 64, G: 64, B: 64, A: 255}
	labelColor       = color.RGBA{R: 200, G: 200, B: 200, A: 255}
)

// Source yields fresh frames by type. *stream.Receiver is a Source.
type Source interface {
	Frame(t transport.FrameType) (*stream.Frame, bool)
}

// Compositor lays out the mosaic:
//
//	+---------------+---------------+
//	| depth (JET)   | 2D map        |
//	+---------------+---------------+
//	| 3D point cloud                |
//	+-------------------------------+
type Compositor struct {
	projector *projector.Projector

	mu     sync.Mutex
	mapper *mapper.Mapper
	face   font.Face
}

// NewCompositor builds a compositor whose local map fallback uses mapCfg and
// whose point cloud starts at view.
func NewCompositor(mapCfg mapper.Config, view projector.ViewState) *Compositor {
	pcfg := projector.DefaultConfig()
	pcfg.Width, pcfg.Height = Width, panelHeight
	pcfg.Initial = view
	return &Compositor{
		projector: projector.New(pcfg),
		mapper:    mapper.New(mapCfg),
		face:      labelFace(28),
	}
}

func labelFace(points float64) font.Face {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		// goregular is compiled in; a parse failure is a broken build.
		panic(err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: points})
}

// Projector exposes the point cloud view for interactive control.
func (c *Compositor) Projector() *projector.Projector {
	return c.projector
}

// Compose renders one mosaic from whatever src holds right now.
func (c *Compositor) Compose(src Source) *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	dc := gg.NewContext(Width, Height)
	dc.SetColor(color.Black)
	dc.Clear()

	raw, haveRaw := src.Frame(transport.FrameRawDepth3D)

	if f, ok := src.Frame(transport.FrameDepth); ok && f.Image != nil {
		c.paste(dc, f.Image, 0, 0, panelWidth, panelHeight)
	} else {
		c.placeholder(dc, LabelNoDepth, 0, 0, panelWidth, panelHeight)
	}

	switch f, ok := src.Frame(transport.FrameMap2D); {
	case ok && f.Image != nil:
		c.paste(dc, f.Image, panelWidth, 0, panelWidth, panelHeight)
	case haveRaw && raw.Depth != nil:
		c.paste(dc, c.mapper.Update(raw.Depth), panelWidth, 0, panelWidth, panelHeight)
	default:
		c.placeholder(dc, LabelNoMap, panelWidth, 0, panelWidth, panelHeight)
	}

	if haveRaw && raw.Depth != nil {
		dc.DrawImage(c.projector.Project(raw.Depth), 0, panelHeight)
	} else {
		c.placeholder(dc, LabelNo3D, 0, panelHeight, Width, panelHeight)
	}

	return dc.Image().(*image.RGBA)
}

func (c *Compositor) paste(dc *gg.Context, img image.Image, x, y, w, h int) {
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		img = imaging.Resize(img, w, h, imaging.Linear)
	}
	dc.DrawImage(img, x, y)
}

func (c *Compositor) placeholder(dc *gg.Context, label string, x, y, w, h int) {
	dc.SetColor(placeholderColor)
	dc.DrawRectangle(float64(x), float64(y), float64(w), float64(h))
	dc.Fill()
	dc.SetFontFace(c.face)
	dc.SetColor(labelColor)
	dc.DrawStringAnchored(label, float64(x)+float64(w)/2, float64(y)+float64(h)/2, 0.5, 0.5)
}
