// Package projector renders a depth sample as a rotatable point cloud seen
// through a pinhole camera.
package projector

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/depthcast/internal/depth"
)

const (
	MinPitch = -1.5
	MaxPitch = 1.5
	MinZoom  = 50.0
	MaxZoom  = 500.0

	// RotateStep is the nudge applied by one directional command, in radians.
	RotateStep = 0.1
	// ZoomStep is the relative zoom change for ZoomIn and ZoomOut.
	ZoomStep = 25.0
	// ZoomNear and ZoomFar are the absolute presets.
	ZoomNear = 175.0
	ZoomFar  = 125.0

	// cameraOffset pushes the cloud in front of the virtual camera.
	cameraOffset = 2.0
	nearPlane    = 0.1
	colorRangeM  = 4.0
)

// ViewState is the viewer's orientation and magnification.
type ViewState struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Zoom  float64 `json:"zoom"`
}

// DefaultView tilts the cloud slightly so the floor is visible.
func DefaultView() ViewState {
	return ViewState{Yaw: 0, Pitch: 0.5, Zoom: 150}
}

func (v ViewState) clamped() ViewState {
	v.Pitch = math.Max(MinPitch, math.Min(MaxPitch, v.Pitch))
	v.Zoom = math.Max(MinZoom, math.Min(MaxZoom, v.Zoom))
	return v
}

// Command is a discrete view input.
type Command string

const (
	RotateLeft  Command = "left"
	RotateRight Command = "right"
	RotateUp    Command = "up"
	RotateDown  Command = "down"
	ZoomIn      Command = "zoom_in"
	ZoomOut     Command = "zoom_out"
	ZoomInNear  Command = "near"
	ZoomOutFar  Command = "far"
	ResetView   Command = "reset"
)

// Config sets the raster geometry.
type Config struct {
	Width      int
	Height     int
	Stride     int
	MaxDepthMM uint16
	Initial    ViewState
}

// DefaultConfig is the 1280×720 standalone viewer.
func DefaultConfig() Config {
	return Config{Width: 1280, Height: 720, Stride: 3, MaxDepthMM: 5000, Initial: DefaultView()}
}

var backgroundColor = color.RGBA{R: 30, G: 20, B: 20, A: 255}

// PointColor shades a point by range: near points are orange-green, far
// points blue.
func PointColor(depthM float64) color.RGBA {
	nd := math.Min(1, depthM/colorRangeM)
	return color.RGBA{
		R: uint8((1 - nd) * 100),
		G: uint8((1 - nd) * 200),
		B: uint8(nd * 255),
		A: 255,
	}
}

// Projector owns the view state. View mutations and Project may be called
// from different goroutines.
type Projector struct {
	cfg Config

	mu   sync.Mutex
	view ViewState
}

// New returns a Projector, filling zero fields from DefaultConfig.
func New(cfg Config) *Projector {
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
	if cfg.MaxDepthMM == 0 {
		cfg.MaxDepthMM = def.MaxDepthMM
	}
	if cfg.Initial.Zoom == 0 {
		cfg.Initial = def.Initial
	}
	return &Projector{cfg: cfg, view: cfg.Initial.clamped()}
}

// View returns the current view state.
func (p *Projector) View() ViewState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// Rotate nudges yaw and pitch. Pitch is clamped; yaw is not.
func (p *Projector) Rotate(dyaw, dpitch float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.view.Yaw += dyaw
	p.view.Pitch += dpitch
	p.view = p.view.clamped()
}

// SetZoom sets the magnification, clamped to [MinZoom, MaxZoom].
func (p *Projector) SetZoom(z float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.view.Zoom = z
	p.view = p.view.clamped()
}

// AdjustZoom changes the magnification by dz, clamped.
func (p *Projector) AdjustZoom(dz float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.view.Zoom += dz
	p.view = p.view.clamped()
}

// Apply runs one named command.
func (p *Projector) Apply(cmd Command) error {
	switch cmd {
	case RotateLeft:
		p.Rotate(-RotateStep, 0)
	case RotateRight:
		p.Rotate(RotateStep, 0)
	case RotateUp:
		p.Rotate(0, -RotateStep)
	case RotateDown:
		p.Rotate(0, RotateStep)
	case ZoomIn:
		p.AdjustZoom(ZoomStep)
	case ZoomOut:
		p.AdjustZoom(-ZoomStep)
	case ZoomInNear:
		p.SetZoom(ZoomNear)
	case ZoomOutFar:
		p.SetZoom(ZoomFar)
	case ResetView:
		p.mu.Lock()
		p.view = p.cfg.Initial.clamped()
		p.mu.Unlock()
	default:
		return fmt.Errorf("unknown view command %q", cmd)
	}
	return nil
}

// Project renders s under the current view. It does not modify s.
func (p *Projector) Project(s *depth.Sample) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.cfg.Width, p.cfg.Height))
	fill(img, backgroundColor)
	if s == nil || s.Validate() != nil {
		return img
	}

	t := newTransform(p.View(), s, p.cfg)
	for y := 0; y < s.Height; y += p.cfg.Stride {
		for x := 0; x < s.Width; x += p.cfg.Stride {
			px, py, d, ok := t.project(x, y, s.At(x, y))
			if !ok {
				continue
			}
			img.SetRGBA(px, py, PointColor(d))
		}
	}
	return img
}

// transform carries the per-call constants of one projection.
type transform struct {
	rot      mgl64.Mat3
	zoom     float64
	cx, cy   float64
	sw, sh   float64
	w, h     int
	mmScale  float64
	maxDepth float64
}

func newTransform(v ViewState, s *depth.Sample, cfg Config) transform {
	// Yaw about the vertical axis first, then pitch.
	rot := mgl64.Rotate3DX(v.Pitch).Mul3(mgl64.Rotate3DZ(v.Yaw))
	return transform{
		rot:      rot,
		zoom:     v.Zoom,
		cx:       float64(cfg.Width) / 2,
		cy:       float64(cfg.Height) / 2,
		sw:       float64(s.Width),
		sh:       float64(s.Height),
		w:        cfg.Width,
		h:        cfg.Height,
		mmScale:  float64(s.Scale),
		maxDepth: float64(cfg.MaxDepthMM),
	}
}

// project maps one sensor pixel to the raster. Both tangent arguments
// divide by the sensor width.
func (t transform) project(x, y int, raw uint16) (px, py int, depthM float64, ok bool) {
	if raw == 0 {
		return 0, 0, 0, false
	}
	mm := float64(raw) * t.mmScale
	if mm > t.maxDepth {
		return 0, 0, 0, false
	}
	depthM = mm / 1000
	p := mgl64.Vec3{
		depthM * math.Tan((float64(x)-t.sw/2)/t.sw),
		-depthM,
		depthM * math.Tan((float64(y)-t.sh/2)/t.sw),
	}
	r := t.rot.Mul3x1(p)
	rz := r[2] + cameraOffset
	if rz <= nearPlane {
		return 0, 0, 0, false
	}
	px = int(t.cx + r[0]/rz*t.zoom)
	py = int(t.cy + r[1]/rz*t.zoom)
	if px < 0 || px >= t.w || py < 0 || py >= t.h {
		return 0, 0, 0, false
	}
	return px, py, depthM, true
}

func fill(img *image.RGBA, c color.RGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
}
