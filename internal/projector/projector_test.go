package projector

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthcast/internal/depth"
)

func level(zoom float64) ViewState {
	return ViewState{Yaw: 0, Pitch: 0, Zoom: zoom}
}

func TestProjectIdentityView(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Initial = level(150)
	p := New(cfg)

	// 600×450 keeps the optical center on the stride-3 lattice.
	s := depth.NewSample(600, 450, 1)
	s.Set(300, 225, 1000)

	tr := newTransform(p.View(), s, cfg)
	px, py, d, ok := tr.project(300, 225, 1000)
	require.True(t, ok)
	assert.Equal(t, cfg.Width/2, px, "a point on the optical axis stays on the center column")
	// With no pitch the forward axis lands on screen y: cy - depth/offset*zoom.
	assert.Equal(t, 360-75, py)
	assert.Equal(t, 1.0, d)

	img := p.Project(s)
	assert.Equal(t, PointColor(1.0), img.RGBAAt(px, py))
	assert.Equal(t, backgroundColor, img.RGBAAt(0, 0))
}

func TestProjectIdentityKeepsLeftRight(t *testing.T) {
	cfg := DefaultConfig()
	s := depth.NewSample(600, 450, 1)
	tr := newTransform(level(150), s, cfg)

	left, _, _, okL := tr.project(150, 225, 1500)
	right, _, _, okR := tr.project(450, 225, 1500)
	require.True(t, okL)
	require.True(t, okR)
	assert.Less(t, left, cfg.Width/2)
	assert.Greater(t, right, cfg.Width/2)
	assert.InDelta(t, cfg.Width/2-left, right-cfg.Width/2, 1, "symmetric about the axis")
}

func TestProjectZoomMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	s := depth.NewSample(600, 450, 1)
	offset := func(zoom float64) float64 {
		v := DefaultView()
		v.Zoom = zoom
		px, py, _, ok := newTransform(v, s, cfg).project(420, 300, 1200)
		require.True(t, ok)
		return math.Hypot(float64(px)-640, float64(py)-360)
	}

	prev := offset(MinZoom)
	for _, z := range []float64{100, 150, 250, 400} {
		cur := offset(z)
		assert.Greater(t, cur, prev, "zoom %v", z)
		prev = cur
	}
}

func TestProjectSkipsInvalidDepth(t *testing.T) {
	tr := newTransform(DefaultView(), depth.NewSample(600, 450, 1), DefaultConfig())
	for _, raw := range []uint16{0, 5001, 65535} {
		_, _, _, ok := tr.project(300, 225, raw)
		assert.False(t, ok, "raw %d", raw)
	}
}

func TestProjectNearPlane(t *testing.T) {
	// Pitched all the way over, a 5 m point on the axis swings behind the camera.
	v := ViewState{Pitch: MaxPitch, Zoom: 150}
	tr := newTransform(v, depth.NewSample(600, 450, 1), DefaultConfig())
	_, _, _, ok := tr.project(300, 225, 5000)
	assert.False(t, ok)
}

func TestProjectLeavesInputUntouched(t *testing.T) {
	s := depth.NewSample(60, 45, 1)
	for i := range s.Data {
		s.Data[i] = uint16(500 + i)
	}
	before := s.Clone()
	New(DefaultConfig()).Project(s)
	assert.Equal(t, before.Data, s.Data)
}

func TestRotateClampsPitchOnly(t *testing.T) {
	p := New(Config{Initial: level(150)})
	for i := 0; i < 40; i++ {
		p.Rotate(RotateStep, RotateStep)
	}
	v := p.View()
	assert.Equal(t, MaxPitch, v.Pitch)
	assert.InDelta(t, 4.0, v.Yaw, 1e-9, "yaw is unbounded")

	p.Rotate(0, -10)
	assert.Equal(t, MinPitch, p.View().Pitch)
}

func TestZoomClamp(t *testing.T) {
	p := New(DefaultConfig())
	p.SetZoom(1000)
	assert.Equal(t, MaxZoom, p.View().Zoom)
	p.SetZoom(1)
	assert.Equal(t, MinZoom, p.View().Zoom)
	p.AdjustZoom(ZoomStep)
	assert.Equal(t, MinZoom+ZoomStep, p.View().Zoom)
}

func TestApply(t *testing.T) {
	p := New(DefaultConfig())
	start := p.View()

	tests := []struct {
		cmd  Command
		want ViewState
	}{
		{RotateRight, ViewState{Yaw: start.Yaw + RotateStep, Pitch: start.Pitch, Zoom: start.Zoom}},
		{RotateLeft, start},
		{RotateDown, ViewState{Yaw: start.Yaw, Pitch: start.Pitch + RotateStep, Zoom: start.Zoom}},
		{RotateUp, start},
		{ZoomIn, ViewState{Yaw: start.Yaw, Pitch: start.Pitch, Zoom: start.Zoom + ZoomStep}},
		{ZoomOut, start},
		{ZoomInNear, ViewState{Yaw: start.Yaw, Pitch: start.Pitch, Zoom: ZoomNear}},
		{ZoomOutFar, ViewState{Yaw: start.Yaw, Pitch: start.Pitch, Zoom: ZoomFar}},
		{ResetView, start},
	}
	for _, tt := range tests {
		require.NoError(t, p.Apply(tt.cmd), tt.cmd)
		got := p.View()
		assert.InDelta(t, tt.want.Yaw, got.Yaw, 1e-9, tt.cmd)
		assert.InDelta(t, tt.want.Pitch, got.Pitch, 1e-9, tt.cmd)
		assert.InDelta(t, tt.want.Zoom, got.Zoom, 1e-9, tt.cmd)
	}

	assert.Error(t, p.Apply("spin"))
}

func TestConcurrentViewAndProject(t *testing.T) {
	p := New(Config{Width: 64, Height: 36})
	s := depth.NewSample(30, 30, 1)
	for i := range s.Data {
		s.Data[i] = 1500
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			p.Rotate(RotateStep, 0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			p.Project(s)
		}
	}()
	wg.Wait()
	assert.InDelta(t, 20.0, p.View().Yaw, 1e-6)
}
