package stream

import (
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthcast/internal/camera"
	"github.com/banshee-data/depthcast/internal/depth"
)

func TestSlotEmpty(t *testing.T) {
	var s Slot[int]
	_, seq, ok := s.Load()
	assert.False(t, ok)
	assert.Zero(t, seq)
}

func TestSlotKeepsLatest(t *testing.T) {
	var s Slot[int]
	s.Store(1)
	s.Store(2)
	s.Store(3)

	v, seq, ok := s.Load()
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, uint64(3), seq)
	assert.Equal(t, uint64(2), s.Overwritten())

	// Loading does not consume.
	v, seq, ok = s.Load()
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, uint64(3), seq)

	s.Store(4)
	assert.Equal(t, uint64(2), s.Overwritten(), "a value that was read is not counted as overwritten")
}

func TestSlotConcurrent(t *testing.T) {
	var s Slot[int]
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 1000; i++ {
			s.Store(i)
		}
	}()
	go func() {
		defer wg.Done()
		last := uint64(0)
		for i := 0; i < 1000; i++ {
			if _, seq, ok := s.Load(); ok {
				assert.GreaterOrEqual(t, seq, last)
				last = seq
			}
		}
	}()
	wg.Wait()

	v, _, _ := s.Load()
	assert.Equal(t, 1000, v)
}

func TestLatestFramesStore(t *testing.T) {
	var l LatestFrames
	d := depth.NewSample(4, 4, 1)
	l.Store(&camera.FrameSet{Depth: d})
	l.Store(nil)

	got, _, ok := l.Depth.Load()
	require.True(t, ok)
	assert.Same(t, d, got)
	_, _, ok = l.Color.Load()
	assert.False(t, ok)

	c := image.NewRGBA(image.Rect(0, 0, 2, 2))
	l.Store(&camera.FrameSet{Color: c})
	_, seq, _ := l.Depth.Load()
	assert.Equal(t, uint64(1), seq, "a frame set without depth keeps the previous depth")
}
