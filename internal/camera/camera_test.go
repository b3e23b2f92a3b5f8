package camera

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthcast/internal/codec"
	"github.com/banshee-data/depthcast/internal/depth"
	"github.com/banshee-data/depthcast/internal/timeutil"
)

var epoch = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

// advanceWhileBlocked steps the mock clock whenever the camera is waiting on it.
func advanceWhileBlocked(ctx context.Context, clock *timeutil.MockClock, step time.Duration) {
	go func() {
		for ctx.Err() == nil {
			if clock.Waiters() > 0 {
				clock.Advance(step)
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func TestSyntheticFrames(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	cam, err := Open(Options{Kind: "synthetic", FPS: 10, Clock: clock})
	require.NoError(t, err)
	defer cam.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	advanceWhileBlocked(ctx, clock, 100*time.Millisecond)

	first, err := cam.WaitForFrames(ctx, time.Second)
	require.NoError(t, err)
	second, err := cam.WaitForFrames(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, first.Depth.Validate())
	assert.Equal(t, 640, first.Depth.Width)
	assert.Equal(t, uint64(1), second.Index)
	assert.Equal(t, 100*time.Millisecond, second.Captured.Sub(first.Captured))
	assert.NotNil(t, first.Color)
	assert.NotNil(t, first.IR)

	// The box is in view and nearer than the wall.
	assert.Greater(t, first.Depth.ValidCount(), 0)
	found := false
	for _, v := range first.Depth.Data {
		if v == syntheticBoxMM {
			found = true
			break
		}
	}
	assert.True(t, found)
}

func TestSyntheticDeterministic(t *testing.T) {
	a := SyntheticDepth(64, 48, 7)
	b := SyntheticDepth(64, 48, 7)
	assert.Equal(t, a.Data, b.Data)
	c := SyntheticDepth(64, 48, 37)
	assert.NotEqual(t, a.Data, c.Data, "the box moves")
}

func TestWaitForFramesTimeout(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	cam := NewSynthetic(Options{FPS: 0.5, Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	advanceWhileBlocked(ctx, clock, 100*time.Millisecond)

	_, err := cam.WaitForFrames(ctx, time.Second)
	require.NoError(t, err, "first frame is immediate")
	_, err = cam.WaitForFrames(ctx, 500*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout, "next frame is 2s away")
}

func TestWaitForFramesCancelled(t *testing.T) {
	cam := NewSynthetic(Options{FPS: 0.001, Clock: timeutil.NewMockClock(epoch)})
	ctx, cancel := context.WithCancel(context.Background())
	_, err := cam.WaitForFrames(ctx, 0)
	require.NoError(t, err)
	cancel()
	_, err = cam.WaitForFrames(ctx, 0)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

	require.NoError(t, cam.Close())
	_, err = cam.WaitForFrames(context.Background(), 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPNGDirLoops(t *testing.T) {
	dir := t.TempDir()
	c := codec.New(codec.DefaultOptions())
	for i, name := range []string{"b.png", "a.png"} {
		s := depth.NewSample(8, 6, 1)
		s.Data[0] = uint16(1000 * (i + 1))
		data, err := c.EncodeDepth(s)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	clock := timeutil.NewMockClock(epoch)
	cam, err := Open(Options{Kind: "pngdir", Dir: dir, FPS: 1000, Clock: clock})
	require.NoError(t, err)
	assert.Equal(t, 2, cam.(*PNGDir).Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	advanceWhileBlocked(ctx, clock, time.Millisecond)

	var got []uint16
	for i := 0; i < 3; i++ {
		fs, err := cam.WaitForFrames(ctx, time.Second)
		require.NoError(t, err)
		got = append(got, fs.Depth.Data[0])
		assert.Nil(t, fs.Color)
	}
	assert.Equal(t, []uint16{2000, 1000, 2000}, got, "a.png sorts first")
}

func TestPNGDirEmpty(t *testing.T) {
	_, err := NewPNGDir(Options{Dir: t.TempDir(), Clock: timeutil.NewMockClock(epoch), FPS: 1})
	assert.Error(t, err)
	_, err = NewPNGDir(Options{Dir: filepath.Join(t.TempDir(), "missing"), FPS: 1})
	assert.Error(t, err)
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open(Options{Kind: "realsense"})
	assert.Error(t, err)
}
