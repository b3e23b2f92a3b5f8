// Package camera defines the frame source the sender captures from, with a
// synthetic scene generator and a directory-of-PNGs player standing in for
// vendor SDKs.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/banshee-data/depthcast/internal/depth"
	"github.com/banshee-data/depthcast/internal/timeutil"
)

var (
	// ErrTimeout is returned when no frame set arrives within the timeout.
	ErrTimeout = errors.New("camera: timed out waiting for frames")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("camera: closed")
)

// FrameSet is one synchronized capture. Color and IR are nil when the
// source does not provide them.
type FrameSet struct {
	Index    uint64
	Captured time.Time
	Depth    *depth.Sample
	Color    image.Image
	IR       image.Image
}

// Camera yields frame sets.
type Camera interface {
	// WaitForFrames blocks until the next frame set, ctx is done, or
	// timeout elapses (ErrTimeout).
	WaitForFrames(ctx context.Context, timeout time.Duration) (*FrameSet, error)
	Close() error
}

// Options selects and configures a source.
type Options struct {
	// Kind is "synthetic" or "pngdir".
	Kind string
	// Dir is the frame directory for pngdir.
	Dir    string
	Width  int
	Height int
	FPS    float64
	Clock  timeutil.Clock
}

// Open builds the camera named by opts.Kind.
func Open(opts Options) (Camera, error) {
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	switch opts.Kind {
	case "", "synthetic":
		return NewSynthetic(opts), nil
	case "pngdir":
		return NewPNGDir(opts)
	}
	return nil, fmt.Errorf("unknown camera %q (want synthetic or pngdir)", opts.Kind)
}

// pacer spaces frames at a fixed rate on a clock.
type pacer struct {
	clock    timeutil.Clock
	interval time.Duration
	next     time.Time
}

func newPacer(clock timeutil.Clock, fps float64) pacer {
	return pacer{clock: clock, interval: time.Duration(float64(time.Second) / fps)}
}

// wait blocks until the next frame is due. If that is further off than
// timeout it waits out the timeout and returns ErrTimeout.
func (p *pacer) wait(ctx context.Context, timeout time.Duration) (time.Time, error) {
	now := p.clock.Now()
	if p.next.IsZero() {
		p.next = now
	}
	due := p.next.Sub(now)
	if timeout > 0 && due > timeout {
		if err := timeutil.Sleep(ctx, p.clock, timeout); err != nil {
			return time.Time{}, err
		}
		return time.Time{}, ErrTimeout
	}
	if err := timeutil.Sleep(ctx, p.clock, due); err != nil {
		return time.Time{}, err
	}
	at := p.clock.Now()
	p.next = p.next.Add(p.interval)
	if p.next.Before(at) {
		// Fell behind; don't try to catch up with a burst.
		p.next = at.Add(p.interval)
	}
	return at, nil
}
