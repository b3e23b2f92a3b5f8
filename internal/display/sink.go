package display

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/banshee-data/depthcast/internal/codec"
	"github.com/banshee-data/depthcast/internal/fsutil"
	"github.com/banshee-data/depthcast/internal/monitoring"
	"github.com/banshee-data/depthcast/internal/timeutil"
)

// Sink consumes composed mosaics. Show must not keep img after returning.
type Sink interface {
	Show(img *image.RGBA) error
}

// FileSink rewrites one JPEG on disk per mosaic, replacing it atomically so
// a viewer polling the file never reads a partial image.
type FileSink struct {
	Path  string
	Codec *codec.Codec
}

func (s FileSink) Show(img *image.RGBA) error {
	data, err := s.Codec.Encode(img, codec.JPEG)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.Path, data, 0o644)
}

// Latest keeps the most recent mosaic as JPEG for HTTP clients. Waiters are
// woken on every new mosaic.
type Latest struct {
	codec *codec.Codec

	mu      sync.Mutex
	jpeg    []byte
	seq     uint64
	updated chan struct{}
}

// NewLatest returns an empty Latest.
func NewLatest(c *codec.Codec) *Latest {
	return &Latest{codec: c, updated: make(chan struct{})}
}

func (l *Latest) Show(img *image.RGBA) error {
	data, err := l.codec.Encode(img, codec.JPEG)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.jpeg = data
	l.seq++
	close(l.updated)
	l.updated = make(chan struct{})
	l.mu.Unlock()
	return nil
}

// JPEG returns the latest mosaic, its sequence number, and a channel closed
// when a newer one arrives. data is nil before the first mosaic.
func (l *Latest) JPEG() (data []byte, seq uint64, next <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.jpeg, l.seq, l.updated
}

// Loop composes a mosaic from src every interval and shows it on each sink
// until ctx is done. Sink failures are logged and do not stop the loop.
func Loop(ctx context.Context, interval time.Duration, clock timeutil.Clock, c *Compositor, src Source, sinks ...Sink) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	failures := monitoring.NewThrottle(5 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			img := c.Compose(src)
			for _, s := range sinks {
				if err := s.Show(img); err != nil {
					failures.Logf("display sink failed: %v", err)
				}
			}
		}
	}
}
