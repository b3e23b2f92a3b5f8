package stream

import (
	"image"
	"sync"

	"github.com/banshee-data/depthcast/internal/camera"
	"github.com/banshee-data/depthcast/internal/depth"
)

// Slot holds the most recent value from a producer. Storing overwrites;
// loading never blocks and never consumes, so a slow consumer simply skips
// intermediate values.
type Slot[T any] struct {
	mu          sync.Mutex
	value       T
	seq         uint64
	lastRead    uint64
	overwritten uint64
}

// Store replaces the held value.
func (s *Slot[T]) Store(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq > s.lastRead {
		s.overwritten++
	}
	s.value = v
	s.seq++
}

// Load returns the held value and its sequence number (starting at 1).
// ok is false until the first Store.
func (s *Slot[T]) Load() (v T, seq uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == 0 {
		return v, 0, false
	}
	s.lastRead = s.seq
	return s.value, s.seq, true
}

// Overwritten counts values replaced before anyone loaded them.
func (s *Slot[T]) Overwritten() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overwritten
}

// LatestFrames is the capture side's last known frame per source stream.
type LatestFrames struct {
	Depth Slot[*depth.Sample]
	Color Slot[image.Image]
	IR    Slot[image.Image]
}

// Store files each part of fs into its slot. Missing parts leave the
// previous value in place.
func (l *LatestFrames) Store(fs *camera.FrameSet) {
	if fs == nil {
		return
	}
	if fs.Depth != nil {
		l.Depth.Store(fs.Depth)
	}
	if fs.Color != nil {
		l.Color.Store(fs.Color)
	}
	if fs.IR != nil {
		l.IR.Store(fs.IR)
	}
}
