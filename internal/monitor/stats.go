// Package monitor tracks receive statistics and serves them, with the live
// frames, over HTTP.
package monitor

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/depthcast/internal/timeutil"
	"github.com/banshee-data/depthcast/internal/transport"
)

// maxHistory bounds the snapshots kept for charts and plots.
const maxHistory = 3600

// TypeSnapshot is one frame type's activity over a stats interval.
type TypeSnapshot struct {
	Frames         int64   `json:"frames"`
	Bytes          int64   `json:"bytes"`
	DecodeFailures int64   `json:"decode_failures"`
	FPS            float64 `json:"fps"`
	MeanGapMS      float64 `json:"mean_gap_ms"`
	JitterMS       float64 `json:"jitter_ms"`
}

// Snapshot is the receiver's activity over one stats interval.
type Snapshot struct {
	Timestamp      time.Time               `json:"timestamp"`
	Duration       time.Duration           `json:"duration"`
	PacketsPerSec  float64                 `json:"packets_per_sec"`
	MBPerSec       float64                 `json:"mb_per_sec"`
	Dropped        int64                   `json:"dropped"`
	ForwardDropped int64                   `json:"forward_dropped"`
	Types          map[string]TypeSnapshot `json:"types"`
}

type typeCounters struct {
	frames   int64
	bytes    int64
	failures int64
	last     time.Time
	gaps     []float64
}

// Stats counts packets at the transport layer and frames after decoding.
// It is a transport.Observer and a stream.FrameObserver.
type Stats struct {
	clock timeutil.Clock

	mu             sync.Mutex
	packets        int64
	bytes          int64
	dropped        int64
	forwardDropped int64
	types          map[transport.FrameType]*typeCounters
	lastReset      time.Time
	startTime      time.Time
	latest         *Snapshot
	history        []Snapshot
}

// NewStats creates a Stats reading time from clock (RealClock when nil).
func NewStats(clock timeutil.Clock) *Stats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	now := clock.Now()
	return &Stats{
		clock:     clock,
		types:     make(map[transport.FrameType]*typeCounters),
		lastReset: now,
		startTime: now,
	}
}

func (s *Stats) counters(t transport.FrameType) *typeCounters {
	c, ok := s.types[t]
	if !ok {
		c = &typeCounters{}
		s.types[t] = c
	}
	return c
}

func (s *Stats) PacketReceived(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets++
	s.bytes += int64(bytes)
}

func (s *Stats) PacketDropped(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(err, transport.ErrForwardQueueFull) {
		s.forwardDropped++
		return
	}
	s.dropped++
}

func (s *Stats) FrameDecoded(t transport.FrameType, bytes int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters(t)
	c.frames++
	c.bytes += int64(bytes)
	if !c.last.IsZero() {
		c.gaps = append(c.gaps, at.Sub(c.last).Seconds()*1000)
	}
	c.last = at
}

func (s *Stats) DecodeFailed(t transport.FrameType, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters(t).failures++
}

// Roll closes the current interval: it returns its snapshot, appends it to
// the history and resets the counters.
func (s *Stats) Roll() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	d := now.Sub(s.lastReset)
	secs := d.Seconds()
	if secs <= 0 {
		secs = 1
	}
	snap := Snapshot{
		Timestamp:      now,
		Duration:       d,
		PacketsPerSec:  float64(s.packets) / secs,
		MBPerSec:       float64(s.bytes) / secs / (1024 * 1024),
		Dropped:        s.dropped,
		ForwardDropped: s.forwardDropped,
		Types:          make(map[string]TypeSnapshot, len(s.types)),
	}
	for t, c := range s.types {
		ts := TypeSnapshot{
			Frames:         c.frames,
			Bytes:          c.bytes,
			DecodeFailures: c.failures,
			FPS:            float64(c.frames) / secs,
		}
		if len(c.gaps) > 0 {
			ts.MeanGapMS, ts.JitterMS = stat.MeanStdDev(c.gaps, nil)
		}
		if len(c.gaps) < 2 {
			ts.JitterMS = 0
		}
		snap.Types[t.String()] = ts
		c.frames, c.bytes, c.failures, c.gaps = 0, 0, 0, c.gaps[:0]
	}

	s.packets, s.bytes, s.dropped, s.forwardDropped = 0, 0, 0, 0
	s.lastReset = now
	s.latest = &snap
	s.history = append(s.history, snap)
	if len(s.history) > maxHistory {
		s.history = append(s.history[:0:0], s.history[len(s.history)-maxHistory:]...)
	}
	return snap
}

// Latest returns the last rolled snapshot, or nil before the first Roll.
func (s *Stats) Latest() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// History returns a copy of the rolled snapshots, oldest first.
func (s *Stats) History() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.history...)
}

// Uptime is the time since NewStats.
func (s *Stats) Uptime() time.Duration {
	return s.clock.Since(s.startTime)
}

// LogStats rolls the interval and logs it when anything happened.
func (s *Stats) LogStats() Snapshot {
	snap := s.Roll()
	if len(snap.Types) == 0 && snap.Dropped == 0 && snap.PacketsPerSec == 0 {
		return snap
	}
	var parts []string
	for _, t := range transport.FrameTypes() {
		ts, ok := snap.Types[t.String()]
		if !ok {
			continue
		}
		part := fmt.Sprintf("%s %.1f fps", t, ts.FPS)
		if ts.DecodeFailures > 0 {
			part += fmt.Sprintf(" (%d bad)", ts.DecodeFailures)
		}
		parts = append(parts, part)
	}
	msg := fmt.Sprintf("Receive stats (/sec): %.2f MB, %.1f packets", snap.MBPerSec, snap.PacketsPerSec)
	if len(parts) > 0 {
		msg += "; " + strings.Join(parts, ", ")
	}
	if snap.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped", snap.Dropped)
	}
	if snap.ForwardDropped > 0 {
		msg += fmt.Sprintf(", %d dropped on forward", snap.ForwardDropped)
	}
	log.Print(msg)
	return snap
}
