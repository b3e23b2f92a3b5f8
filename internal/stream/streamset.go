// Package stream runs the sender and receiver pipelines: capture into a
// single-slot mailbox, derive and encode frames on a fixed tick, and on the
// far side decode into a staleness buffer for display.
package stream

import (
	"fmt"
	"strings"

	"github.com/banshee-data/depthcast/internal/transport"
)

// StreamSet is a set of frame types, one bit per type.
type StreamSet uint32

// NewStreamSet returns the set of the given types.
func NewStreamSet(types ...transport.FrameType) StreamSet {
	var s StreamSet
	for _, t := range types {
		if t.Valid() {
			s |= 1 << uint(t)
		}
	}
	return s
}

var (
	// ColorMode is what a switchable sender emits after CommandColor.
	ColorMode = NewStreamSet(transport.FrameColor)
	// DepthMode is what a switchable sender emits after CommandDepth.
	DepthMode = NewStreamSet(transport.FrameDepth, transport.FrameMap2D, transport.FrameRawDepth3D)
)

// ForCommand maps a mode command to its stream set.
func ForCommand(cmd transport.Command) (StreamSet, bool) {
	switch cmd {
	case transport.CommandColor:
		return ColorMode, true
	case transport.CommandDepth:
		return DepthMode, true
	}
	return 0, false
}

// Has reports whether t is in the set.
func (s StreamSet) Has(t transport.FrameType) bool {
	return t.Valid() && s&(1<<uint(t)) != 0
}

// Types lists the members in wire order, which is also the send order
// within one tick.
func (s StreamSet) Types() []transport.FrameType {
	var out []transport.FrameType
	for _, t := range transport.FrameTypes() {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s StreamSet) String() string {
	types := s.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ",")
}

// ParseStreamSet parses a comma-separated list of frame type names, such as
// "depth,map,raw3d".
func ParseStreamSet(s string) (StreamSet, error) {
	var set StreamSet
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := transport.ParseFrameType(part)
		if err != nil {
			return 0, err
		}
		set |= NewStreamSet(t)
	}
	if set == 0 {
		return 0, fmt.Errorf("empty stream set %q", s)
	}
	return set, nil
}
