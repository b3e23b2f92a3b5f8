// Package transport frames encoded images for datagram and stream sockets.
//
// Every frame on the wire is a 12-byte little-endian header followed by the
// payload:
//
//	[frame_id int32][frame_type int32][size int32][payload: size bytes]
//
// Over UDP one frame is one datagram. Over TCP frames are written back to
// back and the reader loops until exactly size bytes have arrived.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// HeaderSize is the fixed header length.
const HeaderSize = 12

const (
	// DefaultMaxPayload is the sanity ceiling applied to declared sizes.
	DefaultMaxPayload = 5_000_000
	// MaxDatagram is the largest UDP payload an IPv4 socket will send.
	MaxDatagram = 65507
	// MaxDatagramPayload is the largest frame payload that fits one datagram.
	MaxDatagramPayload = MaxDatagram - HeaderSize
	// ReadBufferSize bounds a single datagram read.
	ReadBufferSize = 65536
)

var (
	ErrShortHeader      = errors.New("transport: short header")
	ErrInvalidSize      = errors.New("transport: non-positive payload size")
	ErrPayloadTooLarge  = errors.New("transport: payload exceeds ceiling")
	ErrSizeMismatch     = errors.New("transport: declared size does not match datagram")
	ErrUnknownType      = errors.New("transport: unknown frame type")
	ErrDatagramTooLarge = errors.New("transport: frame does not fit in one datagram")
	ErrSessionClosed    = errors.New("transport: session closed")
)

// FrameType tags the payload of a frame.
type FrameType int32

const (
	FrameColor FrameType = iota
	FrameDepth
	FrameIR
	FrameMap2D
	FrameRawDepth3D

	numFrameTypes
)

var frameTypeNames = [...]string{
	FrameColor:      "color",
	FrameDepth:      "depth",
	FrameIR:         "ir",
	FrameMap2D:      "map",
	FrameRawDepth3D: "raw3d",
}

// FrameTypes lists every frame type in wire order.
func FrameTypes() []FrameType {
	out := make([]FrameType, 0, numFrameTypes)
	for t := FrameColor; t < numFrameTypes; t++ {
		out = append(out, t)
	}
	return out
}

// Valid reports whether t is one of the defined frame types.
func (t FrameType) Valid() bool {
	return t >= 0 && t < numFrameTypes
}

func (t FrameType) String() string {
	if t.Valid() {
		return frameTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", int32(t))
}

// ParseFrameType accepts the names printed by String.
func ParseFrameType(s string) (FrameType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range frameTypeNames {
		if name == s {
			return FrameType(t), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Header is the fixed frame prefix.
type Header struct {
	FrameID int32
	Type    FrameType
	Size    int32
}

// AppendHeader appends the wire encoding of h to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.FrameID))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.Type))
	return binary.LittleEndian.AppendUint32(dst, uint32(h.Size))
}

// DecodeHeader reads the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	return Header{
		FrameID: int32(binary.LittleEndian.Uint32(b[0:4])),
		Type:    FrameType(int32(binary.LittleEndian.Uint32(b[4:8]))),
		Size:    int32(binary.LittleEndian.Uint32(b[8:12])),
	}, nil
}

// checkSize validates the declared size against the ceiling.
func (h Header) checkSize(maxPayload int) error {
	if h.Size <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, h.Size)
	}
	if int(h.Size) > maxPayload {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.Size, maxPayload)
	}
	return nil
}

// Packet is a parsed frame.
type Packet struct {
	Header
	Payload []byte
}

// EncodePacket returns header and payload as one contiguous buffer.
func EncodePacket(payload []byte, frameID int32, t FrameType) []byte {
	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = AppendHeader(buf, Header{FrameID: frameID, Type: t, Size: int32(len(payload))})
	return append(buf, payload...)
}

// ParseDatagram validates one received datagram. The returned payload
// aliases b. A maxPayload of zero or less means DefaultMaxPayload.
func ParseDatagram(b []byte, maxPayload int) (Packet, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	h, err := DecodeHeader(b)
	if err != nil {
		return Packet{}, err
	}
	if err := h.checkSize(maxPayload); err != nil {
		return Packet{}, err
	}
	if avail := len(b) - HeaderSize; int(h.Size) != avail {
		return Packet{}, fmt.Errorf("%w: header says %d, have %d", ErrSizeMismatch, h.Size, avail)
	}
	if !h.Type.Valid() {
		return Packet{}, fmt.Errorf("%w: %d", ErrUnknownType, int32(h.Type))
	}
	return Packet{Header: h, Payload: b[HeaderSize:]}, nil
}

// validatePayload checks an outgoing payload.
func validatePayload(payload []byte, t FrameType) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty %v payload", ErrInvalidSize, t)
	}
	if len(payload) > DefaultMaxPayload {
		return fmt.Errorf("%w: %v payload of %d bytes", ErrPayloadTooLarge, t, len(payload))
	}
	if !t.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownType, int32(t))
	}
	return nil
}

// Kind selects the socket type.
type Kind int

const (
	Datagram Kind = iota
	Stream
)

func (k Kind) String() string {
	if k == Stream {
		return "tcp"
	}
	return "udp"
}

// ParseKind accepts "udp" or "tcp".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "udp":
		return Datagram, nil
	case "tcp":
		return Stream, nil
	}
	return 0, fmt.Errorf("unknown transport %q (want udp or tcp)", s)
}

// Sender delivers framed payloads.
type Sender interface {
	Send(payload []byte, frameID int32, t FrameType) error
	Close() error
}

// Observer is told about every datagram or stream frame the receive side
// handles. Implementations must be safe for concurrent use.
type Observer interface {
	PacketReceived(bytes int)
	PacketDropped(reason error)
}

// noopObserver is the default when no Observer is supplied.
type noopObserver struct{}

func (noopObserver) PacketReceived(int)  {}
func (noopObserver) PacketDropped(error) {}

func observerOrNoop(o Observer) Observer {
	if o == nil {
		return noopObserver{}
	}
	return o
}
