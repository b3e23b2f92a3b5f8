package stream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/depthcast/internal/codec"
	"github.com/banshee-data/depthcast/internal/depth"
	"github.com/banshee-data/depthcast/internal/monitoring"
	"github.com/banshee-data/depthcast/internal/staleness"
	"github.com/banshee-data/depthcast/internal/timeutil"
	"github.com/banshee-data/depthcast/internal/transport"
	"github.com/banshee-data/depthcast/internal/transport/pcap"
)

// ErrNoSession is returned by SendCommand when no sender is connected.
var ErrNoSession = errors.New("stream: no sender connected")

// FrameObserver is told about every frame after payload decoding.
type FrameObserver interface {
	FrameDecoded(t transport.FrameType, bytes int, at time.Time)
	DecodeFailed(t transport.FrameType, err error)
}

type noopFrameObserver struct{}

func (noopFrameObserver) FrameDecoded(transport.FrameType, int, time.Time) {}
func (noopFrameObserver) DecodeFailed(transport.FrameType, error)          {}

// Frame is one decoded frame. Image is set for the 8-bit types and Depth
// for RAW_DEPTH_3D. Payload keeps the encoded bytes as received.
type Frame struct {
	Type     transport.FrameType
	ID       int32
	Received time.Time
	Image    image.Image
	Depth    *depth.Sample
	Payload  []byte
}

// Clone deep-copies f.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	if f.Image != nil {
		c.Image = codec.Clone(f.Image)
	}
	if f.Depth != nil {
		c.Depth = f.Depth.Clone()
	}
	c.Payload = append([]byte(nil), f.Payload...)
	return &c
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	Addr      string
	Transport transport.Kind

	MaxPayload  int
	ReadTimeout time.Duration
	// Staleness is how long a frame stays visible. Zero picks the default
	// for the transport.
	Staleness time.Duration
	// SingleShot makes a stream receiver exit after its first session
	// instead of accepting the next sender.
	SingleShot bool
	RcvBuf     int

	Observer transport.Observer
	Frames   FrameObserver
	// Tap sees every framed packet as a datagram, for forwarding and
	// recording.
	Tap func(datagram []byte)

	Clock         timeutil.Clock
	SocketFactory transport.SocketFactory
}

// Receiver accepts frames from one sender at a time, decodes them and keeps
// the latest per type in a staleness buffer.
type Receiver struct {
	cfg     ReceiverConfig
	codec   *codec.Codec
	frames  *staleness.Buffer[transport.FrameType, *Frame]
	dropLog *monitoring.Throttle

	mu       sync.Mutex
	dgram    *transport.DatagramReceiver
	listener *transport.StreamListener
	session  *transport.StreamSession
}

// NewReceiver applies defaults. Call Listen, or Replay, next.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = transport.DefaultMaxPayload
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = staleness.DatagramTimeout
		if cfg.Transport == transport.Stream {
			cfg.Staleness = staleness.StreamTimeout
		}
	}
	if cfg.Frames == nil {
		cfg.Frames = noopFrameObserver{}
	}
	return &Receiver{
		cfg:     cfg,
		codec:   codec.New(codec.DefaultOptions()),
		frames:  staleness.New[transport.FrameType](cfg.Staleness, (*Frame).Clone, cfg.Clock),
		dropLog: monitoring.NewThrottle(5 * time.Second),
	}
}

// Listen binds the configured address.
func (r *Receiver) Listen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.Transport == transport.Stream {
		ln, err := transport.ListenStream(r.cfg.Addr, transport.StreamConfig{
			IdleTimeout: r.cfg.ReadTimeout,
			MaxPayload:  r.cfg.MaxPayload,
			Observer:    r.cfg.Observer,
		})
		if err != nil {
			return err
		}
		r.listener = ln
		return nil
	}
	rx, err := transport.ListenDatagram(r.cfg.Addr, transport.DatagramConfig{
		ReadTimeout: r.cfg.ReadTimeout,
		MaxPayload:  r.cfg.MaxPayload,
		RcvBuf:      r.cfg.RcvBuf,
		Observer:    r.cfg.Observer,
		Tap:         r.cfg.Tap,
	}, r.cfg.SocketFactory)
	if err != nil {
		return err
	}
	r.dgram = rx
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (r *Receiver) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.listener != nil:
		return r.listener.Addr().String()
	case r.dgram != nil:
		return r.dgram.LocalAddr().String()
	}
	return ""
}

// Run serves the bound socket until ctx is done. It returns nil on
// cancellation and on the end of a single-shot session.
func (r *Receiver) Run(ctx context.Context) error {
	r.mu.Lock()
	dgram, ln := r.dgram, r.listener
	r.mu.Unlock()
	switch {
	case ln != nil:
		return r.ServeStream(ctx, ln)
	case dgram != nil:
		return r.ServeDatagrams(ctx, dgram)
	}
	return errors.New("stream: receiver is not listening")
}

// ServeDatagrams reads until ctx is done or the socket fails.
func (r *Receiver) ServeDatagrams(ctx context.Context, rx *transport.DatagramReceiver) error {
	log.Printf("Listening for UDP frames on %v", rx.LocalAddr())
	for {
		pkt, ok, err := rx.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ok {
			r.HandlePacket(pkt)
		}
	}
}

// ServeStream accepts senders one at a time.
func (r *Receiver) ServeStream(ctx context.Context, ln *transport.StreamListener) error {
	for {
		log.Printf("Waiting for connection on %v...", ln.Addr())
		sess, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Printf("Sender connected from %v", sess.RemoteAddr())
		err = r.serveSession(ctx, sess)
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("Connection lost: %v", err)
		if r.cfg.SingleShot {
			return nil
		}
	}
}

func (r *Receiver) serveSession(ctx context.Context, sess *transport.StreamSession) error {
	r.mu.Lock()
	r.session = sess
	r.mu.Unlock()
	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer func() {
		stop()
		r.mu.Lock()
		r.session = nil
		r.mu.Unlock()
		_ = sess.Close()
	}()

	for {
		pkt, ok, err := sess.Receive(ctx)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if r.cfg.Tap != nil && len(pkt.Payload) <= transport.MaxDatagramPayload {
			r.cfg.Tap(transport.EncodePacket(pkt.Payload, pkt.FrameID, pkt.Type))
		}
		r.HandlePacket(pkt)
	}
}

// Replay feeds a recorded capture through the decode path instead of a
// socket.
func (r *Receiver) Replay(ctx context.Context, path string, port int, speed float64) (int, error) {
	observer := r.cfg.Observer
	n, err := pcap.Replay(ctx, path, pcap.ReplayConfig{Port: port, Speed: speed}, func(datagram []byte, _ time.Time) {
		pkt, err := transport.ParseDatagram(datagram, r.cfg.MaxPayload)
		if err != nil {
			if observer != nil {
				observer.PacketDropped(err)
			}
			return
		}
		if observer != nil {
			observer.PacketReceived(len(datagram))
		}
		pkt.Payload = append([]byte(nil), pkt.Payload...)
		r.HandlePacket(pkt)
	})
	if ctx.Err() != nil {
		return n, nil
	}
	return n, err
}

// HandlePacket decodes pkt and stores it. It reports whether the frame was
// usable; a decode failure is counted and otherwise ignored.
func (r *Receiver) HandlePacket(pkt transport.Packet) bool {
	now := r.cfg.Clock.Now()
	f := &Frame{Type: pkt.Type, ID: pkt.FrameID, Received: now, Payload: pkt.Payload}
	var err error
	if pkt.Type == transport.FrameRawDepth3D {
		f.Depth, err = r.codec.DecodeDepth(pkt.Payload)
	} else {
		f.Image, err = r.codec.Decode(pkt.Payload)
	}
	if err != nil {
		r.cfg.Frames.DecodeFailed(pkt.Type, err)
		r.dropLog.Logf("Failed to decode %v frame %d: %v", pkt.Type, pkt.FrameID, err)
		return false
	}
	r.frames.Update(pkt.Type, f)
	r.cfg.Frames.FrameDecoded(pkt.Type, len(pkt.Payload), now)
	return true
}

// Frame returns a copy of the latest fresh frame of type t.
func (r *Receiver) Frame(t transport.FrameType) (*Frame, bool) {
	return r.frames.Get(t)
}

// Fresh lists the frame types with a fresh frame, in wire order.
func (r *Receiver) Fresh() []transport.FrameType {
	types := r.frames.Fresh()
	slices.Sort(types)
	return types
}

// SendCommand forwards a mode command to the connected stream sender.
func (r *Receiver) SendCommand(cmd transport.Command) error {
	r.mu.Lock()
	sess := r.session
	r.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}
	if err := sess.SendCommand(cmd); err != nil {
		return fmt.Errorf("send %v command: %w", cmd, err)
	}
	return nil
}

// Close releases the bound socket.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.dgram != nil {
		err = multierr.Append(err, r.dgram.Close())
		r.dgram = nil
	}
	if r.listener != nil {
		err = multierr.Append(err, r.listener.Close())
		r.listener = nil
	}
	return err
}
