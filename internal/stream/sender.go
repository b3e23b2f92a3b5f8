package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/depthcast/internal/camera"
	"github.com/banshee-data/depthcast/internal/codec"
	"github.com/banshee-data/depthcast/internal/depth"
	"github.com/banshee-data/depthcast/internal/mapper"
	"github.com/banshee-data/depthcast/internal/monitoring"
	"github.com/banshee-data/depthcast/internal/timeutil"
	"github.com/banshee-data/depthcast/internal/transport"
)

// Session is an open connection to the receiver.
type Session interface {
	transport.Sender
}

// commandSource is implemented by sessions that carry mode commands back
// from the receiver.
type commandSource interface {
	Commands() <-chan transport.Command
}

// DialFunc opens a session.
type DialFunc func(ctx context.Context) (Session, error)

// SenderConfig configures a Sender.
type SenderConfig struct {
	Addr      string
	Transport transport.Kind
	Streams   StreamSet
	// Switchable lets a stream receiver change Streams with mode commands.
	Switchable bool

	Interval         time.Duration
	CaptureTimeout   time.Duration
	ReconnectBackoff time.Duration
	DialTimeout      time.Duration

	Mapper mapper.Config
	Codec  codec.Options
	Clock  timeutil.Clock

	// Dial overrides how sessions are opened.
	Dial DialFunc
}

// SenderStats are cumulative counters.
type SenderStats struct {
	Captured     uint64 `json:"captured"`
	FramesSent   uint64 `json:"frames_sent"`
	BytesSent    uint64 `json:"bytes_sent"`
	SendErrors   uint64 `json:"send_errors"`
	EncodeErrors uint64 `json:"encode_errors"`
	Sessions     uint64 `json:"sessions"`
	Overwritten  uint64 `json:"overwritten"`
}

type encoded struct {
	seq     uint64
	payload []byte
}

// Sender captures from a camera and streams the configured frame types to
// one receiver.
type Sender struct {
	cfg    SenderConfig
	cam    camera.Camera
	id     uuid.UUID
	latest LatestFrames
	mapper *mapper.Mapper
	codec  *codec.Codec

	streams atomic.Uint32
	frameID int32
	cache   map[transport.FrameType]encoded

	captured     atomic.Uint64
	framesSent   atomic.Uint64
	bytesSent    atomic.Uint64
	sendErrors   atomic.Uint64
	encodeErrors atomic.Uint64
	sessions     atomic.Uint64

	captureLog *monitoring.Throttle
	sendLog    *monitoring.Throttle
}

// NewSender applies defaults and returns a Sender reading from cam.
func NewSender(cfg SenderConfig, cam camera.Camera) *Sender {
	if cfg.Streams == 0 {
		cfg.Streams = DepthMode
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 66 * time.Millisecond
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 5 * time.Second
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 2 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Mapper == (mapper.Config{}) {
		cfg.Mapper = mapper.DefaultConfig()
	}
	s := &Sender{
		cfg:        cfg,
		cam:        cam,
		id:         uuid.New(),
		mapper:     mapper.New(cfg.Mapper),
		codec:      codec.New(cfg.Codec),
		cache:      make(map[transport.FrameType]encoded),
		captureLog: monitoring.NewThrottle(5 * time.Second),
		sendLog:    monitoring.NewThrottle(5 * time.Second),
	}
	if s.cfg.Dial == nil {
		s.cfg.Dial = s.dial
	}
	s.streams.Store(uint32(cfg.Streams))
	return s
}

// ID identifies this sender run in logs.
func (s *Sender) ID() uuid.UUID {
	return s.id
}

// Streams returns the frame types currently being sent.
func (s *Sender) Streams() StreamSet {
	return StreamSet(s.streams.Load())
}

// SetStreams changes the frame types sent from the next tick on.
func (s *Sender) SetStreams(set StreamSet) {
	s.streams.Store(uint32(set))
}

// Stats returns a snapshot of the counters.
func (s *Sender) Stats() SenderStats {
	return SenderStats{
		Captured:     s.captured.Load(),
		FramesSent:   s.framesSent.Load(),
		BytesSent:    s.bytesSent.Load(),
		SendErrors:   s.sendErrors.Load(),
		EncodeErrors: s.encodeErrors.Load(),
		Sessions:     s.sessions.Load(),
		Overwritten:  s.latest.Depth.Overwritten() + s.latest.Color.Overwritten(),
	}
}

// Run captures and sends until ctx is done. It returns nil on a clean
// shutdown; any other return is fatal, such as a datagram socket that could
// not be created or a camera that was closed.
func (s *Sender) Run(ctx context.Context) error {
	log.Printf("Sender %s streaming %s over %v to %s every %v", s.id, s.Streams(), s.cfg.Transport, s.cfg.Addr, s.cfg.Interval)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.captureLoop(gctx) })
	g.Go(func() error { return s.sendLoop(gctx) })
	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func (s *Sender) captureLoop(ctx context.Context) error {
	for {
		fs, err := s.cam.WaitForFrames(ctx, s.cfg.CaptureTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, camera.ErrClosed) {
				return err
			}
			s.captureLog.Logf("Capture failed: %v", err)
			continue
		}
		s.latest.Store(fs)
		s.captured.Add(1)
	}
}

func (s *Sender) dial(ctx context.Context) (Session, error) {
	if s.cfg.Transport == transport.Stream {
		return transport.DialStream(ctx, s.cfg.Addr, s.cfg.DialTimeout)
	}
	return transport.DialDatagram(s.cfg.Addr)
}

func (s *Sender) sendLoop(ctx context.Context) error {
	for {
		sess, err := s.connect(ctx)
		if err != nil {
			return err
		}
		s.sessions.Add(1)
		err = s.serve(ctx, sess)
		sess.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.cfg.Transport == transport.Datagram {
			return err
		}
		log.Printf("Connection lost: %v. Retrying in %.0f seconds...", err, s.cfg.ReconnectBackoff.Seconds())
		if err := timeutil.Sleep(ctx, s.cfg.Clock, s.cfg.ReconnectBackoff); err != nil {
			return err
		}
	}
}

// connect opens a session. Stream connects are retried with backoff until
// ctx is done; a datagram socket failure is returned as is.
func (s *Sender) connect(ctx context.Context) (Session, error) {
	for {
		sess, err := s.cfg.Dial(ctx)
		if err == nil {
			log.Printf("Connected to %s (%v)", s.cfg.Addr, s.cfg.Transport)
			return sess, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if s.cfg.Transport == transport.Datagram {
			return nil, err
		}
		log.Printf("Connection failed: %v. Retrying in %.0f seconds...", err, s.cfg.ReconnectBackoff.Seconds())
		if err := timeutil.Sleep(ctx, s.cfg.Clock, s.cfg.ReconnectBackoff); err != nil {
			return nil, err
		}
	}
}

func (s *Sender) serve(ctx context.Context, sess Session) error {
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var cmds <-chan transport.Command
	if cs, ok := sess.(commandSource); ok && s.cfg.Switchable {
		cmds = cs.Commands()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-cmds:
			if !ok {
				return fmt.Errorf("%w: receiver closed the connection", transport.ErrSessionClosed)
			}
			if set, ok := ForCommand(cmd); ok {
				log.Printf("Switching to %v mode (%s)", cmd, set)
				s.SetStreams(set)
			}
		case <-ticker.C():
			if err := s.Tick(sess); err != nil {
				return err
			}
		}
	}
}

// Tick encodes and sends one frame of every type in the current stream set,
// back to back in wire order, from whatever the capture loop last stored.
// Only session-fatal errors are returned; a frame that fails to encode or
// to send as a datagram is counted and skipped.
func (s *Sender) Tick(sess transport.Sender) error {
	for _, t := range s.Streams().Types() {
		payload, ok, err := s.encode(t)
		if err != nil {
			s.encodeErrors.Add(1)
			s.sendLog.Logf("Encoding %v frame failed: %v", t, err)
			continue
		}
		if !ok {
			continue
		}
		s.frameID++
		if err := sess.Send(payload, s.frameID, t); err != nil {
			if errors.Is(err, transport.ErrSessionClosed) {
				return err
			}
			s.sendErrors.Add(1)
			s.sendLog.Logf("Sending %v frame failed: %v", t, err)
			continue
		}
		s.framesSent.Add(1)
		s.bytesSent.Add(uint64(len(payload) + transport.HeaderSize))
	}
	return nil
}

// encode returns the payload for t built from the latest capture, reusing
// the previous encoding when the source frame has not changed. ok is false
// when the camera has not produced that source yet.
func (s *Sender) encode(t transport.FrameType) ([]byte, bool, error) {
	var seq uint64
	var build func() ([]byte, error)

	switch t {
	case transport.FrameColor, transport.FrameIR:
		slot := &s.latest.Color
		if t == transport.FrameIR {
			slot = &s.latest.IR
		}
		img, n, ok := slot.Load()
		if !ok {
			return nil, false, nil
		}
		seq = n
		build = func() ([]byte, error) { return s.codec.Encode(img, codec.JPEG) }
	default:
		d, n, ok := s.latest.Depth.Load()
		if !ok {
			return nil, false, nil
		}
		seq = n
		build = s.depthEncoder(t, d)
	}

	if c, ok := s.cache[t]; ok && c.seq == seq {
		return c.payload, true, nil
	}
	payload, err := build()
	if err != nil {
		return nil, false, err
	}
	s.cache[t] = encoded{seq: seq, payload: payload}
	return payload, true, nil
}

func (s *Sender) depthEncoder(t transport.FrameType, d *depth.Sample) func() ([]byte, error) {
	switch t {
	case transport.FrameDepth:
		return func() ([]byte, error) { return s.codec.Encode(depth.Colorize(d), codec.JPEG) }
	case transport.FrameMap2D:
		return func() ([]byte, error) { return s.codec.Encode(s.mapper.Update(d), codec.JPEG) }
	case transport.FrameRawDepth3D:
		return func() ([]byte, error) { return s.codec.EncodeDepth(d) }
	}
	return func() ([]byte, error) { return nil, fmt.Errorf("%w: %v", transport.ErrUnknownType, t) }
}
