package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/depthcast/internal/monitoring"
)

// StreamSender writes frames back to back on a TCP connection and listens
// for mode commands coming the other way.
type StreamSender struct {
	conn net.Conn

	mu  sync.Mutex
	buf []byte

	cmdOnce  sync.Once
	commands chan Command
}

// DialStream connects to addr, giving up after timeout.
func DialStream(ctx context.Context, addr string, timeout time.Duration) (*StreamSender, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return NewStreamSender(conn), nil
}

// NewStreamSender wraps an established connection.
func NewStreamSender(conn net.Conn) *StreamSender {
	return &StreamSender{conn: conn, buf: make([]byte, 0, HeaderSize)}
}

// Send writes header and payload contiguously. Any write failure ends the
// session and is reported wrapped in ErrSessionClosed.
func (s *StreamSender) Send(payload []byte, frameID int32, t FrameType) error {
	if err := validatePayload(payload, t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = AppendHeader(s.buf[:0], Header{FrameID: frameID, Type: t, Size: int32(len(payload))})
	bufs := net.Buffers{s.buf, payload}
	if _, err := bufs.WriteTo(s.conn); err != nil {
		return fmt.Errorf("%w: send %v frame %d: %v", ErrSessionClosed, t, frameID, err)
	}
	return nil
}

// Commands returns a channel of mode commands read from the peer. The
// channel is closed when the connection fails or is closed, which the
// sender treats as session loss. Unknown command bytes are skipped.
func (s *StreamSender) Commands() <-chan Command {
	s.cmdOnce.Do(func() {
		s.commands = make(chan Command, 4)
		go s.readCommands()
	})
	return s.commands
}

func (s *StreamSender) readCommands() {
	defer close(s.commands)
	var b [1]byte
	for {
		if _, err := io.ReadFull(s.conn, b[:]); err != nil {
			monitoring.Debugf("command reader stopped: %v", err)
			return
		}
		cmd := Command(b[0])
		if !cmd.Valid() {
			monitoring.Debugf("ignoring unknown command byte %d", b[0])
			continue
		}
		select {
		case s.commands <- cmd:
		default:
			// Only the newest mode matters; make room for it.
			select {
			case <-s.commands:
			default:
			}
			s.commands <- cmd
		}
	}
}

// RemoteAddr returns the receiver's address.
func (s *StreamSender) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *StreamSender) Close() error {
	return s.conn.Close()
}

// StreamConfig configures receive-side stream sessions.
type StreamConfig struct {
	// IdleTimeout bounds the wait for the next header to start. When it
	// expires with nothing read, Receive reports no frame. Defaults to 1s.
	IdleTimeout time.Duration
	// FrameTimeout bounds the rest of a frame once its header has started.
	// Expiry mid-frame ends the session. Defaults to 10s.
	FrameTimeout time.Duration
	// MaxPayload is the declared-size ceiling. Defaults to DefaultMaxPayload.
	MaxPayload int
	Observer   Observer
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Second
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = 10 * time.Second
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = DefaultMaxPayload
	}
	c.Observer = observerOrNoop(c.Observer)
	return c
}

// StreamListener accepts stream sessions.
type StreamListener struct {
	ln  *net.TCPListener
	cfg StreamConfig
}

// ListenStream binds a TCP listener on addr.
func ListenStream(addr string, cfg StreamConfig) (*StreamListener, error) {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve TCP address: %w", err)
	}
	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on TCP address: %w", err)
	}
	return &StreamListener{ln: ln, cfg: cfg.withDefaults()}, nil
}

// Accept blocks until a sender connects or ctx is done.
func (l *StreamListener) Accept(ctx context.Context) (*StreamSession, error) {
	_ = l.ln.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = l.ln.SetDeadline(time.Now()) })
	defer stop()
	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	return NewStreamSession(conn, l.cfg), nil
}

// Addr returns the bound address.
func (l *StreamListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *StreamListener) Close() error {
	return l.ln.Close()
}

// StreamSession is the receive side of one TCP connection.
type StreamSession struct {
	conn net.Conn
	cfg  StreamConfig

	wmu sync.Mutex
}

// NewStreamSession wraps an accepted connection.
func NewStreamSession(conn net.Conn, cfg StreamConfig) *StreamSession {
	return &StreamSession{conn: conn, cfg: cfg.withDefaults()}
}

// Receive reads the next frame. It returns ok=false with a nil error when
// no frame started within IdleTimeout, or when a well-formed frame carries
// an unknown type (the payload is consumed so the stream stays aligned).
// Any other failure ends the session: a declared size outside the ceiling
// leaves no way to find the next header.
func (s *StreamSession) Receive(ctx context.Context) (Packet, bool, error) {
	if err := ctx.Err(); err != nil {
		return Packet{}, false, err
	}
	var hdr [HeaderSize]byte
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	n, err := s.conn.Read(hdr[:])
	if n == 0 && err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Packet{}, false, nil
		}
		return Packet{}, false, s.fatal(ctx, err)
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.FrameTimeout))
	if n < HeaderSize {
		if _, err := io.ReadFull(s.conn, hdr[n:]); err != nil {
			return Packet{}, false, s.fatal(ctx, err)
		}
	}
	h, _ := DecodeHeader(hdr[:])
	if err := h.checkSize(s.cfg.MaxPayload); err != nil {
		s.cfg.Observer.PacketDropped(err)
		return Packet{}, false, fmt.Errorf("%w: %w", ErrSessionClosed, err)
	}
	payload := make([]byte, h.Size)
	if _, err := io.ReadFull(s.conn, payload); err != nil {
		return Packet{}, false, s.fatal(ctx, err)
	}
	if !h.Type.Valid() {
		err := fmt.Errorf("%w: %d", ErrUnknownType, int32(h.Type))
		s.cfg.Observer.PacketDropped(err)
		monitoring.Debugf("skipping stream frame: %v", err)
		return Packet{}, false, nil
	}
	s.cfg.Observer.PacketReceived(HeaderSize + len(payload))
	return Packet{Header: h, Payload: payload}, true, nil
}

func (s *StreamSession) fatal(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrSessionClosed, err)
}

// SendCommand asks the sender to switch modes.
func (s *StreamSession) SendCommand(cmd Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("invalid command %d", byte(cmd))
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.conn.Write([]byte{byte(cmd)}); err != nil {
		return fmt.Errorf("%w: send command: %v", ErrSessionClosed, err)
	}
	return nil
}

// RemoteAddr returns the sender's address.
func (s *StreamSession) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close ends the session. It is safe to call from another goroutine to
// unblock Receive.
func (s *StreamSession) Close() error {
	return s.conn.Close()
}
