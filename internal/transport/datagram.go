package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/depthcast/internal/monitoring"
)

// DatagramSender writes one frame per UDP datagram.
type DatagramSender struct {
	conn net.Conn
	buf  []byte
}

// DialDatagram connects a UDP socket to addr.
func DialDatagram(addr string) (*DatagramSender, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create UDP socket: %w", err)
	}
	return &DatagramSender{conn: conn, buf: make([]byte, 0, MaxDatagram)}, nil
}

// Send writes header and payload as a single datagram. Frames that cannot
// fit in one datagram fail with ErrDatagramTooLarge; callers treat that as
// a lost frame.
func (s *DatagramSender) Send(payload []byte, frameID int32, t FrameType) error {
	if err := validatePayload(payload, t); err != nil {
		return err
	}
	if len(payload) > MaxDatagramPayload {
		return fmt.Errorf("%w: %v payload of %d bytes", ErrDatagramTooLarge, t, len(payload))
	}
	s.buf = AppendHeader(s.buf[:0], Header{FrameID: frameID, Type: t, Size: int32(len(payload))})
	s.buf = append(s.buf, payload...)
	if _, err := s.conn.Write(s.buf); err != nil {
		return fmt.Errorf("send %v frame %d: %w", t, frameID, err)
	}
	return nil
}

// LocalAddr returns the sending socket's address.
func (s *DatagramSender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *DatagramSender) Close() error {
	return s.conn.Close()
}

// DatagramConfig configures a DatagramReceiver.
type DatagramConfig struct {
	// ReadTimeout bounds one Receive call. Defaults to one second.
	ReadTimeout time.Duration
	// MaxPayload is the declared-size ceiling. Defaults to DefaultMaxPayload.
	MaxPayload int
	// RcvBuf is the requested OS receive buffer; zero leaves the OS default.
	RcvBuf int
	// Observer counts accepted and rejected datagrams.
	Observer Observer
	// Tap sees every raw datagram before parsing. The slice is only valid
	// for the duration of the call.
	Tap func(datagram []byte)
}

// DatagramReceiver reads and validates framed datagrams.
type DatagramReceiver struct {
	sock     DatagramSocket
	cfg      DatagramConfig
	observer Observer
	buf      []byte
}

// ListenDatagram binds addr through factory (UDPSocketFactory when nil).
func ListenDatagram(addr string, cfg DatagramConfig, factory SocketFactory) (*DatagramReceiver, error) {
	if factory == nil {
		factory = UDPSocketFactory{}
	}
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	sock, err := factory.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if cfg.RcvBuf > 0 {
		if err := sock.SetReadBuffer(cfg.RcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", cfg.RcvBuf, err)
		}
	}
	return NewDatagramReceiver(sock, cfg), nil
}

// NewDatagramReceiver wraps an already-bound socket.
func NewDatagramReceiver(sock DatagramSocket, cfg DatagramConfig) *DatagramReceiver {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
	return &DatagramReceiver{
		sock:     sock,
		cfg:      cfg,
		observer: observerOrNoop(cfg.Observer),
		buf:      make([]byte, ReadBufferSize),
	}
}

// Receive waits up to ReadTimeout for one datagram. It returns ok=false
// with a nil error for timeouts and malformed datagrams. A non-nil error
// means the socket is unusable or ctx is done.
func (r *DatagramReceiver) Receive(ctx context.Context) (Packet, bool, error) {
	if err := ctx.Err(); err != nil {
		return Packet{}, false, err
	}
	_ = r.sock.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
	n, from, err := r.sock.ReadFromUDP(r.buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Packet{}, false, nil
		}
		if ctx.Err() != nil {
			return Packet{}, false, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return Packet{}, false, fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}
		r.observer.PacketDropped(err)
		monitoring.Debugf("UDP read error: %v", err)
		return Packet{}, false, nil
	}

	raw := r.buf[:n]
	if r.cfg.Tap != nil {
		r.cfg.Tap(raw)
	}
	pkt, err := ParseDatagram(raw, r.cfg.MaxPayload)
	if err != nil {
		r.observer.PacketDropped(err)
		monitoring.Debugf("dropping datagram from %v: %v", from, err)
		return Packet{}, false, nil
	}
	pkt.Payload = append([]byte(nil), pkt.Payload...)
	r.observer.PacketReceived(n)
	return pkt, true, nil
}

// LocalAddr returns the bound address.
func (r *DatagramReceiver) LocalAddr() net.Addr {
	return r.sock.LocalAddr()
}

func (r *DatagramReceiver) Close() error {
	return r.sock.Close()
}
