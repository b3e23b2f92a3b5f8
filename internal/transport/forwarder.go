package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/depthcast/internal/monitoring"
)

// ErrForwardQueueFull is reported to the Observer when a datagram is
// dropped because the forward queue is full.
var ErrForwardQueueFull = errors.New("transport: forward queue full")

// Forwarder tees raw datagrams to a second viewer without ever blocking the
// receive loop.
type Forwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	observer    Observer
	logInterval time.Duration
	address     string

	closeOnce sync.Once
	done      chan struct{}
}

// NewForwarder dials addr. queue bounds the number of datagrams waiting to
// be written; logInterval sets how often write failures are summarised.
func NewForwarder(addr string, queue int, observer Observer, logInterval time.Duration) (*Forwarder, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	if queue <= 0 {
		queue = 1000
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &Forwarder{
		conn:        conn,
		channel:     make(chan []byte, queue),
		observer:    observerOrNoop(observer),
		logInterval: logInterval,
		address:     raddr.String(),
		done:        make(chan struct{}),
	}, nil
}

// Start runs the writer goroutine until ctx is done or Close is called.
func (f *Forwarder) Start(ctx context.Context) {
	go func() {
		failed := 0
		var lastErr error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case datagram := <-f.channel:
				if _, err := f.conn.Write(datagram); err != nil {
					failed++
					lastErr = err
				}
			case <-ticker.C:
				if failed > 0 {
					monitoring.Logf("Dropped %d forwarded datagrams due to errors (latest: %v)", failed, lastErr)
					failed = 0
					lastErr = nil
				}
			}
		}
	}()
	monitoring.Logf("Forwarding datagrams to %s", f.address)
}

// ForwardAsync queues a copy of datagram. If the queue is full the datagram
// is dropped and reported to the Observer.
func (f *Forwarder) ForwardAsync(datagram []byte) {
	cp := append([]byte(nil), datagram...)
	select {
	case f.channel <- cp:
	default:
		f.observer.PacketDropped(ErrForwardQueueFull)
	}
}

// Queued returns how many datagrams are waiting to be written.
func (f *Forwarder) Queued() int {
	return len(f.channel)
}

// Close stops the writer and closes the socket.
func (f *Forwarder) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return f.conn.Close()
}
