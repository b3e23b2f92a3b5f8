package transport

import (
	"net"
	"sync"
	"time"
)

// DatagramSocket is the subset of *net.UDPConn the datagram receiver uses,
// so tests can substitute MockDatagramSocket.
type DatagramSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// SocketFactory opens datagram sockets.
type SocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (DatagramSocket, error)
}

// UDPSocketFactory opens real sockets with net.ListenUDP.
type UDPSocketFactory struct{}

// ListenUDP creates a new UDP socket.
func (UDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (DatagramSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockDatagramSocket is an in-memory DatagramSocket. Queued datagrams are
// returned in order; an empty queue times out after Wait, like a read
// deadline firing. It is safe for concurrent Queue and ReadFromUDP.
type MockDatagramSocket struct {
	// Wait is how long an empty read blocks before timing out.
	Wait time.Duration
	// From is reported as the sender of every datagram.
	From *net.UDPAddr

	packets   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	readBuffer   int
	readDeadline time.Time
}

// NewMockDatagramSocket returns a mock that can hold up to capacity queued
// datagrams.
func NewMockDatagramSocket(capacity int) *MockDatagramSocket {
	return &MockDatagramSocket{
		Wait:    5 * time.Millisecond,
		From:    &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000},
		packets: make(chan []byte, capacity),
		closed:  make(chan struct{}),
	}
}

// Queue appends a datagram for a later read. It copies data.
func (m *MockDatagramSocket) Queue(data []byte) {
	m.packets <- append([]byte(nil), data...)
}

// Pending returns how many queued datagrams have not been read.
func (m *MockDatagramSocket) Pending() int {
	return len(m.packets)
}

// ReadFromUDP returns the next queued datagram, truncated to len(b) as a
// real socket would.
func (m *MockDatagramSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	select {
	case <-m.closed:
		return 0, nil, net.ErrClosed
	default:
	}
	select {
	case p := <-m.packets:
		return copy(b, p), m.From, nil
	case <-m.closed:
		return 0, nil, net.ErrClosed
	case <-time.After(m.Wait):
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
}

func (m *MockDatagramSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBuffer = bytes
	return nil
}

// ReadBuffer returns the value last passed to SetReadBuffer.
func (m *MockDatagramSocket) ReadBuffer() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBuffer
}

func (m *MockDatagramSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readDeadline = t
	return nil
}

// Close makes every pending and future read fail with net.ErrClosed.
func (m *MockDatagramSocket) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *MockDatagramSocket) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}
}

// MockSocketFactory hands out a fixed socket, or Err.
type MockSocketFactory struct {
	Socket DatagramSocket
	Err    error

	mu    sync.Mutex
	addrs []*net.UDPAddr
}

func (f *MockSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (DatagramSocket, error) {
	f.mu.Lock()
	f.addrs = append(f.addrs, laddr)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Socket, nil
}

// Addrs returns every address ListenUDP was asked to bind.
func (f *MockSocketFactory) Addrs() []*net.UDPAddr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*net.UDPAddr(nil), f.addrs...)
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
