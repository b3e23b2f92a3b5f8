package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwarderDelivers(t *testing.T) {
	dst, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer dst.Close()

	f, err := NewForwarder(dst.LocalAddr().String(), 8, nil, time.Second)
	require.NoError(t, err)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	datagram := EncodePacket([]byte("tee"), 5, FrameColor)
	f.ForwardAsync(datagram)
	datagram[HeaderSize] = 'X' // the forwarder must have its own copy

	require.NoError(t, dst.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, ReadBufferSize)
	n, _, err := dst.ReadFromUDP(buf)
	require.NoError(t, err)

	pkt, err := ParseDatagram(buf[:n], 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("tee"), pkt.Payload)
}

func TestForwarderDropsWhenFull(t *testing.T) {
	obs := &recordingObserver{}
	f, err := NewForwarder("127.0.0.1:9", 2, obs, time.Second)
	require.NoError(t, err)
	defer f.Close()

	// Not started, so nothing drains the queue.
	for i := 0; i < 5; i++ {
		f.ForwardAsync([]byte{byte(i)})
	}
	assert.Equal(t, 2, f.Queued())
	assert.Equal(t, 3, obs.droppedWith(ErrForwardQueueFull))
}

func TestForwarderBadAddress(t *testing.T) {
	_, err := NewForwarder("no-port", 1, nil, time.Second)
	assert.Error(t, err)
}
