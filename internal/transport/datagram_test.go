package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveOne(t *testing.T, r *DatagramReceiver) Packet {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		pkt, ok, err := r.Receive(ctx)
		require.NoError(t, err)
		if ok {
			return pkt
		}
	}
	t.Fatal("no datagram received")
	return Packet{}
}

func TestDatagramLoopbackRoundTrip(t *testing.T) {
	obs := &recordingObserver{}
	r, err := ListenDatagram("127.0.0.1:0", DatagramConfig{ReadTimeout: 200 * time.Millisecond, RcvBuf: 4 << 20, Observer: obs}, nil)
	require.NoError(t, err)
	defer r.Close()

	s, err := DialDatagram(r.LocalAddr().String())
	require.NoError(t, err)
	defer s.Close()

	for i, size := range []int{1, 1000, 32 * 1024, MaxDatagramPayload} {
		payload := bytes.Repeat([]byte{byte(i + 1)}, size)
		require.NoError(t, s.Send(payload, int32(i), FrameDepth), "size %d", size)

		pkt := receiveOne(t, r)
		assert.Equal(t, int32(i), pkt.FrameID)
		assert.Equal(t, FrameDepth, pkt.Type)
		assert.True(t, bytes.Equal(payload, pkt.Payload), "size %d payload mismatch", size)
	}
	received, dropped := obs.counts()
	assert.Equal(t, 4, received)
	assert.Zero(t, dropped)
}

func TestDatagramSendTooLarge(t *testing.T) {
	s, err := DialDatagram("127.0.0.1:9")
	require.NoError(t, err)
	defer s.Close()

	err = s.Send(make([]byte, MaxDatagramPayload+1), 1, FrameColor)
	assert.ErrorIs(t, err, ErrDatagramTooLarge)
	assert.ErrorIs(t, s.Send(nil, 1, FrameColor), ErrInvalidSize)
}

func TestDatagramReceiveMock(t *testing.T) {
	sock := NewMockDatagramSocket(16)
	obs := &recordingObserver{}
	var tapped [][]byte
	r := NewDatagramReceiver(sock, DatagramConfig{
		Observer: obs,
		Tap:      func(d []byte) { tapped = append(tapped, append([]byte(nil), d...)) },
	})
	ctx := context.Background()

	// Timeout: no frame, no error.
	_, ok, err := r.Receive(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Malformed: no frame, counted as a drop.
	sock.Queue([]byte{1, 2, 3})
	_, ok, err = r.Receive(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, obs.droppedWith(ErrShortHeader))

	good := EncodePacket([]byte("hello"), 3, FrameIR)
	sock.Queue(good)
	pkt, ok, err := r.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), pkt.Payload)

	// The payload must not alias the receive buffer.
	sock.Queue(EncodePacket([]byte("XXXXX"), 4, FrameIR))
	_, _, _ = r.Receive(ctx)
	assert.Equal(t, []byte("hello"), pkt.Payload)

	assert.Len(t, tapped, 3)
	assert.Equal(t, good, tapped[1])
}

func TestDatagramReceiveClosed(t *testing.T) {
	sock := NewMockDatagramSocket(1)
	r := NewDatagramReceiver(sock, DatagramConfig{})
	require.NoError(t, r.Close())

	_, ok, err := r.Receive(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestDatagramReceiveCancelled(t *testing.T) {
	r := NewDatagramReceiver(NewMockDatagramSocket(1), DatagramConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := r.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListenDatagramFactory(t *testing.T) {
	sock := NewMockDatagramSocket(1)
	f := &MockSocketFactory{Socket: sock}
	r, err := ListenDatagram("127.0.0.1:5005", DatagramConfig{RcvBuf: 1 << 20}, f)
	require.NoError(t, err)
	assert.Equal(t, 1<<20, sock.ReadBuffer())
	require.Len(t, f.Addrs(), 1)
	assert.Equal(t, 5005, f.Addrs()[0].Port)
	assert.Equal(t, sock.LocalAddr(), r.LocalAddr())

	_, err = ListenDatagram("127.0.0.1:5005", DatagramConfig{}, &MockSocketFactory{Err: errors.New("bind failed")})
	assert.Error(t, err)

	_, err = ListenDatagram("not an address", DatagramConfig{}, f)
	assert.Error(t, err)
}
