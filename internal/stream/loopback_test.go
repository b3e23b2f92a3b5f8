package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthcast/internal/camera"
	"github.com/banshee-data/depthcast/internal/mapper"
	"github.com/banshee-data/depthcast/internal/transport"
)

func smallCamera(t *testing.T) camera.Camera {
	t.Helper()
	cam, err := camera.Open(camera.Options{Kind: "synthetic", Width: 160, Height: 120, FPS: 60})
	require.NoError(t, err)
	t.Cleanup(func() { cam.Close() })
	return cam
}

func smallMap() mapper.Config {
	cfg := mapper.DefaultConfig()
	cfg.Width, cfg.Height = 160, 120
	return cfg
}

func waitFresh(t *testing.T, r *Receiver, types ...transport.FrameType) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, ft := range types {
			if _, ok := r.Frame(ft); !ok {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
}

func TestLoopbackDatagram(t *testing.T) {
	frames := &countingFrames{}
	r := NewReceiver(ReceiverConfig{Addr: "127.0.0.1:0", Transport: transport.Datagram, Frames: frames})
	require.NoError(t, r.Listen())
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rdone := make(chan error, 1)
	go func() { rdone <- r.Run(ctx) }()

	s := NewSender(SenderConfig{
		Addr:      r.Addr(),
		Transport: transport.Datagram,
		Streams:   DepthMode,
		Interval:  10 * time.Millisecond,
		Mapper:    smallMap(),
	}, smallCamera(t))
	sdone := make(chan error, 1)
	go func() { sdone <- s.Run(ctx) }()

	waitFresh(t, r, transport.FrameDepth, transport.FrameMap2D, transport.FrameRawDepth3D)
	raw, _ := r.Frame(transport.FrameRawDepth3D)
	assert.Equal(t, 160, raw.Depth.Width)
	assert.Equal(t, float32(1), raw.Depth.Scale)
	assert.Zero(t, frames.failures())

	cancel()
	assert.NoError(t, <-sdone)
	assert.NoError(t, <-rdone)
}

func TestLoopbackStreamWithModeSwitch(t *testing.T) {
	r := NewReceiver(ReceiverConfig{
		Addr:        "127.0.0.1:0",
		Transport:   transport.Stream,
		ReadTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, r.Listen())
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rdone := make(chan error, 1)
	go func() { rdone <- r.Run(ctx) }()

	s := NewSender(SenderConfig{
		Addr:       r.Addr(),
		Transport:  transport.Stream,
		Streams:    DepthMode,
		Switchable: true,
		Interval:   10 * time.Millisecond,
		Mapper:     smallMap(),
	}, smallCamera(t))
	sdone := make(chan error, 1)
	go func() { sdone <- s.Run(ctx) }()

	waitFresh(t, r, transport.FrameDepth, transport.FrameMap2D, transport.FrameRawDepth3D)
	_, ok := r.Frame(transport.FrameColor)
	assert.False(t, ok)

	require.NoError(t, r.SendCommand(transport.CommandColor))
	waitFresh(t, r, transport.FrameColor)
	assert.Equal(t, ColorMode, s.Streams())

	cancel()
	assert.NoError(t, <-sdone)
	assert.NoError(t, <-rdone)
}

func TestStreamReceiverSingleShot(t *testing.T) {
	r := NewReceiver(ReceiverConfig{
		Addr:        "127.0.0.1:0",
		Transport:   transport.Stream,
		ReadTimeout: 20 * time.Millisecond,
		SingleShot:  true,
	})
	require.NoError(t, r.Listen())
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rdone := make(chan error, 1)
	go func() { rdone <- r.Run(ctx) }()

	sctx, stop := context.WithCancel(ctx)
	s := NewSender(SenderConfig{
		Addr:      r.Addr(),
		Transport: transport.Stream,
		Streams:   NewStreamSet(transport.FrameRawDepth3D),
		Interval:  10 * time.Millisecond,
	}, smallCamera(t))
	sdone := make(chan error, 1)
	go func() { sdone <- s.Run(sctx) }()

	waitFresh(t, r, transport.FrameRawDepth3D)
	stop()
	require.NoError(t, <-sdone)

	select {
	case err := <-rdone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("single-shot receiver kept running after the sender left")
	}
}
