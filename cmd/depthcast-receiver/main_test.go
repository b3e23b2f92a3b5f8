package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthcast/internal/transport"
	"github.com/banshee-data/depthcast/internal/transport/pcap"
)

func TestParsePort(t *testing.T) {
	tests := []struct {
		args    []string
		want    int
		wantErr bool
	}{
		{args: []string{"5005"}, want: 5005},
		{args: []string{"65535"}, want: 65535},
		{args: nil, wantErr: true},
		{args: []string{"0"}, wantErr: true},
		{args: []string{"65536"}, wantErr: true},
		{args: []string{"udp"}, wantErr: true},
		{args: []string{"5005", "5006"}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := parsePort(tt.args)
		if tt.wantErr {
			assert.Error(t, err, "args %v", tt.args)
			continue
		}
		require.NoError(t, err, "args %v", tt.args)
		assert.Equal(t, tt.want, got)
	}
}

func TestTapFuncNilWithoutSinks(t *testing.T) {
	assert.Nil(t, tapFunc(nil, nil))
}

func TestTapFuncRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tap.pcap")
	rec, err := pcap.NewRecorder(path, pcap.RecorderConfig{Port: 5005})
	require.NoError(t, err)

	tap := tapFunc(nil, rec)
	require.NotNil(t, tap)
	tap(transport.EncodePacket([]byte("abc"), 1, transport.FrameDepth))
	tap(transport.EncodePacket([]byte("def"), 2, transport.FrameDepth))
	require.NoError(t, rec.Close())
	assert.Equal(t, 2, rec.Count())

	var got []string
	n, err := pcap.Replay(context.Background(), path, pcap.ReplayConfig{Port: 5005},
		func(datagram []byte, _ time.Time) {
			pkt, err := transport.ParseDatagram(datagram, transport.DefaultMaxPayload)
			require.NoError(t, err)
			got = append(got, string(pkt.Payload))
		})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"abc", "def"}, got)
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "udp", *transportName)
	assert.Equal(t, 1.0, *replaySpeed)
	assert.Empty(t, *replayFile)
}
