package pcap

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ReplayConfig configures Replay.
type ReplayConfig struct {
	// Port keeps only UDP packets sent to this port; zero keeps all.
	Port int
	// Speed scales the captured inter-packet gaps (2.0 replays twice as
	// fast). Zero or less means real time.
	Speed float64
}

// Handler receives each replayed UDP payload with its capture time.
type Handler func(datagram []byte, captured time.Time)

// Replay feeds the UDP payloads in path to h, sleeping between packets to
// reproduce the captured timing. It returns the number of payloads
// delivered.
func Replay(ctx context.Context, path string, cfg ReplayConfig, h Handler) (int, error) {
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read capture header %s: %w", path, err)
	}
	log.Printf("Capture replay: %s port=%d speed=%.1fx", path, cfg.Port, cfg.Speed)

	packets := gopacket.NewPacketSource(r, r.LinkType()).Packets()
	delivered := 0
	startTime := time.Now()
	var lastCapture time.Time

	for {
		var packet gopacket.Packet
		select {
		case <-ctx.Done():
			log.Printf("Capture replay stopping due to context cancellation (delivered %d datagrams)", delivered)
			return delivered, ctx.Err()
		case p, ok := <-packets:
			if !ok {
				log.Printf("Capture replay complete: %d datagrams in %v", delivered, time.Since(startTime))
				return delivered, nil
			}
			packet = p
		}

		captured := packet.Metadata().Timestamp
		if !lastCapture.IsZero() {
			gap := time.Duration(float64(captured.Sub(lastCapture)) / cfg.Speed)
			if gap > 0 {
				select {
				case <-ctx.Done():
					return delivered, ctx.Err()
				case <-time.After(gap):
				}
			}
		}
		lastCapture = captured

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if cfg.Port != 0 && int(udp.DstPort) != cfg.Port {
			continue
		}
		h(udp.Payload, captured)
		delivered++
	}
}
