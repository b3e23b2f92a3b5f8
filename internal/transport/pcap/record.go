// Package pcap records received datagrams to a capture file and replays
// them later in place of a live socket.
package pcap

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/multierr"

	"github.com/banshee-data/depthcast/internal/timeutil"
)

// snapLen covers the largest possible Ethernet+IPv4+UDP frame.
const snapLen = 262144

var (
	recordSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	recordDstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Port is written as the UDP destination port so replay can filter on it.
	Port int
	// Source is the sender address written into each packet. Defaults to
	// 127.0.0.1:0.
	Source *net.UDPAddr
	Clock  timeutil.Clock
}

// Recorder writes datagrams as Ethernet/IPv4/UDP packets to a pcap file.
type Recorder struct {
	mu    sync.Mutex
	f     *os.File
	bw    *bufio.Writer
	w     *pcapgo.Writer
	cfg   RecorderConfig
	ipID  uint16
	count int
}

// NewRecorder creates (or truncates) path and writes the pcap header.
func NewRecorder(path string, cfg RecorderConfig) (*Recorder, error) {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Source == nil {
		cfg.Source = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	w := pcapgo.NewWriter(bw)
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return &Recorder{f: f, bw: bw, w: w, cfg: cfg}, nil
}

// Write appends one datagram. It is safe for concurrent use.
func (r *Recorder) Write(datagram []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ipID++

	eth := &layers.Ethernet{
		SrcMAC:       recordSrcMAC,
		DstMAC:       recordDstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       r.ipID,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    r.cfg.Source.IP.To4(),
		DstIP:    net.IPv4(127, 0, 0, 1).To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(r.cfg.Source.Port),
		DstPort: layers.UDPPort(r.cfg.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(datagram)); err != nil {
		return fmt.Errorf("serialize datagram: %w", err)
	}
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     r.cfg.Clock.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := r.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write capture packet: %w", err)
	}
	r.count++
	return nil
}

// Count returns how many datagrams have been written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close flushes and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return multierr.Combine(r.bw.Flush(), r.f.Close())
}
