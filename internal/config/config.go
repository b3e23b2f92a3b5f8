package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/depthcast.defaults.json"

// Config holds the tunables shared by the sender and receiver binaries.
// Every field is optional; the Get* accessors supply defaults for anything
// the file leaves out, so partial configs are safe.
type Config struct {
	// Occupancy map
	MapWidth       *int     `json:"map_width,omitempty"`
	MapHeight      *int     `json:"map_height,omitempty"`
	MapMaxRangeM   *float64 `json:"map_max_range_m,omitempty"`
	MapMinRangeM   *float64 `json:"map_min_range_m,omitempty"`
	MapFOVDeg      *float64 `json:"map_fov_deg,omitempty"`
	MapStride      *int     `json:"map_stride,omitempty"`
	MapGridSpacing *int     `json:"map_grid_spacing,omitempty"`
	MapIconRadius  *int     `json:"map_icon_radius,omitempty"`

	// Point cloud projector
	ProjectorWidth      *int     `json:"projector_width,omitempty"`
	ProjectorHeight     *int     `json:"projector_height,omitempty"`
	ProjectorStride     *int     `json:"projector_stride,omitempty"`
	ProjectorMaxDepthMM *int     `json:"projector_max_depth_mm,omitempty"`
	ProjectorPitch      *float64 `json:"projector_pitch,omitempty"`
	ProjectorZoom       *float64 `json:"projector_zoom,omitempty"`

	// Transport
	MaxPayloadSize   *int    `json:"max_payload_size,omitempty"`
	DatagramTimeout  *string `json:"datagram_timeout,omitempty"` // duration string like "1s"
	StreamTimeout    *string `json:"stream_timeout,omitempty"`
	ReconnectBackoff *string `json:"reconnect_backoff,omitempty"`

	// Staleness windows
	DatagramStaleness *string `json:"datagram_staleness,omitempty"`
	StreamStaleness   *string `json:"stream_staleness,omitempty"`

	// Sender pacing and codec
	SendInterval   *string `json:"send_interval,omitempty"`
	CaptureTimeout *string `json:"capture_timeout,omitempty"`
	JPEGQuality    *int    `json:"jpeg_quality,omitempty"`
	PNGCompression *string `json:"png_compression,omitempty"` // default, none, fast, best

	// Receiver display and monitor
	DisplayInterval *string `json:"display_interval,omitempty"`
	StatsInterval   *string `json:"stats_interval,omitempty"`
	ForwardQueue    *int    `json:"forward_queue,omitempty"`
}

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json
// extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and that every duration string parses.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v *int) {
		if v != nil && *v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, *v))
		}
	}
	positive("map_width", c.MapWidth)
	positive("map_height", c.MapHeight)
	positive("map_stride", c.MapStride)
	positive("map_grid_spacing", c.MapGridSpacing)
	positive("projector_width", c.ProjectorWidth)
	positive("projector_height", c.ProjectorHeight)
	positive("max_payload_size", c.MaxPayloadSize)
	positive("forward_queue", c.ForwardQueue)

	if c.MapMaxRangeM != nil && *c.MapMaxRangeM <= 0 {
		errs = append(errs, fmt.Errorf("map_max_range_m must be positive, got %v", *c.MapMaxRangeM))
	}
	if c.MapMinRangeM != nil && c.MapMaxRangeM != nil && *c.MapMinRangeM >= *c.MapMaxRangeM {
		errs = append(errs, fmt.Errorf("map_min_range_m %v must be below map_max_range_m %v", *c.MapMinRangeM, *c.MapMaxRangeM))
	}
	if c.MapFOVDeg != nil && (*c.MapFOVDeg <= 0 || *c.MapFOVDeg >= 180) {
		errs = append(errs, fmt.Errorf("map_fov_deg must be in (0, 180), got %v", *c.MapFOVDeg))
	}
	if c.ProjectorStride != nil && (*c.ProjectorStride < 1 || *c.ProjectorStride > 8) {
		errs = append(errs, fmt.Errorf("projector_stride must be in [1, 8], got %d", *c.ProjectorStride))
	}
	if c.ProjectorMaxDepthMM != nil && (*c.ProjectorMaxDepthMM <= 0 || *c.ProjectorMaxDepthMM > 65535) {
		errs = append(errs, fmt.Errorf("projector_max_depth_mm must be in (0, 65535], got %d", *c.ProjectorMaxDepthMM))
	}
	if c.JPEGQuality != nil && (*c.JPEGQuality < 1 || *c.JPEGQuality > 100) {
		errs = append(errs, fmt.Errorf("jpeg_quality must be in [1, 100], got %d", *c.JPEGQuality))
	}
	if c.PNGCompression != nil {
		if _, err := parsePNGCompression(*c.PNGCompression); err != nil {
			errs = append(errs, err)
		}
	}

	for name, v := range map[string]*string{
		"datagram_timeout":   c.DatagramTimeout,
		"stream_timeout":     c.StreamTimeout,
		"reconnect_backoff":  c.ReconnectBackoff,
		"datagram_staleness": c.DatagramStaleness,
		"stream_staleness":   c.StreamStaleness,
		"send_interval":      c.SendInterval,
		"capture_timeout":    c.CaptureTimeout,
		"display_interval":   c.DisplayInterval,
		"stats_interval":     c.StatsInterval,
	} {
		if v == nil {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", name, *v, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, *v))
		}
	}
	return errors.Join(errs...)
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *Config) GetMapWidth() int            { return intOr(c.MapWidth, 640) }
func (c *Config) GetMapHeight() int           { return intOr(c.MapHeight, 480) }
func (c *Config) GetMapMaxRangeM() float64    { return floatOr(c.MapMaxRangeM, 4.0) }
func (c *Config) GetMapMinRangeM() float64    { return floatOr(c.MapMinRangeM, 0.2) }
func (c *Config) GetMapFOVDeg() float64       { return floatOr(c.MapFOVDeg, 60) }
func (c *Config) GetMapStride() int           { return intOr(c.MapStride, 4) }
func (c *Config) GetMapGridSpacing() int      { return intOr(c.MapGridSpacing, 50) }
func (c *Config) GetMapIconRadius() int       { return intOr(c.MapIconRadius, 5) }
func (c *Config) GetProjectorWidth() int      { return intOr(c.ProjectorWidth, 1280) }
func (c *Config) GetProjectorHeight() int     { return intOr(c.ProjectorHeight, 720) }
func (c *Config) GetProjectorStride() int     { return intOr(c.ProjectorStride, 3) }
func (c *Config) GetProjectorMaxDepthMM() int { return intOr(c.ProjectorMaxDepthMM, 5000) }
func (c *Config) GetProjectorPitch() float64  { return floatOr(c.ProjectorPitch, 0.5) }
func (c *Config) GetProjectorZoom() float64   { return floatOr(c.ProjectorZoom, 150) }
func (c *Config) GetMaxPayloadSize() int      { return intOr(c.MaxPayloadSize, 5_000_000) }
func (c *Config) GetJPEGQuality() int         { return intOr(c.JPEGQuality, 85) }
func (c *Config) GetForwardQueue() int        { return intOr(c.ForwardQueue, 1000) }

// GetDatagramTimeout is how long one datagram read blocks before the
// receive loop goes round again.
func (c *Config) GetDatagramTimeout() time.Duration {
	return durationOr(c.DatagramTimeout, time.Second)
}

// GetStreamTimeout bounds the wait for the first header byte on a stream
// session.
func (c *Config) GetStreamTimeout() time.Duration {
	return durationOr(c.StreamTimeout, time.Second)
}

func (c *Config) GetReconnectBackoff() time.Duration {
	return durationOr(c.ReconnectBackoff, 2*time.Second)
}

func (c *Config) GetDatagramStaleness() time.Duration {
	return durationOr(c.DatagramStaleness, time.Second)
}

func (c *Config) GetStreamStaleness() time.Duration {
	return durationOr(c.StreamStaleness, 2*time.Second)
}

func (c *Config) GetSendInterval() time.Duration {
	return durationOr(c.SendInterval, 66*time.Millisecond)
}

func (c *Config) GetCaptureTimeout() time.Duration {
	return durationOr(c.CaptureTimeout, 5*time.Second)
}

func (c *Config) GetDisplayInterval() time.Duration {
	return durationOr(c.DisplayInterval, 33*time.Millisecond)
}

func (c *Config) GetStatsInterval() time.Duration {
	return durationOr(c.StatsInterval, time.Second)
}

// GetPNGCompression maps the configured name onto a png level. The raw
// depth stream favours speed by default.
func (c *Config) GetPNGCompression() png.CompressionLevel {
	if c.PNGCompression == nil {
		return png.BestSpeed
	}
	level, err := parsePNGCompression(*c.PNGCompression)
	if err != nil {
		return png.BestSpeed
	}
	return level
}

func parsePNGCompression(s string) (png.CompressionLevel, error) {
	switch s {
	case "default":
		return png.DefaultCompression, nil
	case "none":
		return png.NoCompression, nil
	case "fast":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	}
	return 0, fmt.Errorf("unknown png_compression %q (want default, none, fast or best)", s)
}
