package config

import (
	"image/png"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/depthcast/internal/codec"
	"github.com/banshee-data/depthcast/internal/mapper"
)

func TestMapperConfigMatchesDefaults(t *testing.T) {
	if diff := cmp.Diff(mapper.DefaultConfig(), Empty().MapperConfig()); diff != "" {
		t.Errorf("mapper config mismatch (-want +got):\n%s", diff)
	}
}

func TestComponentOverrides(t *testing.T) {
	path := writeConfig(t, "c.json", `{
		"map_max_range_m": 6.5,
		"projector_zoom": 300,
		"projector_max_depth_mm": 8000,
		"jpeg_quality": 70,
		"png_compression": "best"
	}`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	assert.Equal(t, 6.5, c.MapperConfig().MaxRangeM)

	pc := c.ProjectorConfig()
	assert.Equal(t, uint16(8000), pc.MaxDepthMM)
	assert.Equal(t, 300.0, pc.Initial.Zoom)
	assert.Equal(t, 0.5, pc.Initial.Pitch)

	want := codec.Options{JPEGQuality: 70, PNGCompression: png.BestCompression}
	assert.Equal(t, want, c.CodecOptions())
}
