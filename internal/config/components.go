package config

import (
	"github.com/banshee-data/depthcast/internal/codec"
	"github.com/banshee-data/depthcast/internal/mapper"
	"github.com/banshee-data/depthcast/internal/projector"
)

// MapperConfig builds the occupancy map settings.
func (c *Config) MapperConfig() mapper.Config {
	return mapper.Config{
		Width:       c.GetMapWidth(),
		Height:      c.GetMapHeight(),
		MaxRangeM:   c.GetMapMaxRangeM(),
		MinRangeM:   c.GetMapMinRangeM(),
		FOVDeg:      c.GetMapFOVDeg(),
		Stride:      c.GetMapStride(),
		GridSpacing: c.GetMapGridSpacing(),
		IconRadius:  c.GetMapIconRadius(),
	}
}

// ProjectorConfig builds the standalone point cloud settings. The mosaic
// only takes the initial view from it.
func (c *Config) ProjectorConfig() projector.Config {
	view := projector.DefaultView()
	view.Pitch = c.GetProjectorPitch()
	view.Zoom = c.GetProjectorZoom()
	return projector.Config{
		Width:      c.GetProjectorWidth(),
		Height:     c.GetProjectorHeight(),
		Stride:     c.GetProjectorStride(),
		MaxDepthMM: uint16(c.GetProjectorMaxDepthMM()),
		Initial:    view,
	}
}

func (c *Config) CodecOptions() codec.Options {
	return codec.Options{
		JPEGQuality:    c.GetJPEGQuality(),
		PNGCompression: c.GetPNGCompression(),
	}
}
