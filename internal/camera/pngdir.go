package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/banshee-data/depthcast/internal/codec"
	"github.com/banshee-data/depthcast/internal/monitoring"
	"github.com/banshee-data/depthcast/internal/security"
)

// PNGDir plays back a directory of 16-bit grayscale PNG depth frames
// (millimetres) in name order, looping at the end.
type PNGDir struct {
	files  []string
	codec  *codec.Codec
	pacer  pacer
	index  uint64
	closed atomic.Bool
}

// NewPNGDir lists opts.Dir. Files that resolve outside the directory are
// skipped.
func NewPNGDir(opts Options) (*PNGDir, error) {
	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		path := filepath.Join(opts.Dir, e.Name())
		if err := security.ValidatePathWithinDirectory(path, opts.Dir); err != nil {
			monitoring.Logf("Skipping frame %s: %v", path, err)
			continue
		}
		files = append(files, path)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .png frames in %s", opts.Dir)
	}
	sort.Strings(files)
	return &PNGDir{
		files: files,
		codec: codec.New(codec.DefaultOptions()),
		pacer: newPacer(opts.Clock, opts.FPS),
	}, nil
}

// Len returns the number of frames in one loop.
func (c *PNGDir) Len() int {
	return len(c.files)
}

func (c *PNGDir) WaitForFrames(ctx context.Context, timeout time.Duration) (*FrameSet, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	at, err := c.pacer.wait(ctx, timeout)
	if err != nil {
		return nil, err
	}
	i := c.index
	c.index++
	path := c.files[i%uint64(len(c.files))]
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", path, err)
	}
	d, err := c.codec.DecodeDepth(data)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return &FrameSet{Index: i, Captured: at, Depth: d}, nil
}

func (c *PNGDir) Close() error {
	c.closed.Store(true)
	return nil
}
