package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/depthcast/internal/security"
	"github.com/banshee-data/depthcast/internal/transport"
)

// WritePlots renders the history as PNGs in dir: one frame rate chart per
// frame type seen plus a combined throughput chart. It returns the files
// written.
func WritePlots(dir string, history []Snapshot) ([]string, error) {
	if len(history) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plot dir: %w", err)
	}
	t0 := history[0].Timestamp

	var files []string
	for i, ft := range transport.FrameTypes() {
		name := ft.String()
		pts := make(plotter.XYs, 0, len(history))
		jitter := make(plotter.XYs, 0, len(history))
		for _, s := range history {
			ts, ok := s.Types[name]
			if !ok {
				continue
			}
			x := s.Timestamp.Sub(t0).Seconds()
			pts = append(pts, plotter.XY{X: x, Y: ts.FPS})
			jitter = append(jitter, plotter.XY{X: x, Y: ts.JitterMS})
		}
		if len(pts) == 0 {
			continue
		}

		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s frames", name)
		p.X.Label.Text = "Time (s)"
		p.Y.Label.Text = "Frames/s, jitter (ms)"
		fps, err := plotter.NewLine(pts)
		if err != nil {
			return files, fmt.Errorf("fps line for %s: %w", name, err)
		}
		fps.Color = plotutil.Color(i)
		fps.Width = vg.Points(1)
		jit, err := plotter.NewLine(jitter)
		if err != nil {
			return files, fmt.Errorf("jitter line for %s: %w", name, err)
		}
		jit.Color = color.Gray{Y: 128}
		jit.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(plotter.NewGrid(), fps, jit)
		p.Legend.Add("fps", fps)
		p.Legend.Add("jitter ms", jit)
		p.Legend.Top = true

		path := filepath.Join(dir, security.SanitizeFilename("fps_"+name)+".png")
		if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
			return files, fmt.Errorf("save %s plot: %w", name, err)
		}
		files = append(files, path)
	}

	p := plot.New()
	p.Title.Text = "Throughput"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "MB/s"
	mb := make(plotter.XYs, len(history))
	for i, s := range history {
		mb[i] = plotter.XY{X: s.Timestamp.Sub(t0).Seconds(), Y: s.MBPerSec}
	}
	line, err := plotter.NewLine(mb)
	if err != nil {
		return files, fmt.Errorf("throughput line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(plotter.NewGrid(), line)
	path := filepath.Join(dir, "throughput.png")
	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return files, fmt.Errorf("save throughput plot: %w", err)
	}
	return append(files, path), nil
}
