package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/depthcast/internal/httputil"
	"github.com/banshee-data/depthcast/internal/transport"
)

const chartAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// chartWindow is how many recent snapshots the live charts show.
const chartWindow = 300

// handleCharts renders per-type frame rate and throughput over the recent
// history as an echarts page.
func (ws *WebServer) handleCharts(w http.ResponseWriter, r *http.Request) {
	history := ws.stats.History()
	if len(history) > chartWindow {
		history = history[len(history)-chartWindow:]
	}

	x := make([]string, len(history))
	for i, s := range history {
		x[i] = s.Timestamp.Format("15:04:05")
	}

	fps := charts.NewLine()
	fps.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: chartAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Frames per second", Subtitle: fmt.Sprintf("last %d intervals", len(history))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	fps.SetXAxis(x)
	for _, ft := range transport.FrameTypes() {
		name := ft.String()
		data := make([]opts.LineData, len(history))
		seen := false
		for i, s := range history {
			ts, ok := s.Types[name]
			seen = seen || ok
			data[i] = opts.LineData{Value: ts.FPS}
		}
		if seen {
			fps.AddSeries(name, data)
		}
	}

	mb := charts.NewLine()
	mb.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "300px", AssetsHost: chartAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Throughput (MB/s)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	mbData := make([]opts.LineData, len(history))
	drops := make([]opts.LineData, len(history))
	for i, s := range history {
		mbData[i] = opts.LineData{Value: s.MBPerSec}
		drops[i] = opts.LineData{Value: s.Dropped}
	}
	mb.SetXAxis(x).
		AddSeries("MB/s", mbData).
		AddSeries("dropped", drops)

	page := components.NewPage()
	page.SetAssetsHost(chartAssetsHost)
	page.AddCharts(fps, mb)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
