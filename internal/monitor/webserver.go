package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/depthcast/internal/codec"
	"github.com/banshee-data/depthcast/internal/db"
	"github.com/banshee-data/depthcast/internal/display"
	"github.com/banshee-data/depthcast/internal/httputil"
	"github.com/banshee-data/depthcast/internal/projector"
	"github.com/banshee-data/depthcast/internal/stream"
	"github.com/banshee-data/depthcast/internal/transport"
	"github.com/banshee-data/depthcast/internal/version"
)

const mjpegBoundary = "depthcastframe"

// Commander forwards mode switches to the connected sender.
type Commander interface {
	SendCommand(cmd transport.Command) error
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address    string
	Stats      *Stats
	Source     display.Source
	Compositor *display.Compositor
	// Mosaic is the display loop's latest output; when nil, mosaics are
	// composed per request.
	Mosaic    *display.Latest
	Commander Commander
	DB        *db.DB
	// Transport and ReceiverAddr are shown on the debug index.
	Transport    transport.Kind
	ReceiverAddr string
}

// WebServer serves stats, frames and view controls.
type WebServer struct {
	cfg    WebServerConfig
	stats  *Stats
	codec  *codec.Codec
	server *http.Server
	ln     net.Listener
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(cfg WebServerConfig) (*WebServer, error) {
	ws := &WebServer{
		cfg:   cfg,
		stats: cfg.Stats,
		codec: codec.New(codec.DefaultOptions()),
	}
	if ws.stats == nil {
		ws.stats = NewStats(nil)
	}
	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler returns the route mux, for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Listen binds the address so Addr is known before Start.
func (ws *WebServer) Listen() error {
	ln, err := net.Listen("tcp", ws.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ws.cfg.Address, err)
	}
	ws.ln = ln
	return nil
}

// Addr is the bound address after Listen.
func (ws *WebServer) Addr() string {
	if ws.ln == nil {
		return ws.cfg.Address
	}
	return ws.ln.Addr().String()
}

// Start serves until ctx is done, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	if ws.ln == nil {
		if err := ws.Listen(); err != nil {
			return err
		}
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ws.Addr())
		if err := ws.server.Serve(ws.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", ws.handleHealth)
	mux.HandleFunc("GET /api/stats", ws.handleStats)
	mux.HandleFunc("GET /frames/{name}", ws.handleFrame)
	mux.HandleFunc("GET /mosaic.jpg", ws.handleMosaic)
	mux.HandleFunc("GET /stream.mjpg", ws.handleMJPEG)
	mux.HandleFunc("GET /api/view", ws.handleGetView)
	mux.HandleFunc("POST /api/view", ws.handleView)
	mux.HandleFunc("POST /api/mode", ws.handleMode)

	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.Version)
	debug.KV("Transport", ws.cfg.Transport.String())
	debug.KV("Receiving on", ws.cfg.ReceiverAddr)
	debug.Handle("charts", "Frame rate and throughput charts", http.HandlerFunc(ws.handleCharts))
	if ws.cfg.DB != nil {
		if err := ws.cfg.DB.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
		if v, dirty, err := ws.cfg.DB.MigrateVersion(); err == nil {
			debug.KV("Schema version", fmt.Sprintf("%d (dirty=%t)", v, dirty))
		}
		mux.HandleFunc("GET /api/sessions", ws.handleSessions)
		mux.HandleFunc("GET /api/sessions/{id}/rollups", ws.handleRollups)
	}
	return mux, nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":    "ok",
		"service":   "depthcast-receiver",
		"version":   version.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type statsResponse struct {
	Uptime string    `json:"uptime"`
	Fresh  []string  `json:"fresh"`
	Latest *Snapshot `json:"latest,omitempty"`
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Uptime: ws.stats.Uptime().Round(time.Second).String(),
		Fresh:  []string{},
		Latest: ws.stats.Latest(),
	}
	if ws.cfg.Source != nil {
		for _, t := range transport.FrameTypes() {
			if _, ok := ws.cfg.Source.Frame(t); ok {
				resp.Fresh = append(resp.Fresh, t.String())
			}
		}
	}
	httputil.WriteJSONOK(w, resp)
}

// handleFrame serves /frames/{type}.jpg, or {type}.png for raw depth. The
// encoded payload is returned exactly as received.
func (ws *WebServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	base, ext, _ := strings.Cut(name, ".")
	t, err := transport.ParseFrameType(base)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	wantExt, contentType := "jpg", "image/jpeg"
	if t == transport.FrameRawDepth3D {
		wantExt, contentType = "png", "image/png"
	}
	if ext != wantExt {
		httputil.NotFound(w, fmt.Sprintf("%s frames are served as .%s", t, wantExt))
		return
	}
	if ws.cfg.Source == nil {
		httputil.NotFound(w, "no frame source")
		return
	}
	f, ok := ws.cfg.Source.Frame(t)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("no fresh %s frame", t))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Id", fmt.Sprint(f.ID))
	_, _ = w.Write(f.Payload)
}

func (ws *WebServer) mosaicJPEG() ([]byte, error) {
	if ws.cfg.Mosaic != nil {
		if data, _, _ := ws.cfg.Mosaic.JPEG(); data != nil {
			return data, nil
		}
	}
	if ws.cfg.Compositor == nil || ws.cfg.Source == nil {
		return nil, errors.New("no compositor")
	}
	return ws.codec.Encode(ws.cfg.Compositor.Compose(ws.cfg.Source), codec.JPEG)
}

func (ws *WebServer) handleMosaic(w http.ResponseWriter, r *http.Request) {
	data, err := ws.mosaicJPEG()
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// handleMJPEG streams the display loop's mosaics as multipart JPEG until
// the client goes away.
func (ws *WebServer) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	if ws.cfg.Mosaic == nil {
		httputil.NotFound(w, "display loop is not running")
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-store")
	flusher, _ := w.(http.Flusher)

	var last uint64
	for {
		data, seq, next := ws.cfg.Mosaic.JPEG()
		if data != nil && seq != last {
			if err := writePart(w, data); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			last = seq
		}
		select {
		case <-r.Context().Done():
			return
		case <-next:
		}
	}
}

func writePart(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

type viewRequest struct {
	Command projector.Command `json:"command,omitempty"`
	Zoom    *float64          `json:"zoom,omitempty"`
}

func (ws *WebServer) handleGetView(w http.ResponseWriter, r *http.Request) {
	if ws.cfg.Compositor == nil {
		httputil.NotFound(w, "no point cloud view")
		return
	}
	httputil.WriteJSONOK(w, ws.cfg.Compositor.Projector().View())
}

// handleView applies a named view command, such as "left" or "zoom_in",
// or sets the zoom directly.
func (ws *WebServer) handleView(w http.ResponseWriter, r *http.Request) {
	if ws.cfg.Compositor == nil {
		httputil.NotFound(w, "no point cloud view")
		return
	}
	var req viewRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid body: %v", err))
		return
	}
	p := ws.cfg.Compositor.Projector()
	switch {
	case req.Zoom != nil:
		p.SetZoom(*req.Zoom)
	case req.Command != "":
		if err := p.Apply(req.Command); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	default:
		httputil.BadRequest(w, "need command or zoom")
		return
	}
	httputil.WriteJSONOK(w, p.View())
}

func (ws *WebServer) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid body: %v", err))
		return
	}
	cmd, err := transport.ParseCommand(req.Mode)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if ws.cfg.Commander == nil {
		httputil.WriteJSONError(w, http.StatusConflict, "mode switching needs a stream receiver")
		return
	}
	if err := ws.cfg.Commander.SendCommand(cmd); err != nil {
		if errors.Is(err, stream.ErrNoSession) {
			httputil.WriteJSONError(w, http.StatusConflict, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"mode": cmd.String()})
}

// Close stops the server immediately.
func (ws *WebServer) Close() error {
	return ws.server.Close()
}
