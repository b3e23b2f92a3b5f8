package monitor

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/banshee-data/depthcast/internal/db"
	"github.com/banshee-data/depthcast/internal/httputil"
	"github.com/banshee-data/depthcast/internal/transport"
)

const defaultSessionLimit = 50

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	sessions, err := ws.cfg.DB.Sessions(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

// handleRollups lists a session's rollups, optionally for one ?type=.
func (ws *WebServer) handleRollups(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.BadRequest(w, "invalid session id")
		return
	}
	frameType := r.URL.Query().Get("type")
	if frameType != "" {
		t, err := transport.ParseFrameType(frameType)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		frameType = t.String()
	}
	rollups, err := ws.cfg.DB.Rollups(r.Context(), id, frameType)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if rollups == nil {
		rollups = []db.Rollup{}
	}
	httputil.WriteJSONOK(w, rollups)
}
