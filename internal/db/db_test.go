package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "depthcast.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMigrates(t *testing.T) {
	db := openTestDB(t)
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, db.MigrateUp())

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('sessions', 'frame_rollups')`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depthcast.db")
	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.StartSession(context.Background(), "udp", ":5000", time.Now())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	sessions, err := db.Sessions(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	start := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	id, err := db.StartSession(ctx, "tcp", "0.0.0.0:5000", start)
	require.NoError(t, err)
	require.NoError(t, db.EndSession(ctx, id, start.Add(time.Minute)))
	assert.Error(t, db.EndSession(ctx, uuid.New(), start))

	sessions, err := db.Sessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	end := start.Add(time.Minute)
	want := Session{ID: id, Transport: "tcp", Address: "0.0.0.0:5000", StartedAt: start, EndedAt: &end}
	if diff := cmp.Diff(want, sessions[0]); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestRollups(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	id, err := db.StartSession(ctx, "udp", ":5000", at)
	require.NoError(t, err)

	batch := []Rollup{
		{SessionID: id, At: at, Duration: time.Second, FrameType: "depth", Frames: 15, Bytes: 300000, FPS: 15, JitterMS: 2.5},
		{SessionID: id, At: at, Duration: time.Second, FrameType: "map", Frames: 14, Bytes: 200000, DecodeFailures: 1, FPS: 14},
		{SessionID: id, At: at.Add(time.Second), Duration: time.Second, FrameType: "depth", Frames: 15, Dropped: 2, FPS: 15},
	}
	require.NoError(t, db.RecordRollups(ctx, batch))
	require.NoError(t, db.RecordRollups(ctx, nil))

	all, err := db.Rollups(ctx, id, "")
	require.NoError(t, err)
	if diff := cmp.Diff(batch, all); diff != "" {
		t.Errorf("rollups mismatch (-want +got):\n%s", diff)
	}

	depth, err := db.Rollups(ctx, id, "depth")
	require.NoError(t, err)
	assert.Len(t, depth, 2)

	// The primary key rejects a duplicate interval and the batch is rolled back.
	err = db.RecordRollups(ctx, []Rollup{
		{SessionID: id, At: at.Add(2 * time.Second), FrameType: "ir"},
		batch[0],
	})
	require.Error(t, err)
	ir, err := db.Rollups(ctx, id, "ir")
	require.NoError(t, err)
	assert.Empty(t, ir)
}

func TestRollupsRequireSession(t *testing.T) {
	db := openTestDB(t)
	err := db.RecordRollups(context.Background(), []Rollup{{SessionID: uuid.New(), At: time.Now(), FrameType: "depth"}})
	assert.Error(t, err, "foreign key must reject an unknown session")
}

func TestAdminRoutes(t *testing.T) {
	db := openTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())
}
