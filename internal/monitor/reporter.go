package monitor

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/depthcast/internal/db"
	"github.com/banshee-data/depthcast/internal/timeutil"
)

// RollupStore persists interval rollups. *db.DB implements it.
type RollupStore interface {
	RecordRollups(ctx context.Context, rollups []db.Rollup) error
}

// Rollups flattens a snapshot into one row per frame type. Transport drops
// are not attributable to a type and are carried on every row.
func Rollups(session uuid.UUID, snap Snapshot) []db.Rollup {
	out := make([]db.Rollup, 0, len(snap.Types))
	for name, ts := range snap.Types {
		out = append(out, db.Rollup{
			SessionID:      session,
			At:             snap.Timestamp,
			Duration:       snap.Duration,
			FrameType:      name,
			Frames:         ts.Frames,
			Bytes:          ts.Bytes,
			DecodeFailures: ts.DecodeFailures,
			Dropped:        snap.Dropped,
			FPS:            ts.FPS,
			JitterMS:       ts.JitterMS,
		})
	}
	return out
}

// Reporter rolls the stats every interval, logs them, and stores them when
// a RollupStore is set.
type Reporter struct {
	Stats    *Stats
	Interval time.Duration
	Clock    timeutil.Clock
	Store    RollupStore
	Session  uuid.UUID
}

// Run reports until ctx is done, then rolls and stores the final partial
// interval.
func (r *Reporter) Run(ctx context.Context) {
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.report(context.Background())
			return
		case <-ticker.C():
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	snap := r.Stats.LogStats()
	if r.Store == nil || len(snap.Types) == 0 {
		return
	}
	if err := r.Store.RecordRollups(ctx, Rollups(r.Session, snap)); err != nil {
		log.Printf("Failed to record rollups: %v", err)
	}
}
