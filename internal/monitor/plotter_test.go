package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePlots(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	var history []Snapshot
	for i := 0; i < 20; i++ {
		history = append(history, Snapshot{
			Timestamp: epoch.Add(time.Duration(i) * time.Second),
			MBPerSec:  1.5,
			Types: map[string]TypeSnapshot{
				"depth": {FPS: 15, JitterMS: 2},
				"raw3d": {FPS: 14.5, JitterMS: 3},
			},
		})
	}

	files, err := WritePlots(dir, history)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "fps_depth.png"),
		filepath.Join(dir, "fps_raw3d.png"),
		filepath.Join(dir, "throughput.png"),
	}, files)
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestWritePlotsEmptyHistory(t *testing.T) {
	files, err := WritePlots(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}
