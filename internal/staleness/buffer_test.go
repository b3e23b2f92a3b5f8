package staleness

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthcast/internal/timeutil"
)

var t0 = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func cloneBytes(b []byte) []byte { return append([]byte(nil), b...) }

func TestGetWithinWindow(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	b := New[string, []byte](StreamTimeout, cloneBytes, clock)

	_, ok := b.Get("map")
	assert.False(t, ok, "never updated")

	b.Update("map", []byte{1})
	clock.Advance(1999 * time.Millisecond)
	v, ok := b.Get("map")
	require.True(t, ok)
	assert.Equal(t, []byte{1}, v)

	clock.Advance(time.Millisecond)
	_, ok = b.Get("map")
	assert.False(t, ok, "exactly at the timeout is stale")

	age, ok := b.Age("map")
	require.True(t, ok)
	assert.Equal(t, StreamTimeout, age)
}

func TestUpdateRefreshes(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	b := New[int, int](DatagramTimeout, nil, clock)

	b.Update(1, 10)
	clock.Advance(900 * time.Millisecond)
	b.Update(1, 11)
	clock.Advance(900 * time.Millisecond)

	v, ok := b.Get(1)
	require.True(t, ok)
	assert.Equal(t, 11, v)
	assert.Equal(t, []int{1}, b.Fresh())
}

func TestGetReturnsCopies(t *testing.T) {
	b := New[string, []byte](time.Hour, cloneBytes, nil)
	src := []byte{1, 2, 3}
	b.Update("k", src)
	src[0] = 9

	got, _ := b.Get("k")
	assert.Equal(t, byte(1), got[0], "Update must copy")
	got[1] = 9

	again, _ := b.Get("k")
	assert.Equal(t, byte(2), again[1], "Get must copy")
}

func TestKeysAreIndependent(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	b := New[string, string](time.Second, nil, clock)
	b.Update("depth", "d")
	clock.Advance(600 * time.Millisecond)
	b.Update("map", "m")
	clock.Advance(600 * time.Millisecond)

	_, ok := b.Get("depth")
	assert.False(t, ok)
	v, ok := b.Get("map")
	assert.True(t, ok)
	assert.Equal(t, "m", v)
	assert.Equal(t, time.Second, b.Timeout())
}

func TestConcurrentAccess(t *testing.T) {
	b := New[int, []byte](time.Second, cloneBytes, nil)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(k int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Update(k, []byte{byte(i)})
			}
		}(w)
		go func(k int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Get(k)
			}
		}(w)
	}
	wg.Wait()
	assert.Len(t, b.Fresh(), 4)
}
