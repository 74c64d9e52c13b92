package perf

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_RecordAccumulates(t *testing.T) {
	tracker := NewTracker()

	tracker.Record("heygen", true, 100*time.Millisecond)
	tracker.Record("heygen", true, 200*time.Millisecond)
	tracker.Record("heygen", false, 300*time.Millisecond)

	snap, ok := tracker.Snapshot("heygen")
	require.True(t, ok)
	assert.Equal(t, int64(3), snap.Total)
	assert.Equal(t, int64(1), snap.Failures)
	assert.InDelta(t, 2.0/3.0, snap.SuccessRate, 0.001)
	assert.False(t, snap.LastUpdated.IsZero())
}

func TestTracker_EWMALatency(t *testing.T) {
	tracker := NewTracker()

	// First observation seeds the average.
	tracker.Record("did", true, 100*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, tracker.AvgLatency("did"))

	// 0.2*200 + 0.8*100 = 120ms
	tracker.Record("did", true, 200*time.Millisecond)
	assert.InDelta(t, float64(120*time.Millisecond), float64(tracker.AvgLatency("did")), float64(time.Millisecond))
}

func TestTracker_UnknownProviderDefaults(t *testing.T) {
	tracker := NewTracker()

	snap, ok := tracker.Snapshot("nope")
	assert.False(t, ok)
	assert.Equal(t, 1.0, snap.SuccessRate)
	assert.Equal(t, time.Duration(0), snap.AvgLatency)
	assert.Equal(t, 1.0, tracker.SuccessRate("nope"))
}

func TestTracker_Dashboard(t *testing.T) {
	tracker := NewTracker()

	tracker.Record("kling", true, 50*time.Millisecond)
	tracker.Record("heygen", true, 100*time.Millisecond)
	tracker.Record("heygen", false, 100*time.Millisecond)
	tracker.Record("did", true, 80*time.Millisecond)

	d := tracker.Dashboard()
	require.Len(t, d.Providers, 3)

	// Sorted by provider id.
	assert.Equal(t, "did", d.Providers[0].Provider)
	assert.Equal(t, "heygen", d.Providers[1].Provider)
	assert.Equal(t, "kling", d.Providers[2].Provider)

	assert.Equal(t, int64(4), d.Total)
	assert.Equal(t, int64(1), d.Failures)
	assert.InDelta(t, 0.75, d.SuccessRate, 0.001)
}

func TestTracker_EmptyDashboard(t *testing.T) {
	d := NewTracker().Dashboard()
	assert.Empty(t, d.Providers)
	assert.Equal(t, 1.0, d.SuccessRate)
}

func TestTracker_ConcurrentRecording(t *testing.T) {
	tracker := NewTracker()
	providers := []string{"heygen", "did", "kling"}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tracker.Record(providers[n%3], n%5 != 0, time.Duration(n)*time.Millisecond)
		}(i)
	}
	wg.Wait()

	d := tracker.Dashboard()
	assert.Equal(t, int64(30), d.Total)
	assert.Equal(t, int64(6), d.Failures)
}
