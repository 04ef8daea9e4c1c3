package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProgressTrackerReportsSpeed(t *testing.T) {
	var lastLoaded, lastSpeed int64
	updates := 0
	tracker := newProgressTracker(0, func(loaded, total, speed int64) {
		updates++
		lastLoaded = loaded
		lastSpeed = speed
	})

	tracker.Add(1 << 20)
	time.Sleep(300 * time.Millisecond)
	tracker.Add(1 << 20)
	tracker.Close()

	require.GreaterOrEqual(t, updates, 1)
	require.Equal(t, int64(2<<20), lastLoaded)
	require.Greater(t, lastSpeed, int64(0))
}

func TestProgressTrackerSkipsUpdateWhenNothingChanged(t *testing.T) {
	updates := 0
	tracker := newProgressTracker(100, func(loaded, total, speed int64) {
		updates++
	})
	time.Sleep(300 * time.Millisecond)
	tracker.Close()

	require.Equal(t, 0, updates)
}
