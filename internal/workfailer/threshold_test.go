package workfailer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOutlierThreshold_FallsBackBelowMinSamples(t *testing.T) {
	durations := []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute}
	assert.Equal(t, defaultThreshold, outlierThreshold(durations))
}

func TestOutlierThreshold_TightHistoryYieldsTightThreshold(t *testing.T) {
	durations := make([]time.Duration, minSamples)
	for i := range durations {
		durations[i] = 10 * time.Second
	}
	got := outlierThreshold(durations)
	assert.Equal(t, defaultThreshold/10, got)
}

func TestOutlierThreshold_ScalesWithSpreadAndOutliers(t *testing.T) {
	tight := []time.Duration{
		9 * time.Second, 10 * time.Second, 10 * time.Second, 11 * time.Second, 10 * time.Second,
	}
	spread := []time.Duration{
		5 * time.Minute, 30 * time.Minute, 1 * time.Hour, 2 * time.Hour, 10 * time.Minute,
	}
	assert.Greater(t, outlierThreshold(spread), outlierThreshold(tight))
}

func TestOutlierThreshold_Deterministic(t *testing.T) {
	durations := []time.Duration{
		45 * time.Second, 12 * time.Second, 90 * time.Second, 20 * time.Second, 33 * time.Second, 5 * time.Second,
	}
	first := outlierThreshold(durations)
	second := outlierThreshold(durations)
	assert.Equal(t, first, second)
}

func TestMedian_EvenAndOdd(t *testing.T) {
	assert.Equal(t, 2*time.Second, median([]time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second}))
	assert.Equal(t, 2*time.Second+500*time.Millisecond, median([]time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second}))
	assert.Equal(t, time.Duration(0), median(nil))
}
