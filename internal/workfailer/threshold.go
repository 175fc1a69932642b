package workfailer

import (
	"sort"
	"time"
)

// defaultThreshold is used when fewer than minSamples successful durations
// exist for a (jobID, serviceID, stepIndex) tuple.
const defaultThreshold = 30 * time.Minute

const minSamples = 5

// outlierThreshold computes a deterministic stall bound over recent
// successful durations: median + 3*MAD (median absolute deviation), a
// distribution-free outlier rule that doesn't assume normality (spec §4.6
// step 2, §9 "algorithm is implementation-defined but must be deterministic").
// Falls back to defaultThreshold when history is too thin to be meaningful.
func outlierThreshold(durations []time.Duration) time.Duration {
	if len(durations) < minSamples {
		return defaultThreshold
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	med := median(sorted)

	deviations := make([]time.Duration, len(sorted))
	for i, d := range sorted {
		diff := d - med
		if diff < 0 {
			diff = -diff
		}
		deviations[i] = diff
	}
	sort.Slice(deviations, func(i, j int) bool { return deviations[i] < deviations[j] })
	mad := median(deviations)

	threshold := med + 3*mad
	if threshold < defaultThreshold/10 {
		// Guards against a razor-thin threshold when history is unusually
		// uniform (MAD near zero) flagging normal jitter as stalls.
		threshold = defaultThreshold / 10
	}
	return threshold
}

func median(sorted []time.Duration) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
