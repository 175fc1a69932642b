package scheduler

import "math"

// CalculateNumItemsToQueue implements the batch-size formula of spec §4.2.
//
// Given pods (running worker pods for serviceID), schedulers (scheduler
// replicas), queued (current service-queue depth), scaleFactor, and received
// (messages consumed for this serviceID this cycle), decide how many items
// to dispatch to the service queue this cycle.
func CalculateNumItemsToQueue(pods int, schedulers int, queued int, scaleFactor float64, received int) int {
	if float64(queued) <= 0.1*float64(pods) {
		// Starvation path.
		n := pods - queued
		if received < n {
			n = received
		}
		if n < 1 {
			n = 1
		}
		return n
	}

	n := int(math.Floor(scaleFactor*float64(pods)/math.Max(1, float64(schedulers)) - float64(queued)))
	if n < 0 {
		n = 0
	}
	if n == 0 && queued == 0 {
		return 1
	}
	return n
}
