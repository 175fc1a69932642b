package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateNumItemsToQueue(t *testing.T) {
	cases := []struct {
		name                                          string
		pods, schedulers, queued, received, expected int
		scaleFactor                                   float64
	}{
		{"cold start", 0, 1, 0, 0, 1, 1.1},
		{"steady scale-up", 100, 1, 20, 1, 90, 1.1},
		{"multiple schedulers split target", 100, 2, 20, 1, 30, 1},
		{"starvation caps at pods minus queued", 100, 1, 5, 200, 95, 1},
		{"over-target returns zero", 100, 1, 110, 1, 0, 1.1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := CalculateNumItemsToQueue(c.pods, c.schedulers, c.queued, c.scaleFactor, c.received)
			assert.Equal(t, c.expected, got)
		})
	}
}

func TestCalculateNumItemsToQueue_NeverStallsWhenQueueEmpty(t *testing.T) {
	got := CalculateNumItemsToQueue(1, 1, 0, 0.01, 0)
	assert.GreaterOrEqual(t, got, 1)
}
