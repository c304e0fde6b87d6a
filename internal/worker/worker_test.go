package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRunTimeSeconds(t *testing.T) {
	from := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	next := nextRunTime("300", from, time.Hour)
	assert.Equal(t, from.Add(5*time.Minute), next)
}

func TestNextRunTimeCronExpression(t *testing.T) {
	from := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	next := nextRunTime("0 * * * *", from, time.Hour)
	assert.Equal(t, time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC), next)
}

func TestNextRunTimeFallback(t *testing.T) {
	from := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	next := nextRunTime("garbage", from, time.Hour)
	assert.Equal(t, from.Add(time.Hour), next)
}
