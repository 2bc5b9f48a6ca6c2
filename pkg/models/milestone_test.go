package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeframe_Overlaps(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	timeframe := Timeframe{Start: start, End: end}

	assert.True(t, timeframe.Overlaps(start.AddDate(0, 0, 10), end.AddDate(0, 0, 10)))
	assert.True(t, timeframe.Overlaps(start.AddDate(0, -1, 0), start))
	assert.True(t, timeframe.Overlaps(end, end.AddDate(0, 1, 0)))

	assert.False(t, timeframe.Overlaps(end.AddDate(0, 0, 1), end.AddDate(0, 1, 0)))
	assert.False(t, timeframe.Overlaps(start.AddDate(0, -1, 0), start.AddDate(0, 0, -1)))
}

func TestMilestone_Clone_IsDeep(t *testing.T) {
	previous := 4.2
	achievedAt := time.Now()
	milestone := &Milestone{
		ID:            "m1",
		PreviousValue: &previous,
		AchievedAt:    &achievedAt,
		Timeframe:     &Timeframe{Start: achievedAt.AddDate(0, -1, 0), End: achievedAt},
	}

	clone := milestone.Clone()
	*clone.PreviousValue = 1.0
	clone.Timeframe.Start = clone.Timeframe.Start.AddDate(0, -1, 0)

	assert.Equal(t, 4.2, *milestone.PreviousValue)
	assert.Equal(t, achievedAt.AddDate(0, -1, 0), milestone.Timeframe.Start)
}
