package services

import (
	"log/slog"
	"testing"
	"time"

	"github.com/reviewloop/reviewloop/pkg/models"
	"github.com/reviewloop/reviewloop/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMilestoneService(t *testing.T, now time.Time) *Milestone {
	t.Helper()

	service := NewMilestone(memory.NewPersistence(), slog.Default())
	service.now = func() time.Time { return now }

	return service
}

func milestoneIDs(milestones []*models.Milestone) []string {
	ids := make([]string, 0, len(milestones))
	for _, m := range milestones {
		ids = append(ids, m.ID)
	}

	return ids
}

func TestMilestone_Detect_ReviewCountThresholds(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	service := newMilestoneService(t, now)

	detected, err := service.Detect(t.Context(), models.MetricsSnapshot{
		AverageRating: 4.0,
		TotalReviews:  1200,
		ResponseRate:  50,
	}, nil)
	require.NoError(t, err)

	ids := milestoneIDs(detected)
	assert.Contains(t, ids, "review-count-100")
	assert.Contains(t, ids, "review-count-500")
	assert.Contains(t, ids, "review-count-1000")
	assert.NotContains(t, ids, "review-count-5000")
	assert.NotContains(t, ids, "response-rate-90")

	for _, milestone := range detected {
		assert.True(t, milestone.Achieved)
		require.NotNil(t, milestone.AchievedAt)
		assert.Equal(t, now, *milestone.AchievedAt)
	}
}

func TestMilestone_Detect_RatingImprovement(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	service := newMilestoneService(t, now)

	previous := &models.MetricsSnapshot{AverageRating: 3.8}
	detected, err := service.Detect(t.Context(), models.MetricsSnapshot{
		AverageRating: 4.2,
		TotalReviews:  10,
	}, previous)
	require.NoError(t, err)

	require.Len(t, detected, 1)
	milestone := detected[0]
	assert.Equal(t, "rating-improvement-2025-06-01", milestone.ID)
	assert.Equal(t, models.MilestoneRatingImprovement, milestone.Type)
	assert.Equal(t, 4.2, milestone.Value)
	require.NotNil(t, milestone.PreviousValue)
	assert.Equal(t, 3.8, *milestone.PreviousValue)
	require.NotNil(t, milestone.Timeframe)
	assert.Equal(t, now, milestone.Timeframe.End)
}

func TestMilestone_Detect_NoImprovementWithoutPrevious(t *testing.T) {
	service := newMilestoneService(t, time.Now())

	detected, err := service.Detect(t.Context(), models.MetricsSnapshot{
		AverageRating: 4.9,
		TotalReviews:  10,
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, detected)
}

func TestMilestone_Detect_ResponseRate(t *testing.T) {
	service := newMilestoneService(t, time.Now())

	detected, err := service.Detect(t.Context(), models.MetricsSnapshot{
		AverageRating: 4.0,
		TotalReviews:  10,
		ResponseRate:  92,
	}, nil)
	require.NoError(t, err)

	require.Len(t, detected, 1)
	assert.Equal(t, "response-rate-90", detected[0].ID)
	assert.Equal(t, models.MilestoneResponseRate, detected[0].Type)
}

func TestMilestone_Detect_RerunIsIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	service := newMilestoneService(t, now)

	snapshot := models.MetricsSnapshot{AverageRating: 4.0, TotalReviews: 600, ResponseRate: 95}

	_, err := service.Detect(t.Context(), snapshot, nil)
	require.NoError(t, err)

	_, err = service.Detect(t.Context(), snapshot, nil)
	require.NoError(t, err)

	all, err := service.GetMilestones(t.Context(), MilestoneFilters{})
	require.NoError(t, err)

	// review-count-100, review-count-500, response-rate-90; no duplicates.
	assert.Len(t, all, 3)
}

func TestMilestone_GetMilestones_Filters(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	service := newMilestoneService(t, now)

	_, err := service.Detect(t.Context(), models.MetricsSnapshot{
		AverageRating: 4.2,
		TotalReviews:  150,
	}, &models.MetricsSnapshot{AverageRating: 3.9})
	require.NoError(t, err)

	countType := models.MilestoneReviewCount
	byType, err := service.GetMilestones(t.Context(), MilestoneFilters{Type: &countType})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "review-count-100", byType[0].ID)

	// Timeframe overlap only matches the rating-improvement window.
	from := now.AddDate(0, 0, -7)
	to := now
	inRange, err := service.GetMilestones(t.Context(), MilestoneFilters{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, inRange, 1)
	assert.Equal(t, models.MilestoneRatingImprovement, inRange[0].Type)
}

func TestMilestone_GetProgress(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	service := newMilestoneService(t, now)

	_, err := service.Detect(t.Context(), models.MetricsSnapshot{
		AverageRating: 4.0,
		TotalReviews:  150,
	}, nil)
	require.NoError(t, err)

	progress, err := service.GetProgress(t.Context(), "review-count-100", 50)
	require.NoError(t, err)
	assert.Equal(t, 50.0, progress.PercentageComplete)
	assert.Equal(t, 100.0, progress.TargetValue)

	// Progress is capped at 100 percent.
	capped, err := service.GetProgress(t.Context(), "review-count-100", 250)
	require.NoError(t, err)
	assert.Equal(t, 100.0, capped.PercentageComplete)
}

func TestMilestone_GetProgress_UnknownMilestone(t *testing.T) {
	service := newMilestoneService(t, time.Now())

	_, err := service.GetProgress(t.Context(), "missing", 10)
	require.Error(t, err)
}
