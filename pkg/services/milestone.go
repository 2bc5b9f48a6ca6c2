package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/reviewloop/reviewloop/pkg/models"
	"github.com/reviewloop/reviewloop/pkg/persistence"
)

const ratingImprovementWindow = 30 * 24 * time.Hour

// MetricsSource supplies aggregate metric snapshots computed outside the
// engine.
type MetricsSource interface {
	Current(ctx context.Context) (models.MetricsSnapshot, error)
	Previous(ctx context.Context) (*models.MetricsSnapshot, error)
}

// Milestone derives achievement records from aggregate metric snapshots.
type Milestone struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	now         func() time.Time
}

// NewMilestone creates a new milestone service.
func NewMilestone(p persistence.Persistence, logger *slog.Logger) *Milestone {
	return &Milestone{
		persistence: p,
		logger:      logger.With("module", "milestone_service"),
		now:         time.Now,
	}
}

// Detect derives the milestones achieved by the current snapshot. Detection
// is a pure derivation with deterministic identities, so re-running for the
// same period upserts identical records instead of duplicating them.
func (s *Milestone) Detect(ctx context.Context, current models.MetricsSnapshot, previous *models.MetricsSnapshot) ([]*models.Milestone, error) {
	now := s.now()
	detected := make([]*models.Milestone, 0, len(models.ReviewCountThresholds)+2)

	if previous != nil && current.AverageRating > previous.AverageRating {
		previousValue := previous.AverageRating
		detected = append(detected, &models.Milestone{
			ID:            fmt.Sprintf("rating-improvement-%s", now.Format("2006-01-02")),
			Type:          models.MilestoneRatingImprovement,
			Title:         "Average rating improved",
			Description:   fmt.Sprintf("Average rating rose from %.1f to %.1f", previousValue, current.AverageRating),
			Value:         current.AverageRating,
			PreviousValue: &previousValue,
			TargetValue:   current.AverageRating,
			Timeframe: &models.Timeframe{
				Start: now.Add(-ratingImprovementWindow),
				End:   now,
			},
		})
	}

	// Every threshold reached counts, not just the highest.
	for _, threshold := range models.ReviewCountThresholds {
		if current.TotalReviews < threshold {
			continue
		}

		detected = append(detected, &models.Milestone{
			ID:          fmt.Sprintf("review-count-%d", threshold),
			Type:        models.MilestoneReviewCount,
			Title:       fmt.Sprintf("%d reviews collected", threshold),
			Description: fmt.Sprintf("Total review count reached %d", threshold),
			Value:       float64(current.TotalReviews),
			TargetValue: float64(threshold),
		})
	}

	if current.ResponseRate >= models.ResponseRateTarget {
		detected = append(detected, &models.Milestone{
			ID:          fmt.Sprintf("response-rate-%d", int(models.ResponseRateTarget)),
			Type:        models.MilestoneResponseRate,
			Title:       "Response rate target reached",
			Description: fmt.Sprintf("Response rate reached %.0f%%", current.ResponseRate),
			Value:       current.ResponseRate,
			TargetValue: models.ResponseRateTarget,
		})
	}

	for _, milestone := range detected {
		achievedAt := now
		milestone.Achieved = true
		milestone.AchievedAt = &achievedAt

		if err := s.persistence.Milestones().Save(ctx, milestone); err != nil {
			return nil, fmt.Errorf("failed to save milestone %s: %w", milestone.ID, err)
		}
	}

	s.logger.InfoContext(ctx, "Milestone detection completed",
		"detected", len(detected),
		"total_reviews", current.TotalReviews,
		"average_rating", current.AverageRating,
		"response_rate", current.ResponseRate,
	)

	return detected, nil
}

// MilestoneFilters narrows GetMilestones results; nil fields match
// everything. From/To select milestones whose timeframe overlaps the range.
type MilestoneFilters struct {
	Type     *models.MilestoneType
	Achieved *bool
	From     *time.Time
	To       *time.Time
}

// GetMilestones returns matching milestones sorted by AchievedAt
// descending. Entries missing the timestamp keep their encountered order
// relative to each other.
func (s *Milestone) GetMilestones(ctx context.Context, filters MilestoneFilters) ([]*models.Milestone, error) {
	all, err := s.persistence.Milestones().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}

	matched := make([]*models.Milestone, 0, len(all))

	for _, m := range all {
		if filters.Type != nil && m.Type != *filters.Type {
			continue
		}

		if filters.Achieved != nil && m.Achieved != *filters.Achieved {
			continue
		}

		if filters.From != nil && filters.To != nil {
			if m.Timeframe == nil || !m.Timeframe.Overlaps(*filters.From, *filters.To) {
				continue
			}
		}

		matched = append(matched, m)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		ai, aj := matched[i].AchievedAt, matched[j].AchievedAt
		if ai == nil || aj == nil {
			return false
		}

		return ai.After(*aj)
	})

	return matched, nil
}

// GetProgress reports progress toward a milestone's value-based target,
// capped at 100 percent.
func (s *Milestone) GetProgress(ctx context.Context, milestoneID string, currentValue float64) (*models.MilestoneProgress, error) {
	milestone, err := s.persistence.Milestones().GetByID(ctx, milestoneID)
	if err != nil {
		return nil, err
	}

	progress := &models.MilestoneProgress{
		CurrentValue: currentValue,
		TargetValue:  milestone.TargetValue,
	}

	if milestone.TargetValue > 0 {
		progress.PercentageComplete = min(100, 100*currentValue/milestone.TargetValue)
	}

	return progress, nil
}
