package models

import "time"

// MilestoneType classifies a derived performance milestone.
type MilestoneType string

const (
	MilestoneRatingImprovement MilestoneType = "rating_improvement"
	MilestoneReviewCount       MilestoneType = "review_count"
	MilestoneResponseRate      MilestoneType = "response_rate"
	MilestoneCustom            MilestoneType = "custom"
)

// ReviewCountThresholds is the fixed ascending set of review-count targets.
// All thresholds reached by the current total are emitted, not just the
// highest.
var ReviewCountThresholds = []int{100, 500, 1000, 5000}

// ResponseRateTarget is the response-rate percentage that earns a milestone.
const ResponseRateTarget = 90.0

// Timeframe bounds the period a milestone was derived over.
type Timeframe struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the timeframe intersects [from, to].
func (t Timeframe) Overlaps(from, to time.Time) bool {
	return !t.End.Before(from) && !t.Start.After(to)
}

// Milestone marks that an aggregate performance threshold was reached.
// Once generated as achieved it is immutable history; re-running detection
// for the same period regenerates the identically-keyed record.
type Milestone struct {
	ID            string        `json:"id"`
	Type          MilestoneType `json:"type"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Value         float64       `json:"value"`
	PreviousValue *float64      `json:"previous_value,omitempty"`
	TargetValue   float64       `json:"target_value"`
	Timeframe     *Timeframe    `json:"timeframe,omitempty"`
	Achieved      bool          `json:"achieved"`
	AchievedAt    *time.Time    `json:"achieved_at,omitempty"`
}

// Clone returns a deep copy safe to hand out as a read snapshot.
func (m *Milestone) Clone() *Milestone {
	clone := *m

	if m.PreviousValue != nil {
		previous := *m.PreviousValue
		clone.PreviousValue = &previous
	}

	if m.Timeframe != nil {
		timeframe := *m.Timeframe
		clone.Timeframe = &timeframe
	}

	if m.AchievedAt != nil {
		achievedAt := *m.AchievedAt
		clone.AchievedAt = &achievedAt
	}

	return &clone
}

// MetricsSnapshot is an aggregate metrics reading supplied by the external
// metrics source. The engine never computes these itself.
type MetricsSnapshot struct {
	AverageRating float64 `json:"average_rating"`
	TotalReviews  int     `json:"total_reviews"`
	ResponseRate  float64 `json:"response_rate"`
}

// MilestoneProgress reports progress toward a value-based target.
type MilestoneProgress struct {
	CurrentValue       float64 `json:"current_value"`
	TargetValue        float64 `json:"target_value"`
	PercentageComplete float64 `json:"percentage_complete"`
}
