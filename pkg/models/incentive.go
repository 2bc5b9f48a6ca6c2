package models

import (
	"maps"
	"time"
)

// IncentiveType classifies a redeemable reward.
type IncentiveType string

const (
	IncentiveDiscount      IncentiveType = "discount"
	IncentiveGiftCard      IncentiveType = "gift_card"
	IncentiveLoyaltyPoints IncentiveType = "loyalty_points"
)

// IncentiveStatus tracks the incentive lifecycle. Status only advances
// active -> sent -> redeemed, or to expired from active/sent.
type IncentiveStatus string

const (
	IncentiveStatusActive   IncentiveStatus = "active"
	IncentiveStatusSent     IncentiveStatus = "sent"
	IncentiveStatusRedeemed IncentiveStatus = "redeemed"
	IncentiveStatusExpired  IncentiveStatus = "expired"
)

// IncentiveConditions restricts when an incentive may be issued and used.
type IncentiveConditions struct {
	MinRating   int     `json:"min_rating"`
	MinSpend    float64 `json:"min_spend"`
	MaxUses     int     `json:"max_uses"`
	CurrentUses int     `json:"current_uses"`
}

// Incentive is a redeemable reward code issued for a positive rating.
// Code is globally unique and immutable after creation.
type Incentive struct {
	ID         string              `json:"id"`
	Type       IncentiveType       `json:"type" validate:"required,oneof=discount gift_card loyalty_points"`
	Value      float64             `json:"value"`
	Code       string              `json:"code"`
	ExpiresAt  *time.Time          `json:"expires_at,omitempty"`
	Status     IncentiveStatus     `json:"status"`
	ReviewID   string              `json:"review_id,omitempty"`
	CustomerID string              `json:"customer_id,omitempty"`
	CampaignID string              `json:"campaign_id,omitempty"`
	Conditions IncentiveConditions `json:"conditions"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	RedeemedAt *time.Time          `json:"redeemed_at,omitempty"`
}

// UsageCapReached reports whether the send cap is exhausted. A zero MaxUses
// means uncapped.
func (i *Incentive) UsageCapReached() bool {
	return i.Conditions.MaxUses > 0 && i.Conditions.CurrentUses >= i.Conditions.MaxUses
}

// ExpiredAt reports whether the incentive's expiry has passed at the given
// instant. Incentives without an expiry never expire lazily.
func (i *Incentive) ExpiredAt(now time.Time) bool {
	return i.ExpiresAt != nil && i.ExpiresAt.Before(now)
}

// Clone returns a deep copy safe to hand out as a read snapshot.
func (i *Incentive) Clone() *Incentive {
	clone := *i
	clone.Metadata = maps.Clone(i.Metadata)

	if i.ExpiresAt != nil {
		expiresAt := *i.ExpiresAt
		clone.ExpiresAt = &expiresAt
	}

	if i.RedeemedAt != nil {
		redeemedAt := *i.RedeemedAt
		clone.RedeemedAt = &redeemedAt
	}

	return &clone
}

// IncentiveStats aggregates redemption analytics.
type IncentiveStats struct {
	TotalSent      int                   `json:"total_sent"`
	TotalRedeemed  int                   `json:"total_redeemed"`
	TotalCost      float64               `json:"total_cost"`
	RedemptionRate float64               `json:"redemption_rate"`
	AverageValue   float64               `json:"average_value"`
	TypeBreakdown  map[IncentiveType]int `json:"type_breakdown"`
	MonthlyStats   []MonthlyIncentives   `json:"monthly_stats"`
}

// MonthlyIncentives is one bucket of the trailing-12-months series,
// keyed by the incentive's creation month.
type MonthlyIncentives struct {
	Month    string  `json:"month"` // YYYY-MM
	Sent     int     `json:"sent"`
	Redeemed int     `json:"redeemed"`
	Cost     float64 `json:"cost"`
}
