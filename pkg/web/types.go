// Package web provides HTTP request and response types for the review
// lifecycle API.
package web

import (
	"time"

	"github.com/reviewloop/reviewloop/pkg/models"
	"github.com/reviewloop/reviewloop/pkg/services"
)

// CreateFlowRequest represents the request body for creating a new
// automation flow.
type CreateFlowRequest struct {
	Name    string `json:"name"    validate:"required,min=3"`
	Channel string `json:"channel" validate:"required,oneof=email sms"`
}

// UpdateStepRequest carries a partial step configuration merge.
type UpdateStepRequest struct {
	Config map[string]any `json:"config" validate:"required"`
}

// UpdateDelayRequest rewrites the wait step delay.
type UpdateDelayRequest struct {
	Hours float64 `json:"hours" validate:"required,gt=0"`
}

// CreateEscalationRequest represents manual escalation intake.
type CreateEscalationRequest struct {
	ReviewID   string     `json:"review_id"   validate:"required"`
	CustomerID string     `json:"customer_id" validate:"required"`
	Rating     int        `json:"rating"      validate:"required,min=1,max=5"`
	Content    string     `json:"content"`
	Priority   *string    `json:"priority,omitempty" validate:"omitempty,oneof=urgent high medium low"`
	Deadline   *time.Time `json:"deadline,omitempty"`
}

// AddNoteRequest appends a note to an escalation.
type AddNoteRequest struct {
	Text     string `json:"text"      validate:"required"`
	AuthorID string `json:"author_id" validate:"required"`
}

// AssignRequest assigns an escalation to a user.
type AssignRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// ResolveRequest closes out an escalation with a resolution record.
type ResolveRequest struct {
	Type    string `json:"type"    validate:"required,oneof=apology discount service_improvement"`
	Content string `json:"content" validate:"required"`
}

// CreateIncentiveRequest represents the request body for creating an
// incentive.
type CreateIncentiveRequest struct {
	Type       string         `json:"type"  validate:"required,oneof=discount gift_card loyalty_points"`
	Value      float64        `json:"value" validate:"required,gt=0"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	MinRating  *int           `json:"min_rating,omitempty" validate:"omitempty,min=1,max=5"`
	MinSpend   *float64       `json:"min_spend,omitempty"`
	MaxUses    *int           `json:"max_uses,omitempty"`
	ReviewID   string         `json:"review_id,omitempty"`
	CampaignID string         `json:"campaign_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (r CreateIncentiveRequest) toService() services.CreateIncentiveRequest {
	req := services.CreateIncentiveRequest{
		Type:       models.IncentiveType(r.Type),
		Value:      r.Value,
		ExpiresAt:  r.ExpiresAt,
		ReviewID:   r.ReviewID,
		CampaignID: r.CampaignID,
		Metadata:   r.Metadata,
	}

	if r.MinRating != nil || r.MinSpend != nil || r.MaxUses != nil {
		req.Conditions = &services.ConditionParams{
			MinRating: r.MinRating,
			MinSpend:  r.MinSpend,
			MaxUses:   r.MaxUses,
		}
	}

	return req
}

// BulkCreateIncentivesRequest creates a batch of incentives from one
// parameter set.
type BulkCreateIncentivesRequest struct {
	CreateIncentiveRequest

	Count int `json:"count" validate:"required,min=1"`
}

// RedeemRequest redeems an incentive by its code.
type RedeemRequest struct {
	Code string `json:"code" validate:"required"`
}

// SendIncentiveRequest delivers an incentive to a customer.
type SendIncentiveRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
}

// DetectMilestonesRequest carries the metric snapshots detection runs
// against.
type DetectMilestonesRequest struct {
	Current  models.MetricsSnapshot  `json:"current"  validate:"required"`
	Previous *models.MetricsSnapshot `json:"previous,omitempty"`
}

// AppointmentCompletedRequest is the HTTP intake form of the
// appointment.completed event.
type AppointmentCompletedRequest struct {
	CustomerID   string `json:"customer_id"   validate:"required"`
	CustomerName string `json:"customer_name" validate:"required"`
	Address      string `json:"address"       validate:"required"`
	Channel      string `json:"channel"       validate:"required,oneof=email sms"`
}

// FeedbackReceivedRequest is the HTTP intake form of the feedback.received
// event.
type FeedbackReceivedRequest struct {
	FlowID       string `json:"flow_id,omitempty"`
	ReviewID     string `json:"review_id"   validate:"required"`
	CustomerID   string `json:"customer_id" validate:"required"`
	CustomerName string `json:"customer_name"`
	Address      string `json:"address"`
	Channel      string `json:"channel" validate:"required,oneof=email sms"`
	Rating       int    `json:"rating"  validate:"required,min=1,max=5"`
	Comment      string `json:"comment,omitempty"`
}
