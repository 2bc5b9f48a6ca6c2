// Package events defines event types and structures for review lifecycle
// notifications.
package events

import (
	"time"

	"github.com/reviewloop/reviewloop/pkg/models"
)

type EventType string

// Topic carries every review lifecycle event.
const Topic = "reviewloop.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Intake events consumed by the automation flow engine.
	AppointmentCompletedEvent EventType = "appointment.completed"
	FeedbackReceivedEvent     EventType = "feedback.received"

	// Lifecycle events emitted by the engine.
	EscalationRaisedEvent  EventType = "escalation.raised"
	IncentiveIssuedEvent   EventType = "incentive.issued"
	MilestoneAchievedEvent EventType = "milestone.achieved"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AppointmentCompleted signals that a customer-facing event finished and
// feedback solicitation should start after the flow's configured delay.
type AppointmentCompleted struct {
	BaseEvent

	CustomerID   string         `json:"customer_id"`
	CustomerName string         `json:"customer_name"`
	Address      string         `json:"address"` // Email address or phone number
	Channel      models.Channel `json:"channel"`
}

func (a AppointmentCompleted) GetType() EventType {
	return AppointmentCompletedEvent
}

// FeedbackReceived signals that a customer submitted a rating response.
type FeedbackReceived struct {
	BaseEvent

	FlowID       string         `json:"flow_id,omitempty"`
	ReviewID     string         `json:"review_id"`
	CustomerID   string         `json:"customer_id"`
	CustomerName string         `json:"customer_name"`
	Address      string         `json:"address"`
	Channel      models.Channel `json:"channel"`
	Rating       int            `json:"rating"`
	Comment      string         `json:"comment,omitempty"`
}

func (f FeedbackReceived) GetType() EventType {
	return FeedbackReceivedEvent
}

// EscalationRaised is emitted after a low rating opens an escalation.
type EscalationRaised struct {
	BaseEvent

	EscalationID string                    `json:"escalation_id"`
	Priority     models.EscalationPriority `json:"priority"`
	Rating       int                       `json:"rating"`
	Deadline     *time.Time                `json:"deadline,omitempty"`
}

func (e EscalationRaised) GetType() EventType {
	return EscalationRaisedEvent
}

// IncentiveIssued is emitted when an incentive is sent to a customer.
type IncentiveIssued struct {
	BaseEvent

	IncentiveID string               `json:"incentive_id"`
	Code        string               `json:"code"`
	CustomerID  string               `json:"customer_id"`
	Kind        models.IncentiveType `json:"kind"`
	Value       float64              `json:"value"`
}

func (i IncentiveIssued) GetType() EventType {
	return IncentiveIssuedEvent
}

// MilestoneAchieved is emitted when detection derives a new milestone.
type MilestoneAchieved struct {
	BaseEvent

	MilestoneID string               `json:"milestone_id"`
	Kind        models.MilestoneType `json:"kind"`
	Value       float64              `json:"value"`
}

func (m MilestoneAchieved) GetType() EventType {
	return MilestoneAchievedEvent
}
