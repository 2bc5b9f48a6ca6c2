// Package models defines the core domain models for review lifecycle automation.
package models

import (
	"maps"
	"time"
)

// Channel identifies the outbound messaging channel of a flow.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// FlowStatus represents the lifecycle state of an automation flow.
type FlowStatus string

const (
	FlowStatusActive FlowStatus = "active" // Executable, reacts to triggering events
	FlowStatusPaused FlowStatus = "paused" // Retained but inert; pending dispatches become no-ops
)

// StepKind classifies a flow step. Step configuration is a permissive
// superset bag: fields relevant to other kinds are ignored, not rejected.
type StepKind string

const (
	StepKindWait      StepKind = "wait"
	StepKindMessage   StepKind = "message"
	StepKindRating    StepKind = "rating"
	StepKindAction    StepKind = "action"
	StepKindCondition StepKind = "condition"
)

// Step config keys understood by the engine. Unknown keys are retained.
const (
	ConfigDelayHours = "delay_hours"
	ConfigChannel    = "channel"
	ConfigBody       = "body"
	ConfigLinks      = "links"
	ConfigThreshold  = "threshold"
	ConfigAction     = "action"
	ConfigIncentive  = "incentive"
)

// DefaultRatingThreshold applies when a flow has no configured rating step.
const DefaultRatingThreshold = 4

// FlowStep is one stage of an automation flow.
type FlowStep struct {
	ID     string         `json:"id"`
	Kind   StepKind       `json:"kind"   validate:"required,oneof=wait message rating action condition"`
	Config map[string]any `json:"config"`
}

// MergeConfig shallow-merges patch fields into the step configuration.
func (s *FlowStep) MergeConfig(patch map[string]any) {
	if s.Config == nil {
		s.Config = make(map[string]any, len(patch))
	}

	maps.Copy(s.Config, patch)
}

// Float reads a numeric config value, tolerating both float64 (JSON) and int.
func (s *FlowStep) Float(key string) (float64, bool) {
	switch v := s.Config[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// String reads a string config value.
func (s *FlowStep) String(key string) (string, bool) {
	v, ok := s.Config[key].(string)

	return v, ok
}

// FlowTemplates holds the fixed three-template set of a flow.
type FlowTemplates struct {
	Initial    string `json:"initial"`
	HighRating string `json:"high_rating"`
	LowRating  string `json:"low_rating"`
}

// FlowMetrics accumulates delivery and engagement counters for a flow.
type FlowMetrics struct {
	Sent           int     `json:"sent"`
	OpenRate       float64 `json:"open_rate"`
	ClickRate      float64 `json:"click_rate"`
	ConversionRate float64 `json:"conversion_rate"`
}

// AutomationFlow is a channel-specific sequence of steps governing feedback
// solicitation and response handling. Step ordering is fixed at creation;
// only individual step configuration may change afterwards.
type AutomationFlow struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"    validate:"required,min=3"`
	Channel   Channel       `json:"channel" validate:"required,oneof=email sms"`
	Status    FlowStatus    `json:"status"`
	Steps     []*FlowStep   `json:"steps"`
	Templates FlowTemplates `json:"templates"`
	Metrics   FlowMetrics   `json:"metrics"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StepByID returns the named step, or nil when absent.
func (f *AutomationFlow) StepByID(stepID string) *FlowStep {
	for _, step := range f.Steps {
		if step.ID == stepID {
			return step
		}
	}

	return nil
}

// FirstStepOfKind returns the first step of the given kind, or nil.
func (f *AutomationFlow) FirstStepOfKind(kind StepKind) *FlowStep {
	for _, step := range f.Steps {
		if step.Kind == kind {
			return step
		}
	}

	return nil
}

// WaitDelay returns the delay configured on the flow's wait step.
func (f *AutomationFlow) WaitDelay() (time.Duration, bool) {
	wait := f.FirstStepOfKind(StepKindWait)
	if wait == nil {
		return 0, false
	}

	hours, ok := wait.Float(ConfigDelayHours)
	if !ok {
		return 0, false
	}

	return time.Duration(hours * float64(time.Hour)), true
}

// RatingThreshold returns the threshold of the flow's rating step, falling
// back to DefaultRatingThreshold when no rating step is configured.
func (f *AutomationFlow) RatingThreshold() int {
	rating := f.FirstStepOfKind(StepKindRating)
	if rating == nil {
		return DefaultRatingThreshold
	}

	threshold, ok := rating.Float(ConfigThreshold)
	if !ok {
		return DefaultRatingThreshold
	}

	return int(threshold)
}

// Clone returns a deep copy safe to hand out as a read snapshot.
func (f *AutomationFlow) Clone() *AutomationFlow {
	clone := *f
	clone.Steps = make([]*FlowStep, len(f.Steps))

	for i, step := range f.Steps {
		stepCopy := *step
		stepCopy.Config = maps.Clone(step.Config)
		clone.Steps[i] = &stepCopy
	}

	return &clone
}
