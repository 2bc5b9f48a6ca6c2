package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/reviewloop/reviewloop/pkg/eventbus"
	"github.com/reviewloop/reviewloop/pkg/events"
	"github.com/reviewloop/reviewloop/pkg/messaging"
	"github.com/reviewloop/reviewloop/pkg/models"
	"github.com/reviewloop/reviewloop/pkg/persistence"
	"github.com/reviewloop/reviewloop/pkg/scheduler"
	"github.com/reviewloop/reviewloop/pkg/template"
)

const defaultWaitDelay = 24 * time.Hour

// FlowConfig carries the business identity injected into rendered
// templates and generated links.
type FlowConfig struct {
	BusinessName string
	LinkBase     string
}

// Flow owns automation flow definitions and drives their execution:
// deferred solicitation after a triggering event, rating-branch handling,
// and the hand-offs to the escalation and incentive engines.
type Flow struct {
	persistence persistence.Persistence
	dispatcher  messaging.Dispatcher
	escalations *Escalation
	incentives  *Incentive
	scheduler   *scheduler.Scheduler
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	config      FlowConfig
}

// NewFlow creates a new automation flow service. The publisher may be nil
// when no event bus is wired.
func NewFlow(
	p persistence.Persistence,
	dispatcher messaging.Dispatcher,
	escalations *Escalation,
	incentives *Incentive,
	sched *scheduler.Scheduler,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	config FlowConfig,
) *Flow {
	return &Flow{
		persistence: p,
		dispatcher:  dispatcher,
		escalations: escalations,
		incentives:  incentives,
		scheduler:   sched,
		publisher:   publisher,
		logger:      logger.With("module", "flow_service"),
		config:      config,
	}
}

func defaultTemplates(channel models.Channel) models.FlowTemplates {
	if channel == models.ChannelSMS {
		return models.FlowTemplates{
			Initial:    "Hi {name}, thanks for visiting {business}! How did we do? Tap a link below to rate us.",
			HighRating: "Thank you {name}! We'd love a public review: {google_url}. Here's a little something from {business}: {incentive}",
			LowRating:  "We're sorry we fell short, {name}. Tell us what went wrong so {business} can make it right: {feedback_url}",
		}
	}

	return models.FlowTemplates{
		Initial:    "Hi {name},\n\nThank you for choosing {business_name}. We'd really appreciate a moment of your time to rate your experience — just click one of the links below.",
		HighRating: "Thank you {name}!\n\nWe're thrilled you had a great experience with {business_name}. Would you share it publicly? {google_url}\n\nAs a thank you: {incentive}",
		LowRating:  "Hi {name},\n\nWe're sorry your experience with {business_name} wasn't what it should have been. Please tell us what went wrong: {feedback_url}",
	}
}

func defaultSteps(channel models.Channel) []*models.FlowStep {
	return []*models.FlowStep{
		{
			ID:   uuid.New().String(),
			Kind: models.StepKindWait,
			Config: map[string]any{
				models.ConfigDelayHours: 24.0,
			},
		},
		{
			ID:   uuid.New().String(),
			Kind: models.StepKindMessage,
			Config: map[string]any{
				models.ConfigChannel: string(channel),
			},
		},
		{
			ID:   uuid.New().String(),
			Kind: models.StepKindRating,
			Config: map[string]any{
				models.ConfigThreshold: float64(models.DefaultRatingThreshold),
			},
		},
		{
			ID:   uuid.New().String(),
			Kind: models.StepKindCondition,
			Config: map[string]any{
				models.ConfigLinks: []any{"google", "feedback"},
			},
		},
		{
			ID:   uuid.New().String(),
			Kind: models.StepKindAction,
			Config: map[string]any{
				models.ConfigAction:    "send_incentive",
				models.ConfigIncentive: "10% off your next visit",
			},
		},
	}
}

// Create stores a new flow seeded with the canonical step sequence and the
// channel's default templates. Step ordering is fixed from here on.
func (s *Flow) Create(ctx context.Context, name string, channel models.Channel) (*models.AutomationFlow, error) {
	now := time.Now()
	flow := &models.AutomationFlow{
		ID:        uuid.New().String(),
		Name:      name,
		Channel:   channel,
		Status:    models.FlowStatusActive,
		Steps:     defaultSteps(channel),
		Templates: defaultTemplates(channel),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.persistence.Flows().Save(ctx, flow); err != nil {
		return nil, fmt.Errorf("failed to save flow: %w", err)
	}

	return flow, nil
}

// flowDefinition is the import document shape, validated against the flow
// schema before unmarshalling.
type flowDefinition struct {
	Name      string                `json:"name"`
	Channel   models.Channel        `json:"channel"`
	Status    models.FlowStatus     `json:"status"`
	Steps     []*models.FlowStep    `json:"steps"`
	Templates *models.FlowTemplates `json:"templates"`
}

// Import validates a raw flow document and stores it. Missing templates
// fall back to the channel defaults; missing step ids are generated.
func (s *Flow) Import(ctx context.Context, raw []byte) (*models.AutomationFlow, error) {
	if err := models.ValidateFlowDefinition(raw); err != nil {
		return nil, err
	}

	var def flowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidFlowDefinition, err)
	}

	now := time.Now()
	flow := &models.AutomationFlow{
		ID:        uuid.New().String(),
		Name:      def.Name,
		Channel:   def.Channel,
		Status:    def.Status,
		Steps:     def.Steps,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if flow.Status == "" {
		flow.Status = models.FlowStatusActive
	}

	if def.Templates != nil {
		flow.Templates = *def.Templates
	} else {
		flow.Templates = defaultTemplates(def.Channel)
	}

	for _, step := range flow.Steps {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
	}

	if err := s.persistence.Flows().Save(ctx, flow); err != nil {
		return nil, fmt.Errorf("failed to save imported flow: %w", err)
	}

	return flow, nil
}

// List returns all flows, oldest first.
func (s *Flow) List(ctx context.Context) ([]*models.AutomationFlow, error) {
	flows, err := s.persistence.Flows().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	sort.SliceStable(flows, func(i, j int) bool {
		return flows[i].CreatedAt.Before(flows[j].CreatedAt)
	})

	return flows, nil
}

// Get fetches a flow by id.
func (s *Flow) Get(ctx context.Context, id string) (*models.AutomationFlow, error) {
	return s.persistence.Flows().GetByID(ctx, id)
}

// GetByChannel fetches the channel's default flow.
func (s *Flow) GetByChannel(ctx context.Context, channel models.Channel) (*models.AutomationFlow, error) {
	return s.persistence.Flows().GetByChannel(ctx, channel)
}

// UpdateStep merges patch fields into the named step's configuration. An
// unknown flow or step id is a silent no-op, not an error: callers rely on
// idempotent fire-and-forget updates.
func (s *Flow) UpdateStep(ctx context.Context, flowID, stepID string, patch map[string]any) error {
	_, err := s.persistence.Flows().Update(ctx, flowID, func(f *models.AutomationFlow) error {
		step := f.StepByID(stepID)
		if step == nil {
			return nil
		}

		step.MergeConfig(patch)
		f.UpdatedAt = time.Now()

		return nil
	})
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return nil
		}

		return fmt.Errorf("failed to update step: %w", err)
	}

	return nil
}

// TemplatePatch is a partial update of the three-template set; nil fields
// are left untouched.
type TemplatePatch struct {
	Initial    *string `json:"initial,omitempty"`
	HighRating *string `json:"high_rating,omitempty"`
	LowRating  *string `json:"low_rating,omitempty"`
}

// UpdateTemplates merges patch fields into the flow's template set.
func (s *Flow) UpdateTemplates(ctx context.Context, flowID string, patch TemplatePatch) (*models.AutomationFlow, error) {
	return s.persistence.Flows().Update(ctx, flowID, func(f *models.AutomationFlow) error {
		if patch.Initial != nil {
			f.Templates.Initial = *patch.Initial
		}

		if patch.HighRating != nil {
			f.Templates.HighRating = *patch.HighRating
		}

		if patch.LowRating != nil {
			f.Templates.LowRating = *patch.LowRating
		}

		f.UpdatedAt = time.Now()

		return nil
	})
}

// ToggleStatus flips a flow between active and paused. Pausing cancels the
// flow's pending deferred dispatches so they become no-ops.
func (s *Flow) ToggleStatus(ctx context.Context, flowID string) (*models.AutomationFlow, error) {
	flow, err := s.persistence.Flows().Update(ctx, flowID, func(f *models.AutomationFlow) error {
		if f.Status == models.FlowStatusActive {
			f.Status = models.FlowStatusPaused
		} else {
			f.Status = models.FlowStatusActive
		}

		f.UpdatedAt = time.Now()

		return nil
	})
	if err != nil {
		return nil, err
	}

	if flow.Status == models.FlowStatusPaused {
		cancelled := s.scheduler.CancelPrefix(instancePrefix(flowID))
		if cancelled > 0 {
			s.logger.InfoContext(ctx, "Cancelled pending dispatches for paused flow",
				"flow_id", flowID,
				"cancelled", cancelled,
			)
		}
	}

	return flow, nil
}

// UpdateDelay rewrites the delay on the flow's wait step. An unknown flow
// or a flow without a wait step is a silent no-op.
func (s *Flow) UpdateDelay(ctx context.Context, flowID string, hours float64) error {
	_, err := s.persistence.Flows().Update(ctx, flowID, func(f *models.AutomationFlow) error {
		wait := f.FirstStepOfKind(models.StepKindWait)
		if wait == nil {
			return nil
		}

		wait.MergeConfig(map[string]any{models.ConfigDelayHours: hours})
		f.UpdatedAt = time.Now()

		return nil
	})
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return nil
		}

		return fmt.Errorf("failed to update delay: %w", err)
	}

	return nil
}

func instancePrefix(flowID string) string {
	return "flow:" + flowID + ":"
}

func instanceKey(flowID, eventID string) string {
	return instancePrefix(flowID) + eventID
}

// HandleTrigger reacts to a completed appointment: it schedules one
// deferred solicitation after the flow's configured wait delay. Scheduling
// never blocks; cancellation is re-checked at fire time.
func (s *Flow) HandleTrigger(ctx context.Context, event events.AppointmentCompleted) error {
	flow, err := s.GetByChannel(ctx, event.Channel)
	if err != nil {
		return fmt.Errorf("no flow for channel %s: %w", event.Channel, err)
	}

	if flow.Status != models.FlowStatusActive {
		s.logger.InfoContext(ctx, "Flow is paused, ignoring trigger",
			"flow_id", flow.ID,
			"customer_id", event.CustomerID,
		)

		return nil
	}

	delay, ok := flow.WaitDelay()
	if !ok {
		delay = defaultWaitDelay
	}

	flowID := flow.ID
	s.scheduler.Schedule(instanceKey(flowID, event.ID), delay, func() {
		// The scheduler fires outside the triggering request; use a
		// fresh context.
		fireCtx := context.Background()

		if err := s.dispatchInitial(fireCtx, flowID, event); err != nil {
			s.logger.ErrorContext(fireCtx, "Deferred dispatch failed",
				"flow_id", flowID,
				"customer_id", event.CustomerID,
				"error", err,
			)
		}
	})

	s.logger.InfoContext(ctx, "Scheduled feedback solicitation",
		"flow_id", flowID,
		"customer_id", event.CustomerID,
		"delay", delay,
	)

	return nil
}

// dispatchInitial renders and sends the solicitation message. The flow is
// reloaded at fire time so a pause that happened during the delay turns the
// dispatch into a no-op. A failed send leaves metrics untouched.
func (s *Flow) dispatchInitial(ctx context.Context, flowID string, event events.AppointmentCompleted) error {
	flow, err := s.Get(ctx, flowID)
	if err != nil {
		return err
	}

	if flow.Status != models.FlowStatusActive {
		s.logger.InfoContext(ctx, "Flow paused before dispatch, skipping", "flow_id", flowID)

		return nil
	}

	body := template.Render(flow.Templates.Initial, s.baseVars(event.CustomerName))
	body += "\n\n" + s.ratingLinks(flow.ID, event.CustomerID)

	msg := messaging.Message{
		Channel: flow.Channel,
		Address: event.Address,
		Body:    body,
	}
	if flow.Channel == models.ChannelEmail {
		msg.Subject = fmt.Sprintf("How was your experience with %s?", s.config.BusinessName)
	}

	if err := s.dispatcher.Send(ctx, msg); err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	_, err = s.persistence.Flows().Update(ctx, flowID, func(f *models.AutomationFlow) error {
		f.Metrics.Sent++

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record sent metric: %w", err)
	}

	return nil
}

// HandleRating evaluates a rating response against the flow's threshold and
// branches: at or above sends the high-rating template and issues an
// incentive; below sends the low-rating template and opens an escalation.
// The escalation hand-off is fire-and-forget: its failure is reported but
// never rolls back the already-handled response.
func (s *Flow) HandleRating(ctx context.Context, event events.FeedbackReceived) error {
	var (
		flow *models.AutomationFlow
		err  error
	)

	if event.FlowID != "" {
		flow, err = s.Get(ctx, event.FlowID)
	} else {
		flow, err = s.GetByChannel(ctx, event.Channel)
	}

	if err != nil {
		return fmt.Errorf("no flow for rating response: %w", err)
	}

	if event.Rating >= flow.RatingThreshold() {
		return s.handleHighRating(ctx, flow, event)
	}

	return s.handleLowRating(ctx, flow, event)
}

func (s *Flow) handleHighRating(ctx context.Context, flow *models.AutomationFlow, event events.FeedbackReceived) error {
	vars := s.baseVars(event.CustomerName)
	vars["google_url"] = s.config.LinkBase + "/reviews/google"
	vars["incentive"] = s.issueIncentive(ctx, flow, event)

	body := template.Render(flow.Templates.HighRating, vars)

	msg := messaging.Message{
		Channel: flow.Channel,
		Address: event.Address,
		Body:    body,
	}
	if flow.Channel == models.ChannelEmail {
		msg.Subject = fmt.Sprintf("Thank you from %s!", s.config.BusinessName)
	}

	if err := s.dispatcher.Send(ctx, msg); err != nil {
		return fmt.Errorf("high-rating dispatch failed: %w", err)
	}

	return nil
}

// issueIncentive creates and sends a reward for a qualifying rating and
// returns the text substituted for the {incentive} token. Failures fall
// back to the action step's configured description.
func (s *Flow) issueIncentive(ctx context.Context, flow *models.AutomationFlow, event events.FeedbackReceived) string {
	description := "a thank-you reward"

	if action := flow.FirstStepOfKind(models.StepKindAction); action != nil {
		if configured, ok := action.String(models.ConfigIncentive); ok {
			description = configured
		}
	}

	if s.incentives == nil {
		return description
	}

	incentive, err := s.incentives.Create(ctx, CreateIncentiveRequest{
		Type:     models.IncentiveDiscount,
		Value:    10,
		ReviewID: event.ReviewID,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to create incentive for positive rating",
			"flow_id", flow.ID,
			"review_id", event.ReviewID,
			"error", err,
		)

		return description
	}

	incentive, err = s.incentives.Send(ctx, incentive.ID, event.CustomerID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to send incentive",
			"incentive_id", incentive.ID,
			"error", err,
		)

		return description
	}

	s.publish(ctx, event.CustomerID, events.IncentiveIssued{
		BaseEvent: events.BaseEvent{
			ID:        uuid.New().String(),
			Type:      events.IncentiveIssuedEvent,
			Timestamp: time.Now(),
		},
		IncentiveID: incentive.ID,
		Code:        incentive.Code,
		CustomerID:  event.CustomerID,
		Kind:        incentive.Type,
		Value:       incentive.Value,
	})

	return fmt.Sprintf("%s (code %s)", description, incentive.Code)
}

func (s *Flow) handleLowRating(ctx context.Context, flow *models.AutomationFlow, event events.FeedbackReceived) error {
	vars := s.baseVars(event.CustomerName)
	vars["feedback_url"] = fmt.Sprintf("%s/feedback/%s", s.config.LinkBase, event.ReviewID)

	body := template.Render(flow.Templates.LowRating, vars)

	msg := messaging.Message{
		Channel: flow.Channel,
		Address: event.Address,
		Body:    body,
	}
	if flow.Channel == models.ChannelEmail {
		msg.Subject = fmt.Sprintf("We'd like to make it right — %s", s.config.BusinessName)
	}

	var sendErr error
	if err := s.dispatcher.Send(ctx, msg); err != nil {
		// A failed send is reported but does not stop the escalation.
		sendErr = fmt.Errorf("low-rating dispatch failed: %w", err)
		s.logger.ErrorContext(ctx, "Low-rating dispatch failed",
			"flow_id", flow.ID,
			"error", err,
		)
	}

	escalation, err := s.escalations.Create(ctx, CreateEscalationRequest{
		ReviewID:   event.ReviewID,
		CustomerID: event.CustomerID,
		Rating:     event.Rating,
		Content:    event.Comment,
	})
	if err != nil {
		return errors.Join(sendErr, fmt.Errorf("feedback recorded but escalation failed: %w", err))
	}

	s.publish(ctx, escalation.ID, events.EscalationRaised{
		BaseEvent: events.BaseEvent{
			ID:        uuid.New().String(),
			Type:      events.EscalationRaisedEvent,
			Timestamp: time.Now(),
		},
		EscalationID: escalation.ID,
		Priority:     escalation.Priority,
		Rating:       escalation.Rating,
		Deadline:     escalation.Deadline,
	})

	return sendErr
}

func (s *Flow) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err,
		)
	}
}

func (s *Flow) baseVars(customerName string) template.Vars {
	return template.Vars{
		"name":          customerName,
		"business":      s.config.BusinessName,
		"business_name": s.config.BusinessName,
	}
}

// ratingLinks renders one link per rating value 1-5 for the solicitation
// message.
func (s *Flow) ratingLinks(flowID, customerID string) string {
	links := ""

	for rating := 1; rating <= 5; rating++ {
		links += fmt.Sprintf("%d star: %s/r/%s?rating=%d&customer=%s\n",
			rating, s.config.LinkBase, flowID, rating, customerID)
	}

	return links
}
