package services

import (
	"log/slog"
	"testing"
	"time"

	"github.com/reviewloop/reviewloop/pkg/events"
	"github.com/reviewloop/reviewloop/pkg/messaging"
	"github.com/reviewloop/reviewloop/pkg/models"
	"github.com/reviewloop/reviewloop/pkg/persistence"
	"github.com/reviewloop/reviewloop/pkg/persistence/memory"
	"github.com/reviewloop/reviewloop/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flowFixture struct {
	service     *Flow
	escalations *Escalation
	incentives  *Incentive
	recorder    *messaging.Recorder
	scheduler   *scheduler.Scheduler
	persistence persistence.Persistence
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()

	logger := slog.Default()
	p := memory.NewPersistence()
	recorder := messaging.NewRecorder()
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	escalations := NewEscalation(p, logger)
	incentives := NewIncentive(p, logger)
	service := NewFlow(p, recorder, escalations, incentives, sched, nil, logger, FlowConfig{
		BusinessName: "Corner Cafe",
		LinkBase:     "https://reviews.example.com",
	})

	return &flowFixture{
		service:     service,
		escalations: escalations,
		incentives:  incentives,
		recorder:    recorder,
		scheduler:   sched,
		persistence: p,
	}
}

func waitForMessages(t *testing.T, recorder *messaging.Recorder, count int) []messaging.Message {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := recorder.Messages(); len(msgs) >= count {
			return msgs
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("expected %d messages, got %d", count, len(recorder.Messages()))

	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition not met before deadline")
}

func appointmentEvent(id string, channel models.Channel) events.AppointmentCompleted {
	return events.AppointmentCompleted{
		BaseEvent: events.BaseEvent{
			ID:        id,
			Type:      events.AppointmentCompletedEvent,
			Timestamp: time.Now(),
		},
		CustomerID:   "c1",
		CustomerName: "Ada",
		Address:      "ada@example.com",
		Channel:      channel,
	}
}

func feedbackEvent(flowID string, rating int) events.FeedbackReceived {
	return events.FeedbackReceived{
		BaseEvent: events.BaseEvent{
			ID:        "evt-feedback",
			Type:      events.FeedbackReceivedEvent,
			Timestamp: time.Now(),
		},
		FlowID:       flowID,
		ReviewID:     "rev-1",
		CustomerID:   "c1",
		CustomerName: "Ada",
		Address:      "ada@example.com",
		Channel:      models.ChannelEmail,
		Rating:       rating,
		Comment:      "detailed feedback",
	}
}

func TestFlow_Create_SeedsCanonicalSteps(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	assert.Equal(t, models.FlowStatusActive, flow.Status)
	require.Len(t, flow.Steps, 5)
	assert.Equal(t, models.StepKindWait, flow.Steps[0].Kind)
	assert.Equal(t, models.StepKindMessage, flow.Steps[1].Kind)
	assert.Equal(t, models.StepKindRating, flow.Steps[2].Kind)
	assert.Equal(t, models.StepKindCondition, flow.Steps[3].Kind)
	assert.Equal(t, models.StepKindAction, flow.Steps[4].Kind)

	delay, ok := flow.WaitDelay()
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, delay)
	assert.Equal(t, models.DefaultRatingThreshold, flow.RatingThreshold())

	assert.NotEmpty(t, flow.Templates.Initial)
	assert.Contains(t, flow.Templates.HighRating, "{google_url}")
	assert.Contains(t, flow.Templates.LowRating, "{feedback_url}")
}

func TestFlow_Import(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Import(t.Context(), []byte(`{
		"name": "Imported SMS flow",
		"channel": "sms",
		"steps": [
			{"kind": "wait", "config": {"delay_hours": 2}},
			{"kind": "message"}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "Imported SMS flow", flow.Name)
	assert.Equal(t, models.FlowStatusActive, flow.Status)
	require.Len(t, flow.Steps, 2)
	assert.NotEmpty(t, flow.Steps[0].ID)

	// Missing templates fall back to channel defaults.
	assert.NotEmpty(t, flow.Templates.Initial)

	delay, ok := flow.WaitDelay()
	require.True(t, ok)
	assert.Equal(t, 2*time.Hour, delay)
}

func TestFlow_Import_InvalidDocument(t *testing.T) {
	f := newFlowFixture(t)

	_, err := f.service.Import(t.Context(), []byte(`{"channel": "email"}`))
	require.Error(t, err)
	assert.True(t, models.IsInvalidFlowDefinition(err))
}

func TestFlow_UpdateStep(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	ratingStep := flow.FirstStepOfKind(models.StepKindRating)
	require.NotNil(t, ratingStep)

	err = f.service.UpdateStep(t.Context(), flow.ID, ratingStep.ID, map[string]any{
		models.ConfigThreshold: 5.0,
	})
	require.NoError(t, err)

	updated, err := f.service.Get(t.Context(), flow.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.RatingThreshold())
}

func TestFlow_UpdateStep_UnknownIDsAreNoOps(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	// Unknown flow id.
	err = f.service.UpdateStep(t.Context(), "missing-flow", "any", map[string]any{"k": "v"})
	require.NoError(t, err)

	// Unknown step id on an existing flow.
	err = f.service.UpdateStep(t.Context(), flow.ID, "missing-step", map[string]any{"k": "v"})
	require.NoError(t, err)

	unchanged, err := f.service.Get(t.Context(), flow.ID)
	require.NoError(t, err)

	for _, step := range unchanged.Steps {
		assert.NotContains(t, step.Config, "k")
	}
}

func TestFlow_UpdateTemplates_PartialMerge(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	newInitial := "Fresh greeting for {name}"
	updated, err := f.service.UpdateTemplates(t.Context(), flow.ID, TemplatePatch{Initial: &newInitial})
	require.NoError(t, err)

	assert.Equal(t, newInitial, updated.Templates.Initial)
	assert.Equal(t, flow.Templates.HighRating, updated.Templates.HighRating)
	assert.Equal(t, flow.Templates.LowRating, updated.Templates.LowRating)
}

func TestFlow_UpdateDelay(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	require.NoError(t, f.service.UpdateDelay(t.Context(), flow.ID, 48))

	updated, err := f.service.Get(t.Context(), flow.ID)
	require.NoError(t, err)

	delay, ok := updated.WaitDelay()
	require.True(t, ok)
	assert.Equal(t, 48*time.Hour, delay)

	// Unknown flow is a no-op, not an error.
	assert.NoError(t, f.service.UpdateDelay(t.Context(), "missing", 1))
}

func TestFlow_HandleTrigger_DispatchesAfterDelay(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)
	require.NoError(t, f.service.UpdateDelay(t.Context(), flow.ID, 0))

	require.NoError(t, f.service.HandleTrigger(t.Context(), appointmentEvent("evt-1", models.ChannelEmail)))

	msgs := waitForMessages(t, f.recorder, 1)
	msg := msgs[0]

	assert.Equal(t, models.ChannelEmail, msg.Channel)
	assert.Equal(t, "ada@example.com", msg.Address)
	assert.Contains(t, msg.Subject, "Corner Cafe")
	assert.Contains(t, msg.Body, "Ada")
	assert.Contains(t, msg.Body, "Corner Cafe")

	// One rating link per value 1-5.
	for _, rating := range []string{"rating=1", "rating=2", "rating=3", "rating=4", "rating=5"} {
		assert.Contains(t, msg.Body, rating)
	}

	assert.NotContains(t, msg.Body, "{name}")

	// Metrics record the successful dispatch.
	waitFor(t, func() bool {
		fetched, err := f.service.Get(t.Context(), flow.ID)

		return err == nil && fetched.Metrics.Sent == 1
	})
}

func TestFlow_HandleTrigger_PausedFlowIgnored(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)
	require.NoError(t, f.service.UpdateDelay(t.Context(), flow.ID, 0))

	_, err = f.service.ToggleStatus(t.Context(), flow.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.HandleTrigger(t.Context(), appointmentEvent("evt-1", models.ChannelEmail)))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.recorder.Messages())
	assert.Equal(t, 0, f.scheduler.Pending())
}

func TestFlow_ToggleStatus_CancelsPendingDispatches(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	// Long enough that the timer cannot fire before the toggle.
	require.NoError(t, f.service.HandleTrigger(t.Context(), appointmentEvent("evt-1", models.ChannelEmail)))
	require.NoError(t, f.service.HandleTrigger(t.Context(), appointmentEvent("evt-2", models.ChannelEmail)))
	assert.Equal(t, 2, f.scheduler.Pending())

	paused, err := f.service.ToggleStatus(t.Context(), flow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusPaused, paused.Status)
	assert.Equal(t, 0, f.scheduler.Pending())

	resumed, err := f.service.ToggleStatus(t.Context(), flow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusActive, resumed.Status)
}

func TestFlow_DispatchSkippedWhenPausedAtFireTime(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	_, err = f.service.ToggleStatus(t.Context(), flow.ID)
	require.NoError(t, err)

	// The deferred dispatch re-checks flow status when it fires.
	err = f.service.dispatchInitial(t.Context(), flow.ID, appointmentEvent("evt-1", models.ChannelEmail))
	require.NoError(t, err)
	assert.Empty(t, f.recorder.Messages())

	fetched, err := f.service.Get(t.Context(), flow.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, fetched.Metrics.Sent)
}

func TestFlow_DispatchFailureLeavesMetricsUntouched(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	f.recorder.FailWith = assert.AnError

	err = f.service.dispatchInitial(t.Context(), flow.ID, appointmentEvent("evt-1", models.ChannelEmail))
	require.Error(t, err)

	fetched, err := f.service.Get(t.Context(), flow.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, fetched.Metrics.Sent)
}

func TestFlow_HandleRating_HighRatingSendsThanksAndIncentive(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	require.NoError(t, f.service.HandleRating(t.Context(), feedbackEvent(flow.ID, 5)))

	msgs := f.recorder.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "https://reviews.example.com/reviews/google")
	assert.Contains(t, msgs[0].Body, "RWD-")
	assert.NotContains(t, msgs[0].Body, "{incentive}")

	// The incentive was created and sent to the customer.
	issued, err := f.incentives.List(t.Context(), IncentiveFilters{})
	require.NoError(t, err)
	require.Len(t, issued, 1)
	assert.Equal(t, models.IncentiveStatusSent, issued[0].Status)
	assert.Equal(t, "c1", issued[0].CustomerID)
	assert.Equal(t, "rev-1", issued[0].ReviewID)
}

func TestFlow_HandleRating_ThresholdBoundary(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	// Rating equal to the threshold takes the high branch.
	require.NoError(t, f.service.HandleRating(t.Context(), feedbackEvent(flow.ID, models.DefaultRatingThreshold)))

	escalations, err := f.escalations.List(t.Context(), EscalationFilters{})
	require.NoError(t, err)
	assert.Empty(t, escalations)
}

func TestFlow_HandleRating_LowRatingOpensEscalation(t *testing.T) {
	f := newFlowFixture(t)

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	f.escalations.now = func() time.Time { return now }

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	require.NoError(t, f.service.HandleRating(t.Context(), feedbackEvent(flow.ID, 2)))

	msgs := f.recorder.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "https://reviews.example.com/feedback/rev-1")

	escalations, err := f.escalations.List(t.Context(), EscalationFilters{})
	require.NoError(t, err)
	require.Len(t, escalations, 1)

	escalation := escalations[0]
	assert.Equal(t, models.PriorityHigh, escalation.Priority)
	require.NotNil(t, escalation.Deadline)
	assert.Equal(t, now.Add(12*time.Hour), *escalation.Deadline)
	assert.Equal(t, "rev-1", escalation.ReviewID)
	assert.Equal(t, "detailed feedback", escalation.Content)
}

func TestFlow_HandleRating_SendFailureStillEscalates(t *testing.T) {
	f := newFlowFixture(t)

	flow, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	f.recorder.FailWith = assert.AnError

	err = f.service.HandleRating(t.Context(), feedbackEvent(flow.ID, 1))
	require.Error(t, err)

	// The escalation hand-off is independent of the dispatch outcome.
	escalations, err := f.escalations.List(t.Context(), EscalationFilters{})
	require.NoError(t, err)
	require.Len(t, escalations, 1)
	assert.Equal(t, models.PriorityUrgent, escalations[0].Priority)
}

func TestFlow_HandleRating_ByChannelWhenNoFlowID(t *testing.T) {
	f := newFlowFixture(t)

	_, err := f.service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	event := feedbackEvent("", 5)
	require.NoError(t, f.service.HandleRating(t.Context(), event))
	assert.Len(t, f.recorder.Messages(), 1)
}

func TestFlow_HandleRating_IncentiveFailureFallsBackToDescription(t *testing.T) {
	logger := slog.Default()
	p := memory.NewPersistence()
	recorder := messaging.NewRecorder()
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	// No incentive service wired at all.
	service := NewFlow(p, recorder, NewEscalation(p, logger), nil, sched, nil, logger, FlowConfig{
		BusinessName: "Corner Cafe",
		LinkBase:     "https://reviews.example.com",
	})

	flow, err := service.Create(t.Context(), "Post-visit email", models.ChannelEmail)
	require.NoError(t, err)

	require.NoError(t, service.HandleRating(t.Context(), feedbackEvent(flow.ID, 5)))

	msgs := recorder.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "10% off your next visit")
}

func TestFlow_List_OldestFirst(t *testing.T) {
	f := newFlowFixture(t)

	first, err := f.service.Create(t.Context(), "First flow", models.ChannelEmail)
	require.NoError(t, err)

	second, err := f.service.Create(t.Context(), "Second flow", models.ChannelSMS)
	require.NoError(t, err)

	listed, err := f.service.List(t.Context())
	require.NoError(t, err)
	require.Len(t, listed, 2)

	if listed[0].CreatedAt.Equal(listed[1].CreatedAt) {
		return // creation instants collided, ordering is unspecified
	}

	assert.Equal(t, first.ID, listed[0].ID)
	assert.Equal(t, second.ID, listed[1].ID)
}
