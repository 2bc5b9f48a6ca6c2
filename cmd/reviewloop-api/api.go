// Package main provides the Reviewloop API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/google/uuid"
	"github.com/reviewloop/reviewloop/pkg/eventbus"
	"github.com/reviewloop/reviewloop/pkg/events"
	"github.com/reviewloop/reviewloop/pkg/messaging"
	"github.com/reviewloop/reviewloop/pkg/persistence"
	"github.com/reviewloop/reviewloop/pkg/scheduler"
	"github.com/reviewloop/reviewloop/pkg/services"
	"github.com/reviewloop/reviewloop/pkg/web"
	"github.com/robfig/cron/v3"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
	scheduler   *scheduler.Scheduler

	flowService      *services.Flow
	escalationSvc    *services.Escalation
	incentiveService *services.Incentive
	milestoneService *services.Milestone

	cron *cron.Cron
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	flowConfig services.FlowConfig,
) *API {
	sched := scheduler.New(logger)
	dispatcher := messaging.NewLogDispatcher(logger)

	escalationSvc := services.NewEscalation(p, logger)
	incentiveService := services.NewIncentive(p, logger)
	milestoneService := services.NewMilestone(p, logger)
	flowService := services.NewFlow(p, dispatcher, escalationSvc, incentiveService, sched, eventBus, logger, flowConfig)

	return &API{
		logger:           logger,
		persistence:      p,
		eventBus:         eventBus,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		scheduler:        sched,
		flowService:      flowService,
		escalationSvc:    escalationSvc,
		incentiveService: incentiveService,
		milestoneService: milestoneService,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.flowService,
		a.escalationSvc,
		a.incentiveService,
		a.milestoneService,
		a.persistence,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Reviewloop API")
	})

	f := app.Group("/flows")
	f.Get("/", handlers.GetFlows)
	f.Post("/", handlers.CreateFlow)
	f.Post("/import", handlers.ImportFlow)
	f.Get("/:id", handlers.GetFlow)
	f.Patch("/:id/steps/:stepId", handlers.UpdateFlowStep)
	f.Patch("/:id/templates", handlers.UpdateFlowTemplates)
	f.Post("/:id/toggle", handlers.ToggleFlow)
	f.Patch("/:id/delay", handlers.UpdateFlowDelay)

	e := app.Group("/escalations")
	e.Get("/", handlers.GetEscalations)
	e.Post("/", handlers.CreateEscalation)
	e.Get("/stats", handlers.GetEscalationStats)
	e.Get("/:id", handlers.GetEscalation)
	e.Patch("/:id", handlers.UpdateEscalation)
	e.Post("/:id/notes", handlers.AddEscalationNote)
	e.Post("/:id/assign", handlers.AssignEscalation)
	e.Post("/:id/resolve", handlers.ResolveEscalation)

	i := app.Group("/incentives")
	i.Get("/", handlers.GetIncentives)
	i.Post("/", handlers.CreateIncentive)
	i.Post("/bulk", handlers.BulkCreateIncentives)
	i.Post("/redeem", handlers.RedeemIncentive)
	i.Get("/stats", handlers.GetIncentiveStats)
	i.Get("/:id", handlers.GetIncentive)
	i.Post("/:id/send", handlers.SendIncentive)
	i.Post("/:id/expire", handlers.ExpireIncentive)

	m := app.Group("/milestones")
	m.Get("/", handlers.GetMilestones)
	m.Post("/detect", handlers.DetectMilestones)
	m.Get("/:id/progress", handlers.GetMilestoneProgress)

	ev := app.Group("/events")
	ev.Post("/appointment-completed", handlers.AppointmentCompleted)
	ev.Post("/feedback-received", handlers.FeedbackReceived)

	app.Get("/r/:flowId", handlers.RatingLink)

	app.Get("/health", handlers.HealthCheck)

	return app
}

// RegisterEventHandlers routes bus events into the flow engine and starts
// the consumer loop.
func (a *API) RegisterEventHandlers(ctx context.Context) error {
	err := a.eventBus.Handle(events.AppointmentCompletedEvent, func(ctx context.Context, event any) error {
		completed, ok := event.(*events.AppointmentCompleted)
		if !ok {
			a.logger.ErrorContext(ctx, "Unexpected payload for appointment.completed")

			return nil
		}

		return a.flowService.HandleTrigger(ctx, *completed)
	})
	if err != nil {
		return err
	}

	err = a.eventBus.Handle(events.FeedbackReceivedEvent, func(ctx context.Context, event any) error {
		received, ok := event.(*events.FeedbackReceived)
		if !ok {
			a.logger.ErrorContext(ctx, "Unexpected payload for feedback.received")

			return nil
		}

		return a.flowService.HandleRating(ctx, *received)
	})
	if err != nil {
		return err
	}

	return a.eventBus.Subscribe(ctx)
}

// StartMilestoneSweep schedules periodic milestone detection against the
// metrics endpoint. Detected milestones are published on the bus.
func (a *API) StartMilestoneSweep(ctx context.Context, cronSpec, metricsURL string) error {
	source := newHTTPMetricsSource(metricsURL)

	a.cron = cron.New()

	_, err := a.cron.AddFunc(cronSpec, func() {
		a.runMilestoneSweep(ctx, source)
	})
	if err != nil {
		return err
	}

	a.cron.Start()
	a.logger.InfoContext(ctx, "Milestone sweep scheduled", "cron", cronSpec)

	return nil
}

func (a *API) runMilestoneSweep(ctx context.Context, source services.MetricsSource) {
	current, err := source.Current(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to fetch current metrics", "error", err)

		return
	}

	previous, err := source.Previous(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "No previous metrics available", "error", err)
	}

	detected, err := a.milestoneService.Detect(ctx, current, previous)
	if err != nil {
		a.logger.ErrorContext(ctx, "Milestone detection failed", "error", err)

		return
	}

	for _, milestone := range detected {
		err := a.eventBus.Publish(ctx, milestone.ID, events.MilestoneAchieved{
			BaseEvent: events.BaseEvent{
				ID:        uuid.New().String(),
				Type:      events.MilestoneAchievedEvent,
				Timestamp: time.Now(),
			},
			MilestoneID: milestone.ID,
			Kind:        milestone.Type,
			Value:       milestone.Value,
		})
		if err != nil {
			a.logger.ErrorContext(ctx, "Failed to publish milestone event",
				"milestone_id", milestone.ID,
				"error", err,
			)
		}
	}
}

func (a *API) Stop() {
	if a.cron != nil {
		a.cron.Stop()
	}

	a.scheduler.Stop()
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
