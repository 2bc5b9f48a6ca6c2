package main

import (
	"context"
	"os"

	"github.com/reviewloop/reviewloop/pkg/channels/redisqueue"
	"github.com/reviewloop/reviewloop/pkg/cmd"
	"github.com/reviewloop/reviewloop/pkg/log"
	"github.com/reviewloop/reviewloop/pkg/otelhelper"
	"github.com/reviewloop/reviewloop/pkg/services"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "reviewloop-api",
		Usage:                 "Run the review lifecycle automation engine",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (memory:// or postgres://)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:     "business-name",
				Usage:    "Business name rendered into outbound messages",
				Required: true,
				Sources:  cli.EnvVars("BUSINESS_NAME"),
			},
			&cli.StringFlag{
				Name:     "link-base",
				Usage:    "Base URL for rating and feedback links",
				Required: true,
				Sources:  cli.EnvVars("LINK_BASE"),
			},
			&cli.StringFlag{
				Name:    "redis-queue-url",
				Usage:   "Redis URL for the external event intake queue (optional)",
				Sources: cli.EnvVars("REDIS_QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-queue-name",
				Usage:   "Redis list name consumed for external events",
				Value:   "reviewloop:events",
				Sources: cli.EnvVars("REDIS_QUEUE_NAME"),
			},
			&cli.StringFlag{
				Name:    "metrics-url",
				Usage:   "Base URL of the metrics service used for milestone detection (optional)",
				Sources: cli.EnvVars("METRICS_URL"),
			},
			&cli.StringFlag{
				Name:    "milestone-cron",
				Usage:   "Cron expression for the milestone detection sweep",
				Value:   "0 6 * * *",
				Sources: cli.EnvVars("MILESTONE_CRON"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing via OTLP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Reviewloop API")

			if command.Bool("tracing") {
				if _, err := otelhelper.NewTracer(ctx, "reviewloop-api"); err != nil {
					logger.ErrorContext(ctx, "Failed to initialize tracer", "error", err)

					return err
				}
			}

			persistence := cmd.NewPersistence(command.String("database-url"), logger)

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			api := NewAPI(logger, persistence, eventBus, services.FlowConfig{
				BusinessName: command.String("business-name"),
				LinkBase:     command.String("link-base"),
			})
			defer api.Stop()

			if err := api.RegisterEventHandlers(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start event consumer", "error", err)

				return err
			}

			if redisURL := command.String("redis-queue-url"); redisURL != "" {
				source, err := redisqueue.NewSource(ctx, redisURL, command.String("redis-queue-name"), eventBus, logger)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to connect queue source", "error", err)

					return err
				}

				source.Start(ctx)

				defer func() {
					if err := source.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close queue source", "error", err)
					}
				}()
			}

			if metricsURL := command.String("metrics-url"); metricsURL != "" {
				if err := api.StartMilestoneSweep(ctx, command.String("milestone-cron"), metricsURL); err != nil {
					logger.ErrorContext(ctx, "Failed to schedule milestone sweep", "error", err)

					return err
				}
			}

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
