package main

import (
	"context"
	"os"
	"time"

	"github.com/cadencehq/cadence/pkg/cmd"
	"github.com/cadencehq/cadence/pkg/eventbus"
	"github.com/cadencehq/cadence/pkg/executor"
	"github.com/cadencehq/cadence/pkg/log"
	"github.com/cadencehq/cadence/pkg/otelhelper"
	"github.com/cadencehq/cadence/pkg/reconciler"
	"github.com/cadencehq/cadence/pkg/runner"
	"github.com/cadencehq/cadence/pkg/services"
	"github.com/cadencehq/cadence/pkg/statuscache"
	"go.opentelemetry.io/otel/trace"

	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "cadence-api",
		Usage:                 "Serve the automation dashboard API",
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
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "runner-base-url",
				Usage:    "Base URL of the hosted automation runner",
				Required: true,
				Sources:  cli.EnvVars("RUNNER_BASE_URL"),
			},
			&cli.DurationFlag{
				Name:    "runner-timeout",
				Usage:   "HTTP timeout for runner calls",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("RUNNER_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, memory); empty disables lifecycle events",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the status cache; empty disables caching",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password for the status cache",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database for the status cache",
				Sources: cli.EnvVars("REDIS_DB"),
			},
			&cli.DurationFlag{
				Name:    "reconcile-interval",
				Usage:   "Interval between status reconciliation passes",
				Value:   reconciler.DefaultInterval,
				Sources: cli.EnvVars("RECONCILE_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "revert-after",
				Usage:   "Delay before terminal execution states revert to idle",
				Value:   executor.DefaultRevertAfter,
				Sources: cli.EnvVars("REVERT_AFTER"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing for run execution",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Cadence API")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
			if err != nil {
				return err
			}

			var publisher eventbus.EventPublisher

			if eventBus != nil {
				publisher = eventBus

				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
					}
				}()
			}

			var tracer trace.Tracer

			if command.Bool("tracing") {
				tracer, err = otelhelper.NewTracer(ctx, "cadence-api")
				if err != nil {
					return err
				}
			}

			runnerClient := runner.NewClient(command.String("runner-base-url"), command.Duration("runner-timeout"), logger)

			states := executor.NewStateStore(command.Duration("revert-after"))
			defer states.Stop()

			coordinator := executor.NewCoordinator(runnerClient, states, persistence, publisher, tracer, logger)

			service := services.NewAutomation(persistence, coordinator, runnerClient, logger)
			if err := service.Mount(ctx); err != nil {
				return err
			}

			var sink reconciler.ReportSink

			if addr := command.String("redis-addr"); addr != "" {
				cache, err := statuscache.New(ctx, addr, command.String("redis-password"), command.Int("redis-db"), logger)
				if err != nil {
					return err
				}

				defer func() {
					if err := cache.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close status cache", "error", err)
					}
				}()

				// Seed durable fields from the last snapshot so the dashboard
				// is warm before the first reconciliation pass.
				g := service.Graph()
				if err := cache.Seed(ctx, g.Codes(), g.ApplyReport); err != nil {
					logger.WarnContext(ctx, "Failed to seed graph from status cache", "error", err)
				}

				sink = cache
			}

			loop := reconciler.NewLoop(runnerClient, service.Graph, sink, command.Duration("reconcile-interval"), logger)
			loop.Start(ctx)
			defer loop.Stop()

			api := NewAPI(logger, service)

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
