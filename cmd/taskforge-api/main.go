package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/taskforge/taskforge/pkg/cmd"
	"github.com/taskforge/taskforge/pkg/collaborators/httpapi"
	"github.com/taskforge/taskforge/pkg/log"
	"github.com/taskforge/taskforge/pkg/otelhelper"
	"github.com/taskforge/taskforge/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "taskforge-api",
		Usage:                 "Manage workflow definitions and runs",
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
				Usage:    "Database connection URL (postgres://... or a file path)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "collaborators-url",
				Usage:    "Base URL of the host task-management API",
				Required: true,
				Sources:  cli.EnvVars("COLLABORATORS_URL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
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

			logger.InfoContext(ctx, "Initializing TaskForge API")

			client := httpapi.NewClient(command.String("collaborators-url"))

			registry := cmd.NewRegistry(logger, cmd.Collaborators{
				Tasks:         client,
				Projects:      client,
				Activities:    client,
				Notifications: client,
				Agents:        client,
			})

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(logger)

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var tracer trace.Tracer

			if command.Bool("tracing") {
				var err error

				tracer, err = otelhelper.NewTracer(ctx, "taskforge-api")
				if err != nil {
					return err
				}
			}

			engine := workflow.NewEngine(persistence, registry, workflow.Collaborators{
				Tasks:  client,
				Agents: client,
				Audit:  client.Audit(),
			}, eventBus, logger, tracer)

			activator := NewActivator(engine, eventBus, logger)
			if err := activator.Run(ctx); err != nil {
				return err
			}

			api := NewAPI(logger, persistence, registry, engine, eventBus)

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("Failed to run taskforge-api", "error", err)
		os.Exit(1)
	}
}
