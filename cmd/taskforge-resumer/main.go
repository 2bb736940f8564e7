// Package main provides the delay resumer daemon: a scheduler that wakes
// suspended runs whose delay has elapsed.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/taskforge/taskforge/pkg/cmd"
	"github.com/taskforge/taskforge/pkg/collaborators/httpapi"
	"github.com/taskforge/taskforge/pkg/log"
	"github.com/taskforge/taskforge/pkg/resumer"
	"github.com/taskforge/taskforge/pkg/workflow"
)

func main() {
	logger := log.WithModule("resumer")

	command := &cli.Command{
		Name:                  "taskforge-resumer",
		Usage:                 "Resume suspended runs whose delay has elapsed",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron schedule for scan runs",
				Value:   "@every 30s",
				Sources: cli.EnvVars("RESUME_SCHEDULE"),
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

			logger.InfoContext(ctx, "Initializing TaskForge resumer")

			client := httpapi.NewClient(command.String("collaborators-url"))

			reg := cmd.NewRegistry(logger, cmd.Collaborators{
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

			engine := workflow.NewEngine(persistence, reg, workflow.Collaborators{
				Tasks:  client,
				Agents: client,
				Audit:  client.Audit(),
			}, nil, logger, nil)

			return runScheduler(ctx, logger, command.String("schedule"), resumer.NewResumer(persistence, engine, logger))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("Failed to run taskforge-resumer", "error", err)
		os.Exit(1)
	}
}

// runScheduler blocks scanning on the cron schedule until the process is
// signalled or the context is cancelled.
func runScheduler(ctx context.Context, logger *slog.Logger, schedule string, r *resumer.Resumer) error {
	scheduler := cron.New()

	_, err := scheduler.AddFunc(schedule, func() {
		resumed, err := r.Scan(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Scan failed", "error", err)

			return
		}

		if resumed > 0 {
			logger.InfoContext(ctx, "Resumed suspended runs", "count", resumed)
		}
	})
	if err != nil {
		return err
	}

	scheduler.Start()
	defer scheduler.Stop()

	logger.InfoContext(ctx, "Resumer scheduler started", "schedule", schedule)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-stop:
	}

	logger.InfoContext(ctx, "Resumer shutting down")

	return nil
}
