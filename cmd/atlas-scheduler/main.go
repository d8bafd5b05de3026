package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/atlas-fitness/automations/pkg/cmd"
	"github.com/atlas-fitness/automations/pkg/dispatch"
	"github.com/atlas-fitness/automations/pkg/log"
	"github.com/atlas-fitness/automations/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "atlas-scheduler",
		Usage:                 "Fire schedule triggers on their cron cadence",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup("atlas-scheduler", command.String("log-level"))
			logger := log.WithModule("scheduler")

			logger.InfoContext(ctx, "Initializing scheduler")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "atlas-scheduler", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			dispatcher := dispatch.NewBusDispatcher(eventBus, logger)
			sched := scheduler.NewScheduler(persistence, dispatcher, logger)

			// Reconcile the schedule table against the stored definitions so
			// edits made while the scheduler was down take effect.
			workflows, err := persistence.WorkflowRepository().All(ctx)
			if err != nil {
				return err
			}

			if err := sched.SyncFromWorkflows(ctx, workflows); err != nil {
				return err
			}

			return sched.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
