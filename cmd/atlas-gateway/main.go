package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-fitness/automations/pkg/cmd"
	"github.com/atlas-fitness/automations/pkg/dispatch"
	"github.com/atlas-fitness/automations/pkg/gateway"
	"github.com/atlas-fitness/automations/pkg/log"
	"github.com/atlas-fitness/automations/pkg/secrets"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort   = 8090
	sweepInterval = 10 * time.Minute
)

func main() {
	command := &cli.Command{
		Name:                  "atlas-gateway",
		Usage:                 "Webhook intake for automation triggers",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the gateway on",
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
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the delivery dedupe store",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup("atlas-gateway", command.String("log-level"))
			logger := log.WithModule("gateway")

			logger.InfoContext(ctx, "Initializing webhook gateway")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "atlas-gateway", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			registry := cmd.NewRegistry(ctx, logger, persistence)
			dedupeStore := cmd.NewDedupeStore(command.String("redis-url"), logger)
			defer dedupeStore.Close()

			secretManager := secrets.NewManager(persistence.SecretRepository(), logger)
			dispatcher := dispatch.NewBusDispatcher(eventBus, logger)

			server := gateway.NewGateway(
				command.Int("port"),
				registry,
				secretManager,
				dedupeStore,
				persistence.DeliveryRepository(),
				dispatcher,
				logger,
			)

			if err := server.Start(ctx); err != nil {
				return err
			}

			// Retiring secrets of idle triggers are not swept by verification,
			// so revoke them on a timer.
			go func() {
				ticker := time.NewTicker(sweepInterval)
				defer ticker.Stop()

				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if _, err := secretManager.SweepRetired(ctx); err != nil {
							logger.ErrorContext(ctx, "Secret sweep failed", "error", err)
						}
					}
				}
			}()

			// Domain events (lead.created, client.checkin, form.submitted) are
			// matched against the same registry; this blocks until shutdown.
			consumer := dispatch.NewDomainConsumer(registry, dispatcher, eventBus, logger)

			return consumer.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
