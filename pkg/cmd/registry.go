package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atlas-fitness/automations/pkg/dedupe"
	"github.com/atlas-fitness/automations/pkg/persistence"
	"github.com/atlas-fitness/automations/pkg/registry"
)

// NewRegistry builds the trigger index from the stored workflow definitions.
func NewRegistry(ctx context.Context, logger *slog.Logger, p persistence.Persistence) *registry.Registry {
	reg := registry.NewRegistry(logger)

	workflows, err := p.WorkflowRepository().All(ctx)
	if err != nil {
		panic(fmt.Errorf("failed to load workflows: %w", err))
	}

	reg.Sync(workflows)

	return reg
}

// NewDedupeStore returns the Redis-backed store when a URL is configured,
// otherwise an in-process one. The memory store only protects a single
// gateway instance.
func NewDedupeStore(redisURL string, logger *slog.Logger) dedupe.Store {
	if redisURL == "" {
		logger.Warn("REDIS_URL not set, using in-memory dedupe store")

		return dedupe.NewMemoryStore()
	}

	store, err := dedupe.NewRedisStore(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to connect to redis: %w", err))
	}

	return store
}
