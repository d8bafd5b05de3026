package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atlas-fitness/automations/pkg/persistence"
	"github.com/atlas-fitness/automations/pkg/persistence/file"
	"github.com/atlas-fitness/automations/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend from the database URL scheme.
// postgres:// gets the real store; anything else is treated as a directory
// path for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to connect to postgres: %w", err))
		}

		return p
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}
