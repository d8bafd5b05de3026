package postgresql

import (
	"context"
	"fmt"
	"sort"
)

const currentSchemaVersion = 2

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id TEXT PRIMARY KEY,
				active BOOLEAN NOT NULL DEFAULT FALSE,
				deleted_at TIMESTAMPTZ,
				document JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS trigger_secrets (
				id TEXT PRIMARY KEY,
				trigger_id TEXT NOT NULL,
				status TEXT NOT NULL,
				document JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_trigger_secrets_trigger
				ON trigger_secrets (trigger_id);

			CREATE TABLE IF NOT EXISTS schedules (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				next_due_at TIMESTAMPTZ NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				document JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_schedules_due
				ON schedules (next_due_at) WHERE active;

			CREATE TABLE IF NOT EXISTS execution_traces (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				started_at TIMESTAMPTZ NOT NULL,
				document JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_execution_traces_workflow
				ON execution_traces (workflow_id, started_at);
		`,
		2: `
			CREATE TABLE IF NOT EXISTS deliveries (
				id TEXT PRIMARY KEY,
				trigger_id TEXT NOT NULL,
				received_at TIMESTAMPTZ NOT NULL,
				document JSONB NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_deliveries_trigger
				ON deliveries (trigger_id, received_at DESC);
		`,
	}
}

func (p *Persistence) migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var version int
	if err := p.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return fmt.Errorf("failed to query current schema version: %w", err)
	}

	if version >= currentSchemaVersion {
		return nil
	}

	all := migrations()

	versions := make([]int, 0, len(all))
	for v := range all {
		versions = append(versions, v)
	}

	sort.Ints(versions)

	for _, v := range versions {
		if v <= version {
			continue
		}

		p.logger.InfoContext(ctx, "Applying migration", "version", v)

		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", v, err)
		}

		if _, err := tx.ExecContext(ctx, all[v]); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to execute migration %d: %w", v, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", v); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to record migration %d: %w", v, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", v, err)
		}
	}

	return nil
}
