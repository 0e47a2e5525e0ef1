package sqlstore

import (
	"context"
	"fmt"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Statements use types both SQLite and PostgreSQL accept. Dates are stored as
// YYYY-MM-DD text and timestamps as RFC 3339 text.
var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    generated_at TEXT NOT NULL,
    threshold DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS model_info (
    run_id TEXT PRIMARY KEY REFERENCES runs(run_id),
    accuracy DOUBLE PRECISION NOT NULL,
    precision_score DOUBLE PRECISION NOT NULL,
    recall DOUBLE PRECISION NOT NULL,
    f1 DOUBLE PRECISION NOT NULL,
    roc_auc DOUBLE PRECISION NOT NULL,
    pr_auc DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS confusion_matrix (
    run_id TEXT NOT NULL REFERENCES runs(run_id),
    true_label INTEGER NOT NULL,
    predicted_label INTEGER NOT NULL,
    count INTEGER NOT NULL,
    PRIMARY KEY (run_id, true_label, predicted_label)
);

CREATE TABLE IF NOT EXISTS feature_importances (
    run_id TEXT NOT NULL REFERENCES runs(run_id),
    rank INTEGER NOT NULL,
    feature TEXT NOT NULL,
    importance DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, rank)
);

CREATE TABLE IF NOT EXISTS test_predictions (
    run_id TEXT NOT NULL REFERENCES runs(run_id),
    row_index INTEGER NOT NULL,
    date TEXT NOT NULL,
    lat_grid DOUBLE PRECISION NOT NULL,
    lon_grid DOUBLE PRECISION NOT NULL,
    hour INTEGER NOT NULL,
    month INTEGER NOT NULL,
    weekday INTEGER NOT NULL,
    cluster INTEGER NOT NULL,
    rolling_self_count INTEGER NOT NULL,
    rolling_neighbor_count INTEGER NOT NULL,
    true_label INTEGER NOT NULL,
    probability DOUBLE PRECISION NOT NULL,
    predicted_label INTEGER NOT NULL,
    PRIMARY KEY (run_id, row_index)
);
`,
	},
	{
		Version:     2,
		Description: "Forecast table",
		SQL: `
CREATE TABLE IF NOT EXISTS forecasts (
    run_id TEXT NOT NULL REFERENCES runs(run_id),
    lat_bin INTEGER NOT NULL,
    lon_bin INTEGER NOT NULL,
    date TEXT NOT NULL,
    lat_grid DOUBLE PRECISION NOT NULL,
    lon_grid DOUBLE PRECISION NOT NULL,
    hour INTEGER NOT NULL,
    month INTEGER NOT NULL,
    weekday INTEGER NOT NULL,
    probability DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, lat_bin, lon_bin, date)
);

CREATE INDEX IF NOT EXISTS idx_forecasts_date ON forecasts(date);
`,
	},
}

// Migrate applies pending migrations in version order, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			tx.Rebind("INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Description, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TEXT
		)
	`)
	return err
}

func (s *Store) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	var versions []int
	if err := s.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations"); err != nil {
		return nil, err
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}
