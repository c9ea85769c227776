package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Migration is one schema step. Versions are applied in ascending order.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// Migrations is the full, ordered schema history.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "create search_terms and content_records",
		Up: `
			CREATE TABLE search_terms (
				term                   TEXT PRIMARY KEY,
				active                 BOOLEAN NOT NULL DEFAULT TRUE,
				priority               SMALLINT NOT NULL DEFAULT 1 CHECK (priority BETWEEN 1 AND 5),
				description            TEXT,
				max_records_per_run    INTEGER NOT NULL DEFAULT 100 CHECK (max_records_per_run >= 0),
				run_interval_minutes   INTEGER NOT NULL DEFAULT 60 CHECK (run_interval_minutes >= 0),
				tags                   TEXT[] NOT NULL DEFAULT '{}',
				total_records_ingested BIGINT NOT NULL DEFAULT 0,
				last_run_at            TIMESTAMPTZ,
				created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX idx_search_terms_active_priority ON search_terms (active, priority);
			CREATE INDEX idx_search_terms_tags ON search_terms USING GIN (tags);

			CREATE TABLE content_records (
				record_id              TEXT PRIMARY KEY,
				text                   TEXT NOT NULL,
				lang                   TEXT NOT NULL DEFAULT '',
				created_at             TIMESTAMPTZ NOT NULL,
				author_id              TEXT NOT NULL DEFAULT '',
				author_handle          TEXT NOT NULL DEFAULT '',
				author_name            TEXT NOT NULL DEFAULT '',
				author_verified        BOOLEAN NOT NULL DEFAULT FALSE,
				author_followers_count BIGINT NOT NULL DEFAULT 0,
				author_following_count BIGINT NOT NULL DEFAULT 0,
				repost_count           BIGINT NOT NULL DEFAULT 0,
				favorite_count         BIGINT NOT NULL DEFAULT 0,
				reply_count            BIGINT NOT NULL DEFAULT 0,
				quote_count            BIGINT NOT NULL DEFAULT 0,
				hashtags               TEXT[] NOT NULL DEFAULT '{}',
				is_reshare             BOOLEAN NOT NULL DEFAULT FALSE,
				is_quoted              BOOLEAN NOT NULL DEFAULT FALSE,
				is_reply               BOOLEAN NOT NULL DEFAULT FALSE,
				reshared_record_id     TEXT,
				quoted_record_id       TEXT,
				in_reply_to_record_id  TEXT,
				in_reply_to_user_id    TEXT,
				in_reply_to_handle     TEXT,
				importance_score       DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (importance_score BETWEEN 0 AND 100),
				matched_terms          TEXT[] NOT NULL DEFAULT '{}',
				raw                    JSONB,
				ingested_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX idx_content_records_created_at ON content_records (created_at DESC);
			CREATE INDEX idx_content_records_score_updated ON content_records (importance_score DESC, updated_at);
			CREATE INDEX idx_content_records_author ON content_records (author_id);
			CREATE INDEX idx_content_records_matched_terms ON content_records USING GIN (matched_terms);`,
		Down: `
			DROP TABLE IF EXISTS content_records;
			DROP TABLE IF EXISTS search_terms;`,
	},
	{
		Version:     2,
		Description: "create run_logs",
		Up: `
			CREATE TABLE run_logs (
				id          UUID PRIMARY KEY,
				trigger     TEXT NOT NULL,
				started_at  TIMESTAMPTZ NOT NULL,
				finished_at TIMESTAMPTZ NOT NULL,
				attempted   INTEGER NOT NULL DEFAULT 0,
				failed      INTEGER NOT NULL DEFAULT 0,
				inserted    INTEGER NOT NULL DEFAULT 0,
				updated     INTEGER NOT NULL DEFAULT 0,
				skipped     INTEGER NOT NULL DEFAULT 0,
				outcomes    JSONB NOT NULL DEFAULT '[]'
			);
			CREATE INDEX idx_run_logs_finished_at ON run_logs (finished_at);`,
		Down: `DROP TABLE IF EXISTS run_logs;`,
	},
}

// MigrationStatus reports whether a migration has been applied.
type MigrationStatus struct {
	Version     int        `db:"version" json:"version"`
	Description string     `db:"description" json:"description"`
	AppliedAt   *time.Time `db:"applied_at" json:"applied_at,omitempty"`
}

type Migrator struct {
	db         *sqlx.DB
	migrations []Migration
	logger     *slog.Logger
}

func NewMigrator(db *sqlx.DB, migrations []Migration, logger *slog.Logger) *Migrator {
	return &Migrator{
		db:         db,
		migrations: migrations,
		logger:     logger.With("component", "migrator"),
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", classify(err))
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	var rows []MigrationStatus
	if err := m.db.SelectContext(ctx, &rows, "SELECT version, description, applied_at FROM schema_migrations"); err != nil {
		return nil, classify(err)
	}

	result := make(map[int]time.Time, len(rows))
	for _, r := range rows {
		if r.AppliedAt != nil {
			result[r.Version] = *r.AppliedAt
		}
	}
	return result, nil
}

// Up applies every pending migration, each in its own transaction.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}

	done, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}

		err := m.inTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, mig.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
				mig.Version, mig.Description,
			)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("apply migration %d: %w", mig.Version, err)
		}

		m.logger.Info("applied migration", "version", mig.Version, "description", mig.Description)
		count++
	}

	return count, nil
}

// Down rolls back the most recent steps applied migrations.
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}

	done, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := len(m.migrations) - 1; i >= 0 && count < steps; i-- {
		mig := m.migrations[i]
		if _, ok := done[mig.Version]; !ok {
			continue
		}

		err := m.inTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, mig.Down); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", mig.Version)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("roll back migration %d: %w", mig.Version, err)
		}

		m.logger.Info("rolled back migration", "version", mig.Version, "description", mig.Description)
		count++
	}

	return count, nil
}

func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, len(m.migrations))
	for i, mig := range m.migrations {
		statuses[i] = MigrationStatus{Version: mig.Version, Description: mig.Description}
		if at, ok := done[mig.Version]; ok {
			statuses[i].AppliedAt = &at
		}
	}
	return statuses, nil
}

func (m *Migrator) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
