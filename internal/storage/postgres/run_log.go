package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"content_harvester/internal/domain"
)

type RunLogStore struct {
	db *sqlx.DB
}

func NewRunLogStore(db *sqlx.DB) *RunLogStore {
	return &RunLogStore{db: db}
}

func (s *RunLogStore) Append(ctx context.Context, summary *domain.CycleSummary) error {
	outcomes, err := json.Marshal(summary.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}

	query := `
		INSERT INTO run_logs (
			id, trigger, started_at, finished_at, attempted, failed,
			inserted, updated, skipped, outcomes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = GetExecutor(ctx, s.db).ExecContext(ctx, query,
		summary.RunID,
		summary.Trigger,
		summary.StartedAt,
		summary.FinishedAt,
		summary.Attempted,
		len(summary.Failed()),
		summary.Inserted,
		summary.Updated,
		summary.Skipped,
		string(outcomes),
	)
	return classify(err)
}

func (s *RunLogStore) Recent(ctx context.Context, limit int) ([]domain.RunLogEntry, error) {
	query, args, err := psql.Select(
		"id", "trigger", "started_at", "finished_at", "attempted", "failed",
		"inserted", "updated", "skipped", "outcomes",
	).
		From("run_logs").
		OrderBy("finished_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var entries []domain.RunLogEntry
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &entries, query, args...); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

// DeleteOlderThan prunes entries that finished before cutoff.
func (s *RunLogStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM run_logs WHERE finished_at < $1",
		cutoff,
	)
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}
