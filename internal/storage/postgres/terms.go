package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"content_harvester/internal/domain"
)

var termColumns = []string{
	"term", "active", "priority", "description", "max_records_per_run",
	"run_interval_minutes", "tags", "total_records_ingested", "last_run_at",
	"created_at", "updated_at",
}

type termRow struct {
	domain.SearchTerm
	Tags pq.StringArray `db:"tags"`
}

func (r termRow) toDomain() domain.SearchTerm {
	t := r.SearchTerm
	t.Tags = []string(r.Tags)
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return t
}

type TermStore struct {
	db *sqlx.DB
}

func NewTermStore(db *sqlx.DB) *TermStore {
	return &TermStore{db: db}
}

// ListActive returns active terms ordered by priority, then creation order.
func (s *TermStore) ListActive(ctx context.Context) ([]domain.SearchTerm, error) {
	active := true
	return s.List(ctx, domain.TermFilter{Active: &active})
}

// GetMany returns the stored terms among names, in priority order. Unknown
// names are left out.
func (s *TermStore) GetMany(ctx context.Context, names []string) ([]domain.SearchTerm, error) {
	if len(names) == 0 {
		return nil, nil
	}

	builder := psql.Select(termColumns...).
		From("search_terms").
		Where(sq.Expr("term = ANY(?)", pq.StringArray(names)))

	return s.selectTerms(ctx, builder)
}

func (s *TermStore) List(ctx context.Context, filter domain.TermFilter) ([]domain.SearchTerm, error) {
	builder := psql.Select(termColumns...).From("search_terms")

	if filter.Active != nil {
		builder = builder.Where(sq.Eq{"active": *filter.Active})
	}
	if filter.Tag != "" {
		builder = builder.Where(sq.Expr("? = ANY(tags)", filter.Tag))
	}
	if filter.Priority > 0 {
		builder = builder.Where(sq.Eq{"priority": filter.Priority})
	}

	return s.selectTerms(ctx, builder)
}

func (s *TermStore) Get(ctx context.Context, term string) (*domain.SearchTerm, error) {
	query, args, err := psql.Select(termColumns...).
		From("search_terms").
		Where(sq.Eq{"term": term}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row termRow
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTermNotFound
		}
		return nil, classify(err)
	}

	t := row.toDomain()
	return &t, nil
}

// Upsert creates or redefines a term. Run metadata is never touched here.
func (s *TermStore) Upsert(ctx context.Context, term *domain.SearchTerm) error {
	if err := term.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO search_terms (
			term, active, priority, description, max_records_per_run,
			run_interval_minutes, tags
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (term) DO UPDATE SET
			active = EXCLUDED.active,
			priority = EXCLUDED.priority,
			description = EXCLUDED.description,
			max_records_per_run = EXCLUDED.max_records_per_run,
			run_interval_minutes = EXCLUDED.run_interval_minutes,
			tags = EXCLUDED.tags,
			updated_at = NOW()`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		term.Term,
		term.Active,
		term.Priority,
		term.Description,
		term.MaxRecordsPerRun,
		term.RunIntervalMinutes,
		nonNil(term.Tags),
	)
	return classify(err)
}

// RecordRun stamps a completed run and adds inserted to the cumulative count.
func (s *TermStore) RecordRun(ctx context.Context, term string, ranAt time.Time, inserted int) error {
	query := `
		UPDATE search_terms
		SET last_run_at = $2,
			total_records_ingested = total_records_ingested + $3,
			updated_at = NOW()
		WHERE term = $1`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, term, ranAt, inserted)
	if err != nil {
		return classify(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrTermNotFound, term)
	}
	return nil
}

func (s *TermStore) selectTerms(ctx context.Context, builder sq.SelectBuilder) ([]domain.SearchTerm, error) {
	query, args, err := builder.OrderBy("priority", "created_at", "term").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []termRow
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query, args...); err != nil {
		return nil, classify(err)
	}

	terms := make([]domain.SearchTerm, len(rows))
	for i, r := range rows {
		terms[i] = r.toDomain()
	}
	return terms, nil
}
