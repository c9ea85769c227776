package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"content_harvester/internal/domain"
	"content_harvester/internal/source"
)

type ContentClient interface {
	Name() string
	Search(ctx context.Context, q source.Query) (*domain.FetchResult, error)
	FetchByID(ctx context.Context, id string) (*domain.ContentRecord, error)
}

type RecordStore interface {
	// Upsert atomically inserts record or merges it into the existing row,
	// reporting whether a new row was created.
	Upsert(ctx context.Context, record *domain.ContentRecord) (bool, error)
	ListStaleImportant(ctx context.Context, minScore float64, staleBefore time.Time, limit int) ([]domain.ContentRecord, error)
}

type TermStore interface {
	ListActive(ctx context.Context) ([]domain.SearchTerm, error)
	GetMany(ctx context.Context, terms []string) ([]domain.SearchTerm, error)
	RecordRun(ctx context.Context, term string, ranAt time.Time, inserted int) error
}

type RunLogStore interface {
	Append(ctx context.Context, summary *domain.CycleSummary) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, record *domain.ContentRecord, isNew bool) error
	Close() error
}

// Recorder receives pipeline metrics.
type Recorder interface {
	ObserveIngest(result domain.IngestResult)
	ObserveTerm(outcome domain.RunOutcome)
	ObserveCycle(summary *domain.CycleSummary)
	ObserveRefresh(summary *domain.RefreshSummary)
}
