package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"content_harvester/internal/domain"
)

// Ingester is the only writer of content records. Every record goes through
// RecordStore.Upsert, so concurrent ingests of the same id merge instead of
// racing.
type Ingester struct {
	records   RecordStore
	publisher Publisher
	metrics   Recorder
	logger    *slog.Logger
}

func NewIngester(records RecordStore, publisher Publisher, metrics Recorder, logger *slog.Logger) *Ingester {
	return &Ingester{
		records:   records,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With("component", "ingester"),
	}
}

// Ingest inserts or merges records, adding causingTerms to each record's
// matched terms. Per-record failures are counted as skipped; only an
// unavailable store aborts the call.
func (i *Ingester) Ingest(ctx context.Context, records []domain.ContentRecord, causingTerms []string) (domain.IngestResult, error) {
	var result domain.IngestResult

	terms := normalizeTerms(causingTerms)

	for idx := range records {
		if err := ctx.Err(); err != nil {
			i.observe(result)
			return result, fmt.Errorf("ingest interrupted: %w", err)
		}

		record := records[idx]
		record.MatchedTerms = terms
		record.ImportanceScore = domain.ImportanceScore(
			record.Author.FollowersCount,
			record.Engagement.FavoriteCount,
			record.Engagement.RepostCount,
		)

		if err := record.Validate(); err != nil {
			i.logger.Warn("skipping invalid record", "error", err)
			result.Skipped++
			continue
		}

		isNew, err := i.records.Upsert(ctx, &record)
		if err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				i.observe(result)
				return result, fmt.Errorf("upsert record %s: %w", record.RecordID, err)
			}
			i.logger.Error("failed to upsert record", "record_id", record.RecordID, "error", err)
			result.Skipped++
			continue
		}

		if isNew {
			result.Inserted++
		} else {
			result.Updated++
		}

		if i.publisher != nil {
			if err := i.publisher.Publish(ctx, &record, isNew); err != nil {
				i.logger.Warn("failed to publish record event", "record_id", record.RecordID, "error", err)
			}
		}
	}

	i.observe(result)
	return result, nil
}

func (i *Ingester) observe(result domain.IngestResult) {
	if i.metrics != nil {
		i.metrics.ObserveIngest(result)
	}
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}
