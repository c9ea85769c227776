// Package testutil holds fixtures shared by tests.
package testutil

import (
	"io"
	"log/slog"
	"time"

	"content_harvester/internal/domain"
)

func Ptr[T any](v T) *T {
	return &v
}

// Logger discards everything below error.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Record builds a valid content record; mutate adjusts it before return.
func Record(id string, mutate func(r *domain.ContentRecord)) *domain.ContentRecord {
	r := &domain.ContentRecord{
		RecordID:  id,
		Text:      "text of " + id,
		Lang:      "fa",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Author: domain.Author{
			ID:             "u-" + id,
			Handle:         "handle_" + id,
			DisplayName:    "Author " + id,
			FollowersCount: 2000,
			FollowingCount: 150,
		},
		Engagement: domain.Engagement{
			RepostCount:   10,
			FavoriteCount: 40,
			ReplyCount:    3,
			QuoteCount:    1,
		},
	}
	if mutate != nil {
		mutate(r)
	}
	return r
}

// Term builds an active search term with the given priority.
func Term(term string, priority int) domain.SearchTerm {
	return domain.SearchTerm{
		Term:               term,
		Active:             true,
		Priority:           priority,
		MaxRecordsPerRun:   100,
		RunIntervalMinutes: 60,
		Tags:               []string{},
	}
}
