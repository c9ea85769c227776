package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	MinPriority = 1
	MaxPriority = 5
)

var (
	ErrTermNotFound     = errors.New("search term not found")
	ErrRecordNotFound   = errors.New("content record not found")
	ErrInvalidTerm      = errors.New("invalid search term")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// SearchTerm is a keyword or phrase queried against the content API on every cycle.
type SearchTerm struct {
	Term                 string     `db:"term" json:"term"`
	Active               bool       `db:"active" json:"active"`
	Priority             int        `db:"priority" json:"priority"`
	Description          *string    `db:"description" json:"description,omitempty"`
	MaxRecordsPerRun     int        `db:"max_records_per_run" json:"max_records_per_run"`
	RunIntervalMinutes   int        `db:"run_interval_minutes" json:"run_interval_minutes"`
	Tags                 []string   `db:"-" json:"tags"`
	TotalRecordsIngested int64      `db:"total_records_ingested" json:"total_records_ingested"`
	LastRunAt            *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

func (t *SearchTerm) Validate() error {
	if strings.TrimSpace(t.Term) == "" {
		return fmt.Errorf("%w: empty term", ErrInvalidTerm)
	}
	if t.Priority < MinPriority || t.Priority > MaxPriority {
		return fmt.Errorf("%w: priority %d outside [%d, %d]", ErrInvalidTerm, t.Priority, MinPriority, MaxPriority)
	}
	if t.MaxRecordsPerRun < 0 {
		return fmt.Errorf("%w: negative max_records_per_run", ErrInvalidTerm)
	}
	if t.RunIntervalMinutes < 0 {
		return fmt.Errorf("%w: negative run_interval_minutes", ErrInvalidTerm)
	}
	return nil
}

// Due reports whether the term's run interval has elapsed at now.
// Terms that never ran, or have no interval, are always due.
func (t *SearchTerm) Due(now time.Time) bool {
	if t.LastRunAt == nil || t.RunIntervalMinutes <= 0 {
		return true
	}
	return !now.Before(t.LastRunAt.Add(time.Duration(t.RunIntervalMinutes) * time.Minute))
}

// TermBatch is a group of same-priority terms fetched concurrently.
type TermBatch struct {
	Priority int
	Index    int
	Terms    []SearchTerm
}

// TermFilter narrows term listings.
type TermFilter struct {
	Active   *bool
	Tag      string
	Priority int
}
