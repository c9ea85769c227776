package domain

import (
	"encoding/json"
	"time"
)

// RunOutcome is the result of one term's fetch-and-ingest within a cycle.
type RunOutcome struct {
	Term     string `json:"term"`
	Priority int    `json:"priority"`
	Seen     int    `json:"seen"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Error    string `json:"error,omitempty"`

	Err error `json:"-"`
}

func (o RunOutcome) Failed() bool {
	return o.Err != nil
}

// CycleSummary aggregates all term outcomes of one extraction cycle.
type CycleSummary struct {
	RunID      string       `json:"run_id"`
	Trigger    string       `json:"trigger"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Attempted  int          `json:"attempted"`
	Inserted   int          `json:"inserted"`
	Updated    int          `json:"updated"`
	Skipped    int          `json:"skipped"`
	Outcomes   []RunOutcome `json:"outcomes"`
}

func (s *CycleSummary) Failed() []RunOutcome {
	var failed []RunOutcome
	for _, o := range s.Outcomes {
		if o.Failed() {
			failed = append(failed, o)
		}
	}
	return failed
}

func (s *CycleSummary) Succeeded() []RunOutcome {
	var ok []RunOutcome
	for _, o := range s.Outcomes {
		if !o.Failed() {
			ok = append(ok, o)
		}
	}
	return ok
}

func (s *CycleSummary) Outcome(term string) (RunOutcome, bool) {
	for _, o := range s.Outcomes {
		if o.Term == term {
			return o, true
		}
	}
	return RunOutcome{}, false
}

// RefreshSummary is the result of one stale-important-records pass.
type RefreshSummary struct {
	Selected   int               `json:"selected"`
	Updated    int               `json:"updated"`
	Errors     int               `json:"errors"`
	ErrorsByID map[string]string `json:"errors_by_id,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// RunLogEntry is the persisted form of a cycle summary.
type RunLogEntry struct {
	ID         string          `db:"id" json:"id"`
	Trigger    string          `db:"trigger" json:"trigger"`
	StartedAt  time.Time       `db:"started_at" json:"started_at"`
	FinishedAt time.Time       `db:"finished_at" json:"finished_at"`
	Attempted  int             `db:"attempted" json:"attempted"`
	Failed     int             `db:"failed" json:"failed"`
	Inserted   int             `db:"inserted" json:"inserted"`
	Updated    int             `db:"updated" json:"updated"`
	Skipped    int             `db:"skipped" json:"skipped"`
	Outcomes   json.RawMessage `db:"outcomes" json:"outcomes"`
}
