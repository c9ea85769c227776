package domain

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestImportanceScore(t *testing.T) {
	tests := []struct {
		name                        string
		followers, favorites, posts int64
		want                        float64
	}{
		{"zero", 0, 0, 0, 0},
		{"small", 1000, 10, 5, 3},
		{"followers capped", 10_000_000, 0, 0, 50},
		{"all capped", 1 << 40, 1 << 40, 1 << 40, 100},
		{"negative clamped", -500, -1, -1, 0},
		{"mixed", 25_000, 150, 40, 25 + 15 + 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ImportanceScore(tt.followers, tt.favorites, tt.posts), 1e-9)
		})
	}
}

func TestImportanceScore_BoundedAndMonotonic(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))

	for range 1000 {
		f, l, p := r.Int64N(1e8), r.Int64N(1e6), r.Int64N(1e6)
		score := ImportanceScore(f, l, p)

		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, MaxImportanceScore)

		assert.GreaterOrEqual(t, ImportanceScore(f+r.Int64N(1e4), l, p), score)
		assert.GreaterOrEqual(t, ImportanceScore(f, l+r.Int64N(1e3), p), score)
		assert.GreaterOrEqual(t, ImportanceScore(f, l, p+r.Int64N(1e3)), score)
	}
}

func TestSearchTerm_Validate(t *testing.T) {
	valid := SearchTerm{Term: "alpha", Priority: 1}
	assert.NoError(t, valid.Validate())

	for name, term := range map[string]SearchTerm{
		"blank":         {Term: "  ", Priority: 1},
		"priority low":  {Term: "a", Priority: 0},
		"priority high": {Term: "a", Priority: 6},
		"negative max":  {Term: "a", Priority: 1, MaxRecordsPerRun: -1},
		"negative freq": {Term: "a", Priority: 1, RunIntervalMinutes: -5},
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.Is(term.Validate(), ErrInvalidTerm))
		})
	}
}

func TestSearchTerm_Due(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ran := now.Add(-30 * time.Minute)

	never := SearchTerm{RunIntervalMinutes: 60}
	assert.True(t, never.Due(now))

	noInterval := SearchTerm{LastRunAt: &ran}
	assert.True(t, noInterval.Due(now))

	notYet := SearchTerm{LastRunAt: &ran, RunIntervalMinutes: 60}
	assert.False(t, notYet.Due(now))

	exact := SearchTerm{LastRunAt: &ran, RunIntervalMinutes: 30}
	assert.True(t, exact.Due(now))
}

func TestCycleSummary_Partition(t *testing.T) {
	s := &CycleSummary{Outcomes: []RunOutcome{
		{Term: "alpha", Inserted: 2},
		{Term: "beta", Err: errors.New("timeout")},
	}}

	assert.Len(t, s.Succeeded(), 1)
	assert.Len(t, s.Failed(), 1)

	o, ok := s.Outcome("beta")
	assert.True(t, ok)
	assert.True(t, o.Failed())

	_, ok = s.Outcome("gamma")
	assert.False(t, ok)
}

func TestContentRecord_Validate(t *testing.T) {
	assert.Error(t, (&ContentRecord{}).Validate())
	assert.Error(t, (&ContentRecord{RecordID: "1"}).Validate())
	assert.NoError(t, (&ContentRecord{RecordID: "1", CreatedAt: time.Now()}).Validate())
}
