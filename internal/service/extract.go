package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"content_harvester/internal/config"
	"content_harvester/internal/domain"
	"content_harvester/internal/source"
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"

	// commitTimeout bounds the run-metadata write after a cycle, which still
	// happens when the cycle was interrupted by shutdown.
	commitTimeout = 30 * time.Second
)

// CycleRequest parameterizes one extraction cycle. Explicit Terms, or
// Force, bypass per-term run-interval gating.
type CycleRequest struct {
	// RunID is generated when empty.
	RunID   string
	Trigger string
	Terms   []string
	Limit   int
	Lang    string
	Force   bool
}

// Extractor drives extraction cycles and important-record refreshes. It is
// the only writer of search term run metadata.
type Extractor struct {
	client    ContentClient
	ingester  *Ingester
	terms     TermStore
	records   RecordStore
	runLog    RunLogStore
	txManager TransactionManager
	metrics   Recorder
	logger    *slog.Logger
	extract   config.ExtractionConfig
	refresh   config.RefreshConfig

	now func() time.Time
}

func NewExtractor(
	client ContentClient,
	ingester *Ingester,
	terms TermStore,
	records RecordStore,
	runLog RunLogStore,
	txManager TransactionManager,
	metrics Recorder,
	logger *slog.Logger,
	extract config.ExtractionConfig,
	refresh config.RefreshConfig,
) *Extractor {
	return &Extractor{
		client:    client,
		ingester:  ingester,
		terms:     terms,
		records:   records,
		runLog:    runLog,
		txManager: txManager,
		metrics:   metrics,
		logger:    logger.With("component", "extractor", "provider", client.Name()),
		extract:   extract,
		refresh:   refresh,
		now:       time.Now,
	}
}

// RunCycle fetches and ingests every selected term, batch by batch. Term
// failures are reported in the summary; an error is returned only when the
// cycle as a whole could not run or was cut short.
func (e *Extractor) RunCycle(ctx context.Context, req CycleRequest) (*domain.CycleSummary, error) {
	if req.Trigger == "" {
		req.Trigger = TriggerScheduled
	}

	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	summary := &domain.CycleSummary{
		RunID:     req.RunID,
		Trigger:   req.Trigger,
		StartedAt: e.now(),
	}
	logger := e.logger.With("run_id", summary.RunID, "trigger", req.Trigger)

	terms, err := e.selectTerms(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("select terms: %w", err)
	}

	if len(terms) == 0 {
		logger.Info("no search terms due")
		summary.FinishedAt = e.now()
		return summary, nil
	}

	logger.Info("starting extraction cycle",
		"terms", len(terms),
		"batch_size", e.extract.BatchSize,
	)

	var cycleErr error
	first := true
	for batch := range PlanBatches(terms, e.extract.BatchSize) {
		if !first {
			if err := sleepCtx(ctx, e.extract.BatchDelay); err != nil {
				cycleErr = fmt.Errorf("cycle interrupted: %w", err)
				break
			}
		}
		first = false

		logger.Debug("running batch",
			"batch", batch.Index,
			"priority", batch.Priority,
			"terms", len(batch.Terms),
		)

		outcomes := e.runBatch(ctx, batch, req)
		summary.Outcomes = append(summary.Outcomes, outcomes...)

		if err := storeFailure(outcomes); err != nil {
			cycleErr = fmt.Errorf("cycle aborted: %w", err)
			break
		}
	}

	for _, o := range summary.Outcomes {
		summary.Attempted++
		summary.Inserted += o.Inserted
		summary.Updated += o.Updated
		summary.Skipped += o.Skipped
	}
	summary.FinishedAt = e.now()

	if cycleErr != nil && errors.Is(cycleErr, domain.ErrStoreUnavailable) {
		e.observeCycle(summary)
		logger.Error("extraction cycle aborted", "error", cycleErr)
		return summary, cycleErr
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := e.commit(commitCtx, summary); err != nil {
		return summary, fmt.Errorf("commit run metadata: %w", err)
	}

	e.observeCycle(summary)

	logger.Info("extraction cycle completed",
		"attempted", summary.Attempted,
		"failed", len(summary.Failed()),
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	)

	return summary, cycleErr
}

func (e *Extractor) selectTerms(ctx context.Context, req CycleRequest) ([]domain.SearchTerm, error) {
	var (
		terms []domain.SearchTerm
		err   error
	)
	if len(req.Terms) > 0 {
		terms, err = e.terms.GetMany(ctx, req.Terms)
	} else {
		terms, err = e.terms.ListActive(ctx)
	}
	if err != nil {
		return nil, err
	}

	force := req.Force || len(req.Terms) > 0
	now := e.now()

	selected := make([]domain.SearchTerm, 0, len(terms))
	for _, t := range terms {
		if !t.Active {
			continue
		}
		if !force && !t.Due(now) {
			continue
		}
		selected = append(selected, t)
	}

	if e.extract.MaxTerms > 0 && len(selected) > e.extract.MaxTerms {
		e.logger.Warn("too many terms for one cycle, truncating",
			"selected", len(selected),
			"max_terms", e.extract.MaxTerms,
		)
		selected = selected[:e.extract.MaxTerms]
	}

	return selected, nil
}

func (e *Extractor) runBatch(ctx context.Context, batch domain.TermBatch, req CycleRequest) []domain.RunOutcome {
	outcomes := make([]domain.RunOutcome, len(batch.Terms))

	var g errgroup.Group
	g.SetLimit(len(batch.Terms))
	for i, term := range batch.Terms {
		g.Go(func() error {
			outcomes[i] = e.runTerm(ctx, term, req)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// runTerm runs on a context detached from cancellation so that shutdown lets
// an in-flight fetch and its writes finish, bounded by TermTimeout.
func (e *Extractor) runTerm(ctx context.Context, term domain.SearchTerm, req CycleRequest) domain.RunOutcome {
	termCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.extract.TermTimeout)
	defer cancel()

	outcome := domain.RunOutcome{
		Term:     term.Term,
		Priority: term.Priority,
	}

	query := source.Query{
		Term:  term.Term,
		Limit: e.limitFor(term, req),
		Lang:  req.Lang,
	}
	if query.Lang == "" {
		query.Lang = e.extract.DefaultLang
	}

	fetched, err := e.client.Search(termCtx, query)
	if err != nil {
		outcome.Err = err
		outcome.Error = err.Error()
		e.logger.Warn("search failed",
			"term", term.Term,
			"transient", source.IsTransient(err),
			"error", err,
		)
		e.observeTerm(outcome)
		return outcome
	}

	outcome.Seen = len(fetched.Records) + fetched.Malformed

	result, err := e.ingester.Ingest(termCtx, fetched.Records, []string{term.Term})
	outcome.Inserted = result.Inserted
	outcome.Updated = result.Updated
	outcome.Skipped = result.Skipped + fetched.Malformed
	if err != nil {
		outcome.Err = err
		outcome.Error = err.Error()
		e.logger.Error("ingest failed", "term", term.Term, "error", err)
	} else {
		e.logger.Debug("term completed",
			"term", term.Term,
			"seen", outcome.Seen,
			"inserted", outcome.Inserted,
			"updated", outcome.Updated,
			"skipped", outcome.Skipped,
		)
	}

	e.observeTerm(outcome)
	return outcome
}

func (e *Extractor) limitFor(term domain.SearchTerm, req CycleRequest) int {
	switch {
	case req.Limit > 0:
		return req.Limit
	case term.MaxRecordsPerRun > 0:
		return term.MaxRecordsPerRun
	default:
		return e.extract.DefaultLimit
	}
}

// commit writes run metadata for successful terms and the run log entry.
// Failed terms keep their previous metadata and run again next cycle. A term
// deleted while the cycle was running has nothing to update and is skipped.
func (e *Extractor) commit(ctx context.Context, summary *domain.CycleSummary) error {
	ranAt := summary.FinishedAt
	return e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, o := range summary.Succeeded() {
			err := e.terms.RecordRun(txCtx, o.Term, ranAt, o.Inserted)
			if errors.Is(err, domain.ErrTermNotFound) {
				e.logger.Warn("term removed during cycle, skipping run metadata",
					"run_id", summary.RunID,
					"term", o.Term,
				)
				continue
			}
			if err != nil {
				return fmt.Errorf("record run for %q: %w", o.Term, err)
			}
		}
		if err := e.runLog.Append(txCtx, summary); err != nil {
			return fmt.Errorf("append run log: %w", err)
		}
		return nil
	})
}

// RefreshStaleImportantRecords re-fetches high-importance records that have
// not been updated within the staleness window, one at a time.
func (e *Extractor) RefreshStaleImportantRecords(ctx context.Context) (*domain.RefreshSummary, error) {
	start := e.now()
	staleBefore := start.Add(-e.refresh.Staleness)

	records, err := e.records.ListStaleImportant(ctx, e.refresh.ImportanceThreshold, staleBefore, e.refresh.Limit)
	if err != nil {
		return nil, fmt.Errorf("list stale records: %w", err)
	}

	summary := &domain.RefreshSummary{
		Selected:   len(records),
		ErrorsByID: make(map[string]string),
	}
	if len(records) == 0 {
		e.logger.Info("no important records to refresh")
		return summary, nil
	}

	e.logger.Info("refreshing important records", "count", len(records))

	var refreshErr error
	for i, rec := range records {
		if i > 0 {
			if err := sleepCtx(ctx, e.refresh.Delay); err != nil {
				refreshErr = fmt.Errorf("refresh interrupted: %w", err)
				break
			}
		}

		if err := e.refreshOne(ctx, rec.RecordID); err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				refreshErr = fmt.Errorf("refresh aborted: %w", err)
				break
			}
			summary.Errors++
			summary.ErrorsByID[rec.RecordID] = err.Error()
			e.logger.Warn("failed to refresh record",
				"record_id", rec.RecordID,
				"gone", source.IsNotFound(err),
				"error", err,
			)
			continue
		}
		summary.Updated++
	}

	summary.Duration = e.now().Sub(start)
	if e.metrics != nil {
		e.metrics.ObserveRefresh(summary)
	}

	e.logger.Info("important record refresh completed",
		"selected", summary.Selected,
		"updated", summary.Updated,
		"errors", summary.Errors,
		"duration", summary.Duration,
	)

	return summary, refreshErr
}

func (e *Extractor) refreshOne(ctx context.Context, id string) error {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.extract.TermTimeout)
	defer cancel()

	fresh, err := e.client.FetchByID(fetchCtx, id)
	if err != nil {
		return err
	}

	result, err := e.ingester.Ingest(fetchCtx, []domain.ContentRecord{*fresh}, nil)
	if err != nil {
		return err
	}
	if result.Skipped > 0 {
		return fmt.Errorf("record %s was not stored", id)
	}
	return nil
}

func (e *Extractor) observeTerm(o domain.RunOutcome) {
	if e.metrics != nil {
		e.metrics.ObserveTerm(o)
	}
}

func (e *Extractor) observeCycle(s *domain.CycleSummary) {
	if e.metrics != nil {
		e.metrics.ObserveCycle(s)
	}
}

func storeFailure(outcomes []domain.RunOutcome) error {
	for _, o := range outcomes {
		if o.Err != nil && errors.Is(o.Err, domain.ErrStoreUnavailable) {
			return o.Err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
