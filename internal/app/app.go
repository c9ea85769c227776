// Package app wires configuration, storage, the content client, the
// scheduler and the operator API into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"content_harvester/internal/api"
	"content_harvester/internal/config"
	"content_harvester/internal/metrics"
	"content_harvester/internal/publisher"
	"content_harvester/internal/scheduler"
	"content_harvester/internal/service"
	"content_harvester/internal/source"
	"content_harvester/internal/source/official"
	"content_harvester/internal/source/twitterapiio"
	"content_harvester/internal/storage/postgres"
)

const (
	JobExtract = "extract_tweets_job"
	JobRefresh = "update_tweet_stats_job"
	JobCleanup = "cleanup_run_logs_job"
)

type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *sqlx.DB
	publisher *publisher.RabbitMQ
	metrics   *metrics.Metrics

	terms   *postgres.TermStore
	records *postgres.RecordStore
	runLog  *postgres.RunLogStore

	extractor *service.Extractor
	scheduler *scheduler.Scheduler
	server    *http.Server

	// Manual cycles run on launchCtx so that shutdown can cancel and await them.
	launchCtx    context.Context
	cancelLaunch context.CancelFunc
	launches     sync.WaitGroup
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	launchCtx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:          cfg,
		logger:       logger,
		launchCtx:    launchCtx,
		cancelLaunch: cancel,
	}
}

// Init connects to the store, applies pending migrations and builds every
// component. Close releases whatever Init managed to open.
func (a *App) Init(ctx context.Context) error {
	db, err := postgres.Connect(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	a.db = db
	a.logger.Info("connected to database", "host", a.cfg.Database.Host, "dbname", a.cfg.Database.DBName)

	if _, err := postgres.NewMigrator(db, postgres.Migrations, a.logger).Up(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	client, err := NewContentClient(a.cfg.Content, a.logger)
	if err != nil {
		return err
	}

	var pub service.Publisher
	if a.cfg.RabbitMQ.Enabled {
		rabbit, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        a.cfg.RabbitMQ.URL,
			Exchange:   a.cfg.RabbitMQ.Exchange,
			RoutingKey: a.cfg.RabbitMQ.RoutingKey,
			QueueName:  a.cfg.RabbitMQ.QueueName,
		}, a.logger)
		if err != nil {
			return err
		}
		a.publisher = rabbit
		pub = rabbit
	}

	a.metrics = metrics.New()
	a.terms = postgres.NewTermStore(db)
	a.records = postgres.NewRecordStore(db)
	a.runLog = postgres.NewRunLogStore(db)
	txManager := postgres.NewTransactionManager(db)

	ingester := service.NewIngester(a.records, pub, a.metrics, a.logger)
	a.extractor = service.NewExtractor(
		client,
		ingester,
		a.terms,
		a.records,
		a.runLog,
		txManager,
		a.metrics,
		a.logger,
		a.cfg.Extraction,
		a.cfg.Refresh,
	)

	a.scheduler = scheduler.NewScheduler(scheduler.Options{
		MisfireGrace: a.cfg.Scheduler.MisfireGrace,
		DrainTimeout: a.cfg.Scheduler.DrainTimeout,
		MaxInstances: a.cfg.Scheduler.MaxInstances,
		Metrics:      a.metrics,
	}, a.logger)
	if err := a.registerJobs(); err != nil {
		return err
	}

	router := api.NewRouter(api.Dependencies{
		Cycles:  a,
		Jobs:    a.scheduler,
		Terms:   a.terms,
		Records: a.records,
		Runs:    a.runLog,
		Health:  db,
		Metrics: a.metrics.Handler(),
		Logger:  a.logger,
	})
	a.server = &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

// NewContentClient builds the client for the configured provider.
func NewContentClient(cfg config.ContentConfig, logger *slog.Logger) (source.Client, error) {
	sc := source.Config{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		Timeout:        cfg.Timeout,
		RateLimit:      cfg.Rate.RequestsPerSecond,
		RateBurst:      cfg.Rate.Burst,
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		MaxBodyBytes:   cfg.MaxResponseBytes,
	}

	switch cfg.Provider {
	case source.ProviderTwitterAPIIO:
		return twitterapiio.New(sc, logger), nil
	case source.ProviderOfficial:
		return official.New(sc, logger), nil
	default:
		return nil, fmt.Errorf("unknown content provider %q", cfg.Provider)
	}
}

func (a *App) registerJobs() error {
	jobs := []struct {
		id   string
		name string
		cfg  config.JobConfig
		run  scheduler.Func
	}{
		{JobExtract, "Extract content for active search terms", a.cfg.Scheduler.Jobs.Extract, a.extractJob},
		{JobRefresh, "Refresh engagement of important records", a.cfg.Scheduler.Jobs.Refresh, a.refreshJob},
		{JobCleanup, "Prune old run log entries", a.cfg.Scheduler.Jobs.Cleanup, a.cleanupJob},
	}

	for _, j := range jobs {
		schedule, err := scheduler.ParseSchedule(j.cfg.Interval, j.cfg.Cron)
		if err != nil {
			return fmt.Errorf("job %s: %w", j.id, err)
		}

		err = a.scheduler.Register(scheduler.Job{
			ID:       j.id,
			Name:     j.name,
			Schedule: schedule,
			Run:      j.run,
			Timeout:  j.cfg.Timeout,
			Paused:   j.cfg.Paused,
		})
		if err != nil {
			return fmt.Errorf("register job %s: %w", j.id, err)
		}
	}

	return nil
}

func (a *App) extractJob(ctx context.Context) error {
	_, err := a.extractor.RunCycle(ctx, service.CycleRequest{Trigger: service.TriggerScheduled})
	return err
}

func (a *App) refreshJob(ctx context.Context) error {
	_, err := a.extractor.RefreshStaleImportantRecords(ctx)
	return err
}

func (a *App) cleanupJob(ctx context.Context) error {
	cutoff := time.Now().Add(-a.cfg.RunLog.Retention)
	deleted, err := a.runLog.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune run logs: %w", err)
	}
	a.logger.Info("pruned run logs", "deleted", deleted, "cutoff", cutoff)
	return nil
}

// Launch runs a manual extraction cycle in the background. It satisfies
// api.CycleLauncher.
func (a *App) Launch(req service.CycleRequest) {
	a.launches.Add(1)
	go func() {
		defer a.launches.Done()

		ctx := a.launchCtx
		if timeout := a.cfg.Scheduler.Jobs.Extract.Timeout; timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if _, err := a.extractor.RunCycle(ctx, req); err != nil {
			a.logger.Error("manual extraction cycle failed", "run_id", req.RunID, "error", err)
		}
	}()
}

// Run serves the operator API and runs the scheduler until ctx is cancelled,
// then shuts both down and waits for manual cycles to finish.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.scheduler.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	a.cancelLaunch()
	a.launches.Wait()

	return err
}

// Extractor exposes the orchestrator for one-shot CLI commands.
func (a *App) Extractor() *service.Extractor {
	return a.extractor
}

func (a *App) Close() {
	a.cancelLaunch()

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("failed to close publisher", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
}
