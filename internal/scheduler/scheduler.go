package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type State string

const (
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
	StatePaused    State = "paused"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobExists     = errors.New("job already registered")
	ErrAlreadyPaused = errors.New("job already paused")
	ErrNotPaused     = errors.New("job is not paused")
	ErrStarted       = errors.New("scheduler already started")
)

// Func is a job body. ctx is cancelled when the scheduler shuts down.
type Func func(ctx context.Context) error

type Job struct {
	ID       string
	Name     string
	Schedule cron.Schedule
	Run      Func

	// Timeout bounds a single execution; zero means no limit.
	Timeout time.Duration
	// MaxInstances caps overlapping executions; zero uses the scheduler default.
	MaxInstances int
	// Immediate makes the first fire happen at start instead of one period later.
	Immediate bool
	// Paused registers the job in the paused state.
	Paused bool
}

// Recorder receives scheduler metrics.
type Recorder interface {
	ObserveFire(jobID string, outcome string)
	ObserveExecution(jobID string, d time.Duration, err error)
}

type Options struct {
	// MisfireGrace is how late a fire may be and still run.
	MisfireGrace time.Duration
	// DrainTimeout bounds how long shutdown waits for running jobs.
	DrainTimeout time.Duration
	MaxInstances int
	Metrics      Recorder
	Now          func() time.Time
}

type JobStatus struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	State        State         `json:"state"`
	NextRunAt    *time.Time    `json:"next_run_at,omitempty"`
	Running      bool          `json:"running"`
	Executing    int           `json:"executing"`
	LastRunAt    *time.Time    `json:"last_run_at,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	Fired        int64         `json:"fired"`
	Dropped      int64         `json:"dropped"`
	Misfired     int64         `json:"misfired"`
}

type entry struct {
	job       Job
	paused    bool
	next      time.Time
	executing int

	lastRunAt    time.Time
	lastDuration time.Duration
	lastErr      string

	fired    int64
	dropped  int64
	misfired int64
}

// Scheduler runs jobs at a fixed rate on a single timer loop. Executions run
// in their own goroutines, so a long execution never delays the next fire.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	started bool
	stopped bool

	wake chan struct{}
	wg   sync.WaitGroup

	opts   Options
	logger *slog.Logger
}

func NewScheduler(opts Options, logger *slog.Logger) *Scheduler {
	if opts.MaxInstances <= 0 {
		opts.MaxInstances = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scheduler{
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
		opts:    opts,
		logger:  logger.With("component", "scheduler"),
	}
}

func (s *Scheduler) Register(job Job) error {
	if job.ID == "" || job.Run == nil || job.Schedule == nil {
		return fmt.Errorf("register job %q: id, schedule and run are required", job.ID)
	}
	if job.Name == "" {
		job.Name = job.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[job.ID]; ok {
		return fmt.Errorf("register job %q: %w", job.ID, ErrJobExists)
	}

	e := &entry{job: job, paused: job.Paused}
	if s.started && !e.paused {
		e.next = s.firstFire(job, s.opts.Now())
	}
	s.entries[job.ID] = e
	s.order = append(s.order, job.ID)
	s.notify()

	return nil
}

// Start runs the timer loop until ctx is cancelled, then waits for running
// executions up to DrainTimeout.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	now := s.opts.Now()
	for _, id := range s.order {
		e := s.entries[id]
		if !e.paused {
			e.next = s.firstFire(e.job, now)
		}
	}
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs", len(s.order))

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		now := s.opts.Now()
		s.fireDue(ctx, now)
		wait := s.untilNext(now)
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-timer.C:
		case <-s.wake:
		}
	}
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("scheduler stopping, waiting for running jobs", "drain_timeout", s.opts.DrainTimeout)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if s.opts.DrainTimeout > 0 {
		t := time.NewTimer(s.opts.DrainTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-timeout:
		s.logger.Warn("scheduler stopped before running jobs finished")
	}
}

// fireDue launches every job whose next fire time has passed. Callers hold mu.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	if s.stopped || ctx.Err() != nil {
		return
	}

	for _, id := range s.order {
		e := s.entries[id]
		if e.paused || e.next.IsZero() || e.next.After(now) {
			continue
		}

		nominal := e.next
		e.next = advance(e.job.Schedule, nominal, now)

		if late := now.Sub(nominal); late > s.opts.MisfireGrace {
			e.misfired++
			s.observeFire(id, "misfired")
			s.logger.Warn("skipping missed fire",
				"job_id", id,
				"scheduled_for", nominal,
				"late_by", late,
			)
			continue
		}

		limit := e.job.MaxInstances
		if limit <= 0 {
			limit = s.opts.MaxInstances
		}
		if e.executing >= limit {
			e.dropped++
			s.observeFire(id, "dropped")
			s.logger.Warn("dropping fire, job at max instances",
				"job_id", id,
				"executing", e.executing,
				"max_instances", limit,
			)
			continue
		}

		e.executing++
		e.fired++
		s.observeFire(id, "fired")
		s.wg.Add(1)
		go s.execute(ctx, e)
	}
}

func (s *Scheduler) execute(ctx context.Context, e *entry) {
	defer s.wg.Done()

	runCtx := ctx
	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}

	logger := s.logger.With("job_id", e.job.ID)
	logger.Info("job started")

	start := s.opts.Now()
	err := safeRun(runCtx, e.job.Run)
	duration := s.opts.Now().Sub(start)

	s.mu.Lock()
	e.executing--
	e.lastRunAt = start
	e.lastDuration = duration
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	s.mu.Unlock()

	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveExecution(e.job.ID, duration, err)
	}

	if err != nil {
		logger.Error("job failed", "duration", duration, "error", err)
		return
	}
	logger.Info("job completed", "duration", duration)
}

func safeRun(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// untilNext returns the wait until the earliest scheduled fire. Callers hold mu.
func (s *Scheduler) untilNext(now time.Time) time.Duration {
	var earliest time.Time
	for _, e := range s.entries {
		if e.paused || e.next.IsZero() {
			continue
		}
		if earliest.IsZero() || e.next.Before(earliest) {
			earliest = e.next
		}
	}
	if earliest.IsZero() {
		return time.Hour
	}
	if d := earliest.Sub(now); d > 0 {
		return d
	}
	return 0
}

func (s *Scheduler) firstFire(job Job, now time.Time) time.Time {
	if job.Immediate {
		return now
	}
	return job.Schedule.Next(now)
}

// advance returns the first nominal fire after now, counting from nominal so
// the rate stays fixed regardless of execution time.
func advance(schedule cron.Schedule, nominal, now time.Time) time.Time {
	if e, ok := schedule.(every); ok && e > 0 {
		next := nominal.Add(time.Duration(e))
		if !next.After(now) {
			missed := now.Sub(next)/time.Duration(e) + 1
			next = next.Add(missed * time.Duration(e))
		}
		return next
	}

	next := schedule.Next(nominal)
	for !next.IsZero() && !next.After(now) {
		prev := next
		next = schedule.Next(next)
		// A schedule that does not move forward would spin here forever.
		if !next.IsZero() && !next.After(prev) {
			return time.Time{}
		}
	}
	return next
}

// Pause stops future fires of id. Running executions are not interrupted.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("pause %q: %w", id, ErrJobNotFound)
	}
	if e.paused {
		return fmt.Errorf("pause %q: %w", id, ErrAlreadyPaused)
	}

	e.paused = true
	e.next = time.Time{}
	s.notify()

	s.logger.Info("job paused", "job_id", id)
	return nil
}

// Resume re-schedules id with its next fire computed from now.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("resume %q: %w", id, ErrJobNotFound)
	}
	if !e.paused {
		return fmt.Errorf("resume %q: %w", id, ErrNotPaused)
	}

	e.paused = false
	e.next = e.job.Schedule.Next(s.opts.Now())
	s.notify()

	s.logger.Info("job resumed", "job_id", id, "next_run_at", e.next)
	return nil
}

func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.order))
	for _, id := range s.order {
		statuses = append(statuses, s.status(s.entries[id]))
	}
	return statuses
}

func (s *Scheduler) JobStatus(id string) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return JobStatus{}, fmt.Errorf("status %q: %w", id, ErrJobNotFound)
	}
	return s.status(e), nil
}

func (s *Scheduler) status(e *entry) JobStatus {
	st := JobStatus{
		ID:           e.job.ID,
		Name:         e.job.Name,
		State:        StateScheduled,
		Running:      e.executing > 0,
		Executing:    e.executing,
		LastDuration: e.lastDuration,
		LastError:    e.lastErr,
		Fired:        e.fired,
		Dropped:      e.dropped,
		Misfired:     e.misfired,
	}

	switch {
	case e.paused:
		st.State = StatePaused
	case e.executing > 0:
		st.State = StateRunning
	}

	if !e.next.IsZero() {
		next := e.next
		st.NextRunAt = &next
	}
	if !e.lastRunAt.IsZero() {
		last := e.lastRunAt
		st.LastRunAt = &last
	}
	return st
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) observeFire(id, outcome string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveFire(id, outcome)
	}
}
