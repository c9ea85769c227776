package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"content_harvester/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type SchedulerTestSuite struct {
	suite.Suite
	clock *fakeClock
	sched *Scheduler
}

func (s *SchedulerTestSuite) SetupTest() {
	s.clock = &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.sched = NewScheduler(Options{
		MisfireGrace: time.Hour,
		DrainTimeout: time.Second,
		MaxInstances: 3,
		Now:          s.clock.Now,
	}, testutil.Logger())
}

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func noop(context.Context) error { return nil }

// arm schedules every registered job as Start would, without running the loop.
func (s *SchedulerTestSuite) arm() {
	s.sched.mu.Lock()
	defer s.sched.mu.Unlock()
	s.sched.started = true
	for _, e := range s.sched.entries {
		if !e.paused {
			e.next = s.sched.firstFire(e.job, s.clock.Now())
		}
	}
}

func (s *SchedulerTestSuite) fire() {
	s.sched.mu.Lock()
	defer s.sched.mu.Unlock()
	s.sched.fireDue(context.Background(), s.clock.Now())
}

func (s *SchedulerTestSuite) TestRegister_Validation() {
	s.Error(s.sched.Register(Job{ID: "", Schedule: Every(time.Minute), Run: noop}))
	s.Error(s.sched.Register(Job{ID: "x", Run: noop}))

	s.NoError(s.sched.Register(Job{ID: "x", Schedule: Every(time.Minute), Run: noop}))
	err := s.sched.Register(Job{ID: "x", Schedule: Every(time.Minute), Run: noop})
	s.ErrorIs(err, ErrJobExists)
}

func (s *SchedulerTestSuite) TestPauseResume() {
	start := s.clock.Now()
	s.Require().NoError(s.sched.Register(Job{
		ID:       "extract_tweets_job",
		Name:     "Extract tweets",
		Schedule: Every(15 * time.Minute),
		Run:      noop,
	}))
	s.arm()

	st, err := s.sched.JobStatus("extract_tweets_job")
	s.Require().NoError(err)
	s.Equal(StateScheduled, st.State)
	s.Require().NotNil(st.NextRunAt)
	s.Equal(start.Add(15*time.Minute), *st.NextRunAt)

	s.Require().NoError(s.sched.Pause("extract_tweets_job"))

	st, _ = s.sched.JobStatus("extract_tweets_job")
	s.Equal(StatePaused, st.State)
	s.Nil(st.NextRunAt)

	s.ErrorIs(s.sched.Pause("extract_tweets_job"), ErrAlreadyPaused)

	// Paused jobs never fire, even long past their old fire time.
	s.clock.Advance(40 * time.Minute)
	s.fire()
	st, _ = s.sched.JobStatus("extract_tweets_job")
	s.Zero(st.Fired)

	s.Require().NoError(s.sched.Resume("extract_tweets_job"))

	st, _ = s.sched.JobStatus("extract_tweets_job")
	s.Equal(StateScheduled, st.State)
	s.Require().NotNil(st.NextRunAt)
	s.Equal(s.clock.Now().Add(15*time.Minute), *st.NextRunAt)

	s.ErrorIs(s.sched.Resume("extract_tweets_job"), ErrNotPaused)
}

func (s *SchedulerTestSuite) TestPauseResume_UnknownJob() {
	s.ErrorIs(s.sched.Pause("missing"), ErrJobNotFound)
	s.ErrorIs(s.sched.Resume("missing"), ErrJobNotFound)

	_, err := s.sched.JobStatus("missing")
	s.ErrorIs(err, ErrJobNotFound)
}

func (s *SchedulerTestSuite) TestFixedRate_NextFromNominal() {
	release := make(chan struct{})
	s.Require().NoError(s.sched.Register(Job{
		ID:       "job",
		Schedule: Every(10 * time.Minute),
		Run: func(ctx context.Context) error {
			<-release
			return nil
		},
	}))
	s.arm()
	nominal := s.clock.Now().Add(10 * time.Minute)

	// Fire 30s late; the following fire stays on the original grid.
	s.clock.Advance(10*time.Minute + 30*time.Second)
	s.fire()

	st, _ := s.sched.JobStatus("job")
	s.EqualValues(1, st.Fired)
	s.Equal(StateRunning, st.State)
	s.True(st.Running)
	s.Require().NotNil(st.NextRunAt)
	s.Equal(nominal.Add(10*time.Minute), *st.NextRunAt)

	close(release)
	s.sched.wg.Wait()

	st, _ = s.sched.JobStatus("job")
	s.Equal(StateScheduled, st.State)
	s.False(st.Running)
	s.NotNil(st.LastRunAt)
}

func (s *SchedulerTestSuite) TestMisfire_SkippedBeyondGrace() {
	var runs atomic.Int32
	s.Require().NoError(s.sched.Register(Job{
		ID:       "job",
		Schedule: Every(15 * time.Minute),
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))
	s.arm()

	s.clock.Advance(15*time.Minute + 2*time.Hour)
	s.fire()
	s.sched.wg.Wait()

	st, _ := s.sched.JobStatus("job")
	s.EqualValues(1, st.Misfired)
	s.Zero(st.Fired)
	s.Zero(runs.Load())
	s.Require().NotNil(st.NextRunAt)
	s.True(st.NextRunAt.After(s.clock.Now()))
}

func (s *SchedulerTestSuite) TestMaxInstances_DropsFire() {
	release := make(chan struct{})
	s.Require().NoError(s.sched.Register(Job{
		ID:           "job",
		Schedule:     Every(time.Minute),
		MaxInstances: 2,
		Run: func(ctx context.Context) error {
			<-release
			return nil
		},
	}))
	s.arm()

	for range 3 {
		s.clock.Advance(time.Minute)
		s.fire()
	}

	st, _ := s.sched.JobStatus("job")
	s.EqualValues(2, st.Fired)
	s.EqualValues(1, st.Dropped)
	s.Equal(2, st.Executing)

	close(release)
	s.sched.wg.Wait()

	st, _ = s.sched.JobStatus("job")
	s.Zero(st.Executing)
}

func (s *SchedulerTestSuite) TestExecution_RecordsErrorAndRecoversPanic() {
	s.Require().NoError(s.sched.Register(Job{
		ID:        "failing",
		Schedule:  Every(time.Minute),
		Immediate: true,
		Run: func(context.Context) error {
			return errors.New("boom")
		},
	}))
	s.Require().NoError(s.sched.Register(Job{
		ID:        "panicking",
		Schedule:  Every(time.Minute),
		Immediate: true,
		Run: func(context.Context) error {
			panic("kaboom")
		},
	}))
	s.arm()
	s.fire()
	s.sched.wg.Wait()

	failing, _ := s.sched.JobStatus("failing")
	s.Equal("boom", failing.LastError)

	panicking, _ := s.sched.JobStatus("panicking")
	s.Contains(panicking.LastError, "kaboom")
}

func (s *SchedulerTestSuite) TestStatus_RegistrationOrder() {
	for _, id := range []string{"extract_tweets_job", "update_tweet_stats_job", "cleanup_run_logs_job"} {
		s.Require().NoError(s.sched.Register(Job{ID: id, Schedule: Every(time.Hour), Run: noop}))
	}

	statuses := s.sched.Status()
	s.Require().Len(statuses, 3)
	s.Equal("extract_tweets_job", statuses[0].ID)
	s.Equal("update_tweet_stats_job", statuses[1].ID)
	s.Equal("cleanup_run_logs_job", statuses[2].ID)
}

func TestStart_RunsAndDrains(t *testing.T) {
	sched := NewScheduler(Options{
		MisfireGrace: time.Minute,
		DrainTimeout: 5 * time.Second,
	}, testutil.Logger())

	ran := make(chan struct{}, 10)
	finished := make(chan struct{})
	err := sched.Register(Job{
		ID:        "job",
		Schedule:  Every(time.Hour),
		Immediate: true,
		Run: func(ctx context.Context) error {
			ran <- struct{}{}
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			close(finished)
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	select {
	case <-finished:
	default:
		t.Fatal("scheduler returned before the running job drained")
	}
}

func TestParseSchedule(t *testing.T) {
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sched, err := ParseSchedule(15*time.Minute, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := sched.Next(from); !got.Equal(from.Add(15 * time.Minute)) {
		t.Fatalf("interval next = %v", got)
	}

	sched, err = ParseSchedule(0, "0 3 * * *")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := sched.Next(from), time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("cron next = %v, want %v", got, want)
	}

	if _, err := ParseSchedule(0, ""); err == nil {
		t.Fatal("expected error for missing schedule")
	}
	if _, err := ParseSchedule(0, "not a cron"); err == nil {
		t.Fatal("expected error for bad cron spec")
	}
}

func TestEvery_NonPositiveInterval(t *testing.T) {
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, d := range []time.Duration{0, -time.Minute, time.Nanosecond} {
		if got := Every(d).Next(from); !got.Equal(from.Add(MinInterval)) {
			t.Fatalf("Every(%v).Next = %v, want %v", d, got, from.Add(MinInterval))
		}
	}
}

func TestAdvance_CatchesUpAfterLongGap(t *testing.T) {
	nominal := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := nominal.Add(36*time.Hour + 7*time.Millisecond)

	done := make(chan time.Time, 1)
	go func() { done <- advance(Every(0), nominal, now) }()

	select {
	case got := <-done:
		if want := now.Add(MinInterval); !got.Equal(want) {
			t.Fatalf("advance = %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("advance did not return")
	}

	if got, want := advance(Every(15*time.Minute), nominal, nominal.Add(40*time.Minute)), nominal.Add(45*time.Minute); !got.Equal(want) {
		t.Fatalf("advance = %v, want %v", got, want)
	}
	if got, want := advance(Every(15*time.Minute), nominal, nominal.Add(15*time.Minute)), nominal.Add(30*time.Minute); !got.Equal(want) {
		t.Fatalf("advance on boundary = %v, want %v", got, want)
	}
}

type stuckSchedule struct{}

func (stuckSchedule) Next(t time.Time) time.Time { return t }

func TestAdvance_StuckScheduleStops(t *testing.T) {
	nominal := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if got := advance(stuckSchedule{}, nominal, nominal.Add(time.Hour)); !got.IsZero() {
		t.Fatalf("advance = %v, want zero", got)
	}
	if got := advance(every(0), nominal, nominal.Add(time.Hour)); !got.IsZero() {
		t.Fatalf("advance(every(0)) = %v, want zero", got)
	}
}
