package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job already running")
	ErrStopped     = errors.New("scheduler stopped")
)

// Config configures a Service.
type Config struct {
	Logger zerolog.Logger
	// Location evaluates expressions; defaults to time.Local.
	Location *time.Location
	// JobTimeout bounds one run. Zero means no limit.
	JobTimeout time.Duration
	OnEvent    func(Event)
}

// Service runs named jobs on cron schedules. A job never overlaps itself:
// a tick that arrives while the previous run is in flight is skipped.
type Service struct {
	cron    *cron.Cron
	logger  zerolog.Logger
	timeout time.Duration
	onEvent func(Event)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*entry
	stopped bool
}

type entry struct {
	job      Job
	fn       JobFunc
	schedule cron.Schedule
	entryID  cron.EntryID
}

// New creates a stopped Service.
func New(cfg Config) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	onEvent := cfg.OnEvent
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{logger: cfg.Logger}),
		),
		logger:  cfg.Logger,
		timeout: cfg.JobTimeout,
		onEvent: onEvent,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*entry),
	}
}

// Add registers fn under expr and returns the job id.
func (s *Service) Add(name, expr string, fn JobFunc) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("job %q has no function", name)
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", ErrStopped
	}
	id := uuid.NewString()
	e := &entry{
		job: Job{
			ID:        id,
			Name:      name,
			Expr:      expr,
			Enabled:   true,
			CreatedAt: time.Now(),
			State:     JobState{NextRunAt: sched.Next(time.Now())},
		},
		fn:       fn,
		schedule: sched,
	}
	e.entryID = s.cron.Schedule(sched, cron.FuncJob(func() {
		s.execute(id)
	}))
	s.jobs[id] = e
	s.mu.Unlock()

	s.logger.Info().Str("job_id", id).Str("name", name).Str("expr", expr).Msg("Job added")
	s.onEvent(Event{Action: EventActionAdded, JobID: id, Name: name})
	return id, nil
}

// Remove unschedules a job.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	s.cron.Remove(e.entryID)
	delete(s.jobs, id)
	s.mu.Unlock()

	s.logger.Info().Str("job_id", id).Msg("Job removed")
	s.onEvent(Event{Action: EventActionRemoved, JobID: id, Name: e.job.Name})
	return nil
}

// Run executes a job immediately and returns its error.
func (s *Service) Run(id string) error {
	return s.execute(id)
}

// Job returns a copy of a job.
func (s *Service) Job(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// Jobs returns all jobs ordered by creation time.
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		jobs = append(jobs, e.job)
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// Start begins firing scheduled jobs.
func (s *Service) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.Jobs())).Msg("Cron service started")
}

// Stop halts the schedule and waits for running jobs until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		s.logger.Info().Msg("Cron service stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) execute(id string) error {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if e.job.State.Running {
		e.job.State.LastStatus = StatusSkipped
		name := e.job.Name
		s.mu.Unlock()
		s.logger.Debug().Str("job_id", id).Msg("Job already running, skipping execution")
		s.onEvent(Event{Action: EventActionSkipped, JobID: id, Name: name, Status: StatusSkipped})
		return ErrJobRunning
	}
	e.job.State.Running = true
	fn := e.fn
	name := e.job.Name
	s.mu.Unlock()

	start := time.Now()
	err := s.invoke(fn)
	duration := time.Since(start)

	s.mu.Lock()
	e.job.State.Running = false
	e.job.State.LastRunAt = start
	e.job.State.LastDuration = duration
	e.job.State.NextRunAt = e.schedule.Next(time.Now())
	if err != nil {
		e.job.State.LastStatus = StatusError
		e.job.State.LastError = err.Error()
		e.job.State.ConsecutiveErrors++
	} else {
		e.job.State.LastStatus = StatusOK
		e.job.State.LastError = ""
		e.job.State.ConsecutiveErrors = 0
	}
	st := e.job.State
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("job_id", id).
			Str("name", name).
			Err(err).
			Int("consecutive_errors", st.ConsecutiveErrors).
			Msg("Job execution failed")
	} else {
		s.logger.Debug().Str("job_id", id).Str("name", name).Dur("duration", duration).Msg("Job execution completed")
	}

	s.onEvent(Event{
		Action:   EventActionFinished,
		JobID:    id,
		Name:     name,
		Status:   st.LastStatus,
		Error:    st.LastError,
		Duration: duration,
	})
	return err
}

func (s *Service) invoke(fn JobFunc) (err error) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// cronLogger routes robfig/cron's own logging into zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
