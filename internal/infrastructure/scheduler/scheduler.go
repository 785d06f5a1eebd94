// Package scheduler runs the graduation engine's periodic jobs: the nightly
// unit sweep that grants due degrees and reports belt-change candidates.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job is a unit of periodic work.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job. ctx is cancelled when the scheduler stops or
	// the run exceeds its timeout.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// Schedule defines when a job should run.
type Schedule interface {
	// Next returns the first activation strictly after t.
	Next(t time.Time) time.Time

	String() string
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Manual      bool
	Err         error
}

// Success reports whether the run finished without error.
func (r JobResult) Success() bool { return r.Err == nil }

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the Scheduler.
type Config struct {
	Logger *slog.Logger

	// Timezone for schedule calculations (default: UTC). Academies sweep
	// at night local time.
	Timezone *time.Location

	// Tick is how often due jobs are checked.
	Tick time.Duration

	// RunTimeout bounds a single run. Zero disables the bound.
	RunTimeout time.Duration

	// Now is injectable for tests.
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Logger:     slog.Default(),
		Timezone:   time.UTC,
		Tick:       time.Second,
		RunTimeout: 30 * time.Minute,
	}
}

// Scheduler triggers registered jobs on their schedules. A job never runs
// concurrently with itself: a tick that finds the previous run still going
// is skipped.
type Scheduler struct {
	mu      sync.Mutex
	config  Config
	logger  *slog.Logger
	jobs    map[string]*scheduledJob
	metrics *Metrics

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type scheduledJob struct {
	job      Job
	schedule Schedule

	busy     bool
	nextRun  time.Time
	lastRun  *JobResult
	runs     int64
	failures int64
	skipped  int64
}

// New creates a new Scheduler.
func New(config Config) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.Tick <= 0 {
		config.Tick = time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Scheduler{
		config:  config,
		logger:  config.Logger.With("component", "scheduler"),
		jobs:    make(map[string]*scheduledJob),
		metrics: NewMetrics(),
	}
}

func (s *Scheduler) now() time.Time {
	return s.config.Now().In(s.config.Timezone)
}

// Register adds a job with its schedule.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	sj := &scheduledJob{job: job, schedule: schedule, nextRun: schedule.Next(s.now())}
	s.jobs[name] = sj

	s.logger.Info("job registered",
		"job", name,
		"schedule", schedule.String(),
		"next_run", sj.nextRun.Format(time.RFC3339),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start begins the scheduler loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("scheduler started", "jobs", len(s.jobs), "timezone", s.config.Timezone.String())
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue starts every job whose next run has passed.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, sj := range s.jobs {
		if sj.nextRun.IsZero() || now.Before(sj.nextRun) {
			continue
		}
		sj.nextRun = sj.schedule.Next(now)
		if sj.busy {
			sj.skipped++
			s.metrics.RecordSkip(name)
			s.logger.Warn("job still running, tick skipped", "job", name)
			continue
		}
		sj.busy = true
		s.wg.Add(1)
		go func(sj *scheduledJob) {
			defer s.wg.Done()
			s.execute(ctx, sj, false)
		}(sj)
	}
}

// execute runs sj and records the outcome. Caller has marked sj busy.
func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob, manual bool) JobResult {
	name := sj.job.Name()
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	s.logger.Info("job started", "job", name, "manual", manual)
	started := s.config.Now()
	err := runSafely(ctx, sj.job)
	completed := s.config.Now()

	res := JobResult{
		JobName:     name,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
		Manual:      manual,
		Err:         err,
	}
	s.metrics.RecordExecution(name, res.Duration, err == nil)

	s.mu.Lock()
	sj.busy = false
	sj.runs++
	if err != nil {
		sj.failures++
	}
	sj.lastRun = &res
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", name, "duration", res.Duration.String(), "error", err)
	} else {
		s.logger.Info("job completed", "job", name, "duration", res.Duration.String())
	}
	return res
}

func runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return job.Run(ctx)
}

// RunNow executes a job immediately, outside its schedule. It fails with
// ErrJobBusy if a scheduled run is in progress.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (JobResult, error) {
	s.mu.Lock()
	sj, ok := s.jobs[jobName]
	if !ok {
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	if sj.busy {
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobBusy, jobName)
	}
	sj.busy = true
	s.mu.Unlock()

	res := s.execute(ctx, sj, true)
	return res, res.Err
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo describes a registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	Running     bool
	NextRun     time.Time
	Runs        int64
	Failures    int64
	Skipped     int64
	LastResult  *JobResult
}

// ListJobs returns every registered job ordered by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, sj := range s.jobs {
		info := JobInfo{
			Name:        name,
			Description: sj.job.Description(),
			Schedule:    sj.schedule.String(),
			Running:     sj.busy,
			NextRun:     sj.nextRun,
			Runs:        sj.runs,
			Failures:    sj.failures,
			Skipped:     sj.skipped,
		}
		if sj.lastRun != nil {
			r := *sj.lastRun
			info.LastResult = &r
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Metrics returns the scheduler metrics.
func (s *Scheduler) Metrics() *Metrics {
	return s.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics tracks job executions.
type Metrics struct {
	mu sync.Mutex

	executions map[string]int64
	failures   map[string]int64
	skips      map[string]int64
	durations  map[string]time.Duration
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{
		executions: make(map[string]int64),
		failures:   make(map[string]int64),
		skips:      make(map[string]int64),
		durations:  make(map[string]time.Duration),
	}
}

// RecordExecution records a finished run.
func (m *Metrics) RecordExecution(job string, d time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executions[job]++
	m.durations[job] += d
	if !success {
		m.failures[job]++
	}
}

// RecordSkip records a tick skipped because the job was still running.
func (m *Metrics) RecordSkip(job string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skips[job]++
}

// JobMetrics is a snapshot for one job.
type JobMetrics struct {
	Executions      int64
	Failures        int64
	Skips           int64
	AverageDuration time.Duration
}

// Snapshot returns a point-in-time copy.
func (m *Metrics) Snapshot() map[string]JobMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]JobMetrics, len(m.executions))
	for job, n := range m.executions {
		jm := JobMetrics{Executions: n, Failures: m.failures[job], Skips: m.skips[job]}
		if n > 0 {
			jm.AverageDuration = m.durations[job] / time.Duration(n)
		}
		out[job] = jm
	}
	for job, n := range m.skips {
		if _, ok := out[job]; !ok {
			out[job] = JobMetrics{Skips: n}
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrNilJob                  = errors.New("scheduler: job cannot be nil")
	ErrNilSchedule             = errors.New("scheduler: schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("scheduler: job already exists")
	ErrJobNotFound             = errors.New("scheduler: job not found")
	ErrJobBusy                 = errors.New("scheduler: job is running")
	ErrJobPanicked             = errors.New("scheduler: job panicked")
	ErrSchedulerAlreadyRunning = errors.New("scheduler: already running")
	ErrSchedulerNotRunning     = errors.New("scheduler: not running")
)
