// Package scheduler runs the recurring maintenance work: catalog refresh,
// the daily cache sweep and popular-ranking prewarm. Jobs are registered by
// name with a cron schedule; a fire that overlaps the previous run of the
// same job is skipped.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultJobTimeout = 2 * time.Minute

// minJobInterval is the minimum time between consecutive executions of the
// same job. Prevents rapid re-fires when a schedule lands on the same
// second boundary twice.
const minJobInterval = 2 * time.Second

// JobFunc is one maintenance task. The context carries the per-job timeout.
type JobFunc func(ctx context.Context) error

type job struct {
	name    string
	fn      JobFunc
	timeout time.Duration

	// Guarded by Scheduler.mu.
	lastRun time.Time
	lastErr string
	runs    int64
}

// JobStatus is a snapshot of one job for the health endpoint.
type JobStatus struct {
	Name      string    `json:"name"`
	Runs      int64     `json:"runs"`
	LastRun   time.Time `json:"lastRun"`
	LastError string    `json:"lastError,omitempty"`
}

// Scheduler runs named jobs on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*job
	running map[string]bool

	logger *slog.Logger
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a stopped scheduler. Jobs are registered with Add and begin
// firing after Start.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		jobs:    make(map[string]*job),
		running: make(map[string]bool),
		logger:  logger.With("component", "scheduler"),
	}
}

// Add registers a job. The schedule accepts standard 5-field cron plus the
// @daily/@every descriptors. A non-positive timeout gets the default.
func (s *Scheduler) Add(name, schedule string, timeout time.Duration, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	j := &job{name: name, fn: fn, timeout: timeout}
	if _, err := s.cron.AddFunc(schedule, func() { s.run(j) }); err != nil {
		return fmt.Errorf("job %q: invalid schedule %q: %w", name, schedule, err)
	}
	s.jobs[name] = j

	s.logger.Info("job registered", "job", name, "schedule", schedule)
	return nil
}

// Start begins firing registered jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()

	s.mu.Lock()
	count := len(s.jobs)
	s.mu.Unlock()
	s.logger.Info("scheduler started", "jobs", count)
}

// Stop drains running jobs, waiting up to ten seconds.
func (s *Scheduler) Stop() {
	drained := s.cron.Stop()
	select {
	case <-drained.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("scheduler stop timed out")
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// RunNow triggers a job outside its schedule, synchronously. The overlap
// and re-fire guards still apply.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	s.run(j)
	return nil
}

// Jobs reports all registered jobs, sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{
			Name:      j.name,
			Runs:      j.runs,
			LastRun:   j.lastRun,
			LastError: j.lastErr,
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// run executes one job with the safety guards: overlap dedupe, the re-fire
// interval, panic recovery and the per-job timeout.
func (s *Scheduler) run(j *job) {
	s.mu.Lock()
	if s.running[j.name] {
		s.mu.Unlock()
		s.logger.Warn("skipping job, previous run still active", "job", j.name)
		return
	}
	if !j.lastRun.IsZero() && time.Since(j.lastRun) < minJobInterval {
		s.mu.Unlock()
		s.logger.Debug("skipping job, ran too recently", "job", j.name)
		return
	}
	s.running[j.name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, j.name)
		s.mu.Unlock()

		// One panicking job must not take the scheduler down.
		if r := recover(); r != nil {
			s.mu.Lock()
			j.lastErr = fmt.Sprintf("panic: %v", r)
			s.mu.Unlock()
			s.logger.Error("maintenance job panicked", "job", j.name, "panic", r)
		}
	}()

	base := s.ctx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, j.timeout)
	defer cancel()

	started := time.Now()
	err := j.fn(ctx)
	elapsed := time.Since(started)

	s.mu.Lock()
	j.lastRun = time.Now()
	j.runs++
	if err != nil {
		j.lastErr = err.Error()
	} else {
		j.lastErr = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("maintenance job failed", "job", j.name, "error", err, "elapsed", elapsed)
		return
	}
	s.logger.Info("maintenance job completed", "job", j.name, "elapsed", elapsed)
}
