// Package scheduler runs a job on a fixed interval with an explicit
// start/stop lifecycle.
package scheduler

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Job is one scheduled unit of work. A run in progress is not cancelled by
// Stop; Stop waits for it instead.
type Job func(ctx context.Context)

// Scheduler invokes a Job every interval. Runs never overlap: a tick that
// arrives while the job is still running is dropped.
type Scheduler struct {
	name       string
	job        Job
	runOnStart bool

	mu       sync.Mutex
	interval time.Duration
	started  bool
	stopped  bool
	resetCh  chan time.Duration
	stopCh   chan struct{}
	running  sync.Mutex
	wg       sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithRunOnStart makes Start invoke the job immediately instead of waiting
// for the first tick.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = enabled
	}
}

// New creates a scheduler. A non-positive interval defaults to 5 minutes.
//
// Parameters:
//   - name: Label used in log output
//   - interval: Time between job invocations
//   - job: Work to run on each tick
//
// Returns:
//   - *Scheduler: Scheduler ready to Start
func New(name string, interval time.Duration, job Job, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	s := &Scheduler{
		name:     name,
		job:      job,
		interval: interval,
		resetCh:  make(chan time.Duration, 1),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop. Calling Start more than once, or
// after Stop, has no effect.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true

	s.wg.Add(1)
	go s.loop(context.Background(), s.interval)

	log.WithFields(log.Fields{
		"job":      s.name,
		"interval": s.interval,
	}).Info("Scheduler started")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	if s.runOnStart {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)

		case next := <-s.resetCh:
			ticker.Reset(next)

		case <-s.stopCh:
			return
		}
	}
}

// runOnce runs the job unless a previous run is still in progress.
func (s *Scheduler) runOnce(ctx context.Context) bool {
	if !s.running.TryLock() {
		log.WithField("job", s.name).Warn("Previous run still in progress, skipping tick")
		return false
	}
	defer s.running.Unlock()

	start := time.Now()
	s.job(ctx)
	log.WithFields(log.Fields{
		"job":      s.name,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("Scheduled job finished")
	return true
}

// RunNow runs the job synchronously on the caller's goroutine. It reports
// false if a run was already in progress or the scheduler is stopped.
func (s *Scheduler) RunNow(ctx context.Context) bool {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return false
	}
	return s.runOnce(ctx)
}

// Interval returns the current tick interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval changes the tick interval. The next tick fires one full new
// interval from now.
func (s *Scheduler) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if interval == s.interval {
		return
	}
	s.interval = interval

	if s.started && !s.stopped {
		// Drop a pending reset that the loop has not consumed yet.
		select {
		case <-s.resetCh:
		default:
		}
		s.resetCh <- interval
	}

	log.WithFields(log.Fields{
		"job":      s.name,
		"interval": interval,
	}).Info("Scheduler interval updated")
}

// Stop halts the loop and waits for an in-flight run to finish or for ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}

	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.WithField("job", s.name).Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
