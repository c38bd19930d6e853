package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned by Trigger when the previous run has not finished.
var ErrRunInProgress = errors.New("worker: run already in progress")

// ErrAlreadyStarted is returned by Start on a running scheduler.
var ErrAlreadyStarted = errors.New("worker: scheduler already started")

// Task is one unit of recurring work. now is the scheduler's clock reading at
// the tick that started the run.
type Task func(ctx context.Context, now time.Time) error

// Config holds scheduler configuration
type Config struct {
	// WorkerID uniquely identifies this scheduler instance in logs
	WorkerID string

	// Interval is the fixed time between runs
	Interval time.Duration

	// RunTimeout bounds a single run. Zero means no timeout.
	RunTimeout time.Duration

	// RunOnStart triggers a run immediately instead of waiting one interval
	RunOnStart bool

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Scheduler runs a Task on a fixed interval. A tick that fires while the
// previous run is still in progress is skipped, never overlapped.
//
// Schedulers are constructed explicitly and owned by their caller; there is no
// package-level instance.
type Scheduler struct {
	name   string
	task   Task
	config Config
	logger *slog.Logger

	running sync.Mutex
	wg      sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler for task. It does nothing until Start.
func NewScheduler(name string, task Task, config Config, logger *slog.Logger) *Scheduler {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.Interval == 0 {
		config.Interval = 24 * time.Hour
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Scheduler{
		name:   name,
		task:   task,
		config: config,
		logger: logger.With("scheduler", name, "worker_id", config.WorkerID),
	}
}

// Start begins the tick loop in the background. The loop stops when ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("scheduler starting",
		"interval", s.config.Interval,
		"run_on_start", s.config.RunOnStart,
	)

	go s.loop(loopCtx, s.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight run to return, or for ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler %s did not stop: %w", s.name, ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.wg.Wait()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts a run in the background unless one is already in progress.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Warn("previous run still in progress, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Unlock()
		s.run(ctx)
	}()
}

// Trigger runs the task once in the caller's goroutine. It returns
// ErrRunInProgress instead of waiting when a run is already active.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if !s.running.TryLock() {
		return ErrRunInProgress
	}
	defer s.running.Unlock()
	return s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) error {
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	now := s.config.Clock()
	start := time.Now()
	s.logger.Info("run starting", "now", now)

	if err := s.task(ctx, now); err != nil {
		s.logger.Error("run failed", "error", err, "duration", time.Since(start))
		return err
	}

	s.logger.Info("run completed", "duration", time.Since(start))
	return nil
}
