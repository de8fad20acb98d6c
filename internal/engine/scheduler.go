package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parkrow/estates/internal/logger"
)

// TaskFunc is one periodic unit of work. The now argument is the tick time;
// tasks use it instead of time.Now so tests can drive logical clocks.
type TaskFunc func(ctx context.Context, now time.Time)

// Task is a named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      TaskFunc
}

// Scheduler runs a small fixed set of periodic tasks, each on its own
// ticker goroutine. Tasks are isolated: a panic in one tick is recovered
// and logged, and never takes down the scheduler or the other tasks. None
// of the tasks are user-cancellable; stopping the scheduler is the only way
// to end them.
type Scheduler struct {
	log    *logger.Logger
	tasks  []Task
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler(log *logger.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// Add registers a task. Must be called before Start.
func (s *Scheduler) Add(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.log.Warn("task added after scheduler start, ignoring", map[string]interface{}{
			"task": t.Name,
		})
		return
	}
	s.tasks = append(s.tasks, t)
}

// Start launches every registered task. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.runTask(runCtx, t)
	}

	s.log.Info("scheduler started", map[string]interface{}{
		"tasks": len(s.tasks),
	})
}

// Stop cancels all tasks and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped", nil)
}

func (s *Scheduler) runTask(ctx context.Context, t Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.safeRun(ctx, t, now)
		}
	}
}

// safeRun invokes one tick with a panic guard so a bug in one engine cannot
// stop the periodic machinery.
func (s *Scheduler) safeRun(ctx context.Context, t Task, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", fmt.Errorf("panic: %v", r), map[string]interface{}{
				"task": t.Name,
			})
		}
	}()
	t.Run(ctx, now)
}
