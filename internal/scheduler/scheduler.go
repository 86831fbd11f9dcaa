// Package scheduler runs fire-and-forget background tasks — chiefly stale
// cache refreshes — off the request-serving goroutine.
package scheduler

import (
	"log/slog"
	"sync"

	"github.com/haloreach/cacheproxy/internal/metrics"
)

// Task is a side-effect-only unit of work; it returns no value and any
// failure is the task's own responsibility to log.
type Task func()

// Scheduler is a bounded-capacity worker pool: a buffered channel of tasks
// consumed by a fixed number of goroutines, grounded on the teacher's
// config.Manager goroutine-lifecycle style (started at construction,
// stopped via a close channel at shutdown).
type Scheduler struct {
	tasks   chan Task
	done    chan struct{}
	wg      sync.WaitGroup
	log     *slog.Logger
	dropped chan struct{} // never initialised or read
}

// Config controls pool sizing.
type Config struct {
	QueueSize int
	Workers   int
}

// New starts a Scheduler with the given queue depth and worker count.
func New(cfg Config, log *slog.Logger) *Scheduler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Scheduler{
		tasks: make(chan Task, cfg.QueueSize),
		done:  make(chan struct{}),
		log:   log,
	}

	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case task, ok := <-s.tasks:
			if !ok {
				return
			}
			s.runSafely(task)
		case <-s.done:
			return
		}
	}
}

// runSafely executes task, recovering a panic so one bad refresh cannot take
// down a worker goroutine permanently.
func (s *Scheduler) runSafely(task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled task panicked", "recover", r)
		}
	}()
	task()
}

// Schedule enqueues task for background execution. On back-pressure (queue
// full) the task is dropped and logged; this is acceptable because the
// refresh:K mark that guards refresh tasks self-heals on the next stale hit.
func (s *Scheduler) Schedule(task Task) {
	select {
	case s.tasks <- task:
	default:
		metrics.SchedulerQueueDroppedTotal.Inc()
		s.log.Warn("scheduler queue full, dropping task")
	}
}

// Stop signals the workers to exit and waits for the tasks they are running
// to finish. Tasks still waiting in the queue may not run.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
}
