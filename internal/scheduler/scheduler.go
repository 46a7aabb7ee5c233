// Package scheduler implements the single cooperative loop (component J):
// one task per enabled sensor and controller, next-fire bookkeeping, error
// classification, and a shutdown sequence that ends in arbiter panic-off.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenhaven/hydro-controller/internal/arbiter"
	"github.com/greenhaven/hydro-controller/internal/herr"
)

// TaskStatus is the scheduler's externally visible view of one task.
type TaskStatus string

const (
	StatusRunning TaskStatus = "running"
	StatusFailed  TaskStatus = "failed" // configuration error: enabled stays true, processing suppressed
)

// Runnable is the unit of work a scheduler task repeats on its interval.
// Sensor read ticks and controller process ticks both implement this.
type Runnable func(ctx context.Context, now time.Time) error

type task struct {
	id       string
	interval time.Duration
	run      Runnable

	mu       sync.Mutex
	nextFire time.Time
	status   TaskStatus
	lastErr  error
}

// Scheduler runs every registered task on its own interval from a single
// goroutine, per spec §4.J/§5.
type Scheduler struct {
	log      zerolog.Logger
	actuators *arbiter.Arbiter

	mu    sync.Mutex
	tasks []*task

	addCh  chan *task
	stopCh chan struct{}
	doneCh chan struct{}
}

func New(actuators *arbiter.Arbiter, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		log:       log.With().Str("component", "scheduler").Logger(),
		actuators: actuators,
		addCh:     make(chan *task),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// AddTask registers a new periodic task, firing for the first time after
// interval has elapsed. Safe to call before or after Run has started.
func (s *Scheduler) AddTask(id string, interval time.Duration, run Runnable) {
	t := &task{id: id, interval: interval, run: run, nextFire: time.Now().Add(interval), status: StatusRunning}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
}

// Status reports every task's current scheduler-level state.
func (s *Scheduler) Status() map[string]TaskStatus {
	s.mu.Lock()
	tasks := append([]*task(nil), s.tasks...)
	s.mu.Unlock()

	out := make(map[string]TaskStatus, len(tasks))
	for _, t := range tasks {
		t.mu.Lock()
		out[t.id] = t.status
		t.mu.Unlock()
	}
	return out
}

// Run drives the cooperative loop until ctx is cancelled or Shutdown is
// called. It blocks until the loop has exited.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)
	for {
		s.mu.Lock()
		tasks := append([]*task(nil), s.tasks...)
		s.mu.Unlock()

		sleep := s.tick(ctx, tasks)

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(sleep):
		}
	}
}

// tick runs every task whose nextFire has passed and returns how long the
// loop should sleep before the next check. Missed fires coalesce: a task
// due multiple times in one tick still only runs once.
func (s *Scheduler) tick(ctx context.Context, tasks []*task) time.Duration {
	now := time.Now()
	soonest := time.Hour

	for _, t := range tasks {
		t.mu.Lock()
		due := !now.Before(t.nextFire)
		status := t.status
		t.mu.Unlock()

		if status == StatusFailed {
			continue
		}
		if due {
			s.runTask(ctx, t, now)
		}

		t.mu.Lock()
		if until := t.nextFire.Sub(now); until > 0 && until < soonest {
			soonest = until
		}
		t.mu.Unlock()
	}
	if soonest <= 0 {
		soonest = time.Millisecond
	}
	return soonest
}

func (s *Scheduler) runTask(ctx context.Context, t *task, now time.Time) {
	err := t.run(ctx, now)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextFire = now.Add(t.interval)
	t.lastErr = err

	if err == nil {
		return
	}

	var cfgErr *herr.Configuration
	var persistentErr *herr.Persistent
	var fatalErr *herr.Fatal
	switch {
	case errors.As(err, &cfgErr):
		t.status = StatusFailed
		s.log.Error().Str("task", t.id).Err(err).Msg("configuration error, suppressing until reconfigured")
	case errors.As(err, &persistentErr):
		t.status = StatusFailed
		s.log.Error().Str("task", t.id).Err(err).Msg("persistent error, task faulted")
	case errors.As(err, &fatalErr):
		s.log.Error().Str("task", t.id).Err(err).Msg("fatal error, scheduler does not catch this")
		panic(err)
	default:
		s.log.Warn().Str("task", t.id).Err(err).Msg("transient error, retrying at next tick")
	}
}

// Shutdown signals the loop to stop, waits up to gracePeriod for the
// in-flight tick to finish, then invokes the output arbiter's panic-off.
func (s *Scheduler) Shutdown(gracePeriod time.Duration) error {
	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-time.After(gracePeriod):
		s.log.Warn().Msg("shutdown grace period elapsed before loop exited")
	}
	return s.actuators.PanicOff()
}
