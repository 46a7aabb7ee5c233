package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhaven/hydro-controller/internal/arbiter"
	"github.com/greenhaven/hydro-controller/internal/hal"
	"github.com/greenhaven/hydro-controller/internal/herr"
	"github.com/greenhaven/hydro-controller/internal/model"
)

func newTestArbiter(t *testing.T, pin int) *arbiter.Arbiter {
	a := arbiter.New(hal.NewStub(), zerolog.Nop())
	require.NoError(t, a.Manage(pin, arbiter.DefaultLimits()))
	return a
}

func TestTick_RunsTaskOnlyOnceEvenIfOverdueTwice(t *testing.T) {
	s := New(newTestArbiter(t, 1), zerolog.Nop())
	var calls int
	var mu sync.Mutex
	s.AddTask("t1", 10*time.Millisecond, func(ctx context.Context, now time.Time) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	tasks := append([]*task(nil), s.tasks...)
	// force it far overdue, as if multiple intervals were missed
	tasks[0].nextFire = time.Now().Add(-time.Hour)

	s.tick(context.Background(), tasks)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestRunTask_TransientErrorKeepsTaskRunning(t *testing.T) {
	s := New(newTestArbiter(t, 1), zerolog.Nop())
	s.AddTask("t1", time.Millisecond, func(ctx context.Context, now time.Time) error {
		return herr.Wrap("transient", fmt.Errorf("bus busy"))
	})
	tasks := append([]*task(nil), s.tasks...)
	s.runTask(context.Background(), tasks[0], time.Now())

	assert.Equal(t, StatusRunning, s.Status()["t1"])
}

func TestRunTask_ConfigurationErrorMarksFailed(t *testing.T) {
	s := New(newTestArbiter(t, 1), zerolog.Nop())
	s.AddTask("t1", time.Millisecond, func(ctx context.Context, now time.Time) error {
		return herr.Wrap("configuration", fmt.Errorf("bad threshold"))
	})
	tasks := append([]*task(nil), s.tasks...)
	s.runTask(context.Background(), tasks[0], time.Now())

	assert.Equal(t, StatusFailed, s.Status()["t1"])
}

func TestTick_SkipsFailedTasks(t *testing.T) {
	s := New(newTestArbiter(t, 1), zerolog.Nop())
	var calls int
	s.AddTask("t1", time.Millisecond, func(ctx context.Context, now time.Time) error {
		calls++
		return herr.Wrap("configuration", fmt.Errorf("bad"))
	})
	tasks := append([]*task(nil), s.tasks...)
	tasks[0].nextFire = time.Now().Add(-time.Minute)
	s.tick(context.Background(), tasks)
	require.Equal(t, 1, calls)

	tasks[0].nextFire = time.Now().Add(-time.Minute)
	s.tick(context.Background(), tasks)
	assert.Equal(t, 1, calls, "failed task must not run again")
}

func TestRunAndShutdown_InvokesPanicOff(t *testing.T) {
	bus := hal.NewStub()
	a := arbiter.New(bus, zerolog.Nop())
	require.NoError(t, a.Manage(3, arbiter.DefaultLimits()))
	_, err := a.Set(3, true)
	require.NoError(t, err)

	s := New(a, zerolog.Nop())
	s.AddTask("noop", time.Hour, func(ctx context.Context, now time.Time) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.NoError(t, s.Shutdown(time.Second))
	<-done

	assert.Equal(t, model.PinLow, a.List()[3].Level)
}

func TestAddTask_IsSafeConcurrentlyWithRun(t *testing.T) {
	s := New(newTestArbiter(t, 1), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	go s.Run(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		id := fmt.Sprintf("t%d", i)
		go func() {
			defer wg.Done()
			s.AddTask(id, time.Hour, func(ctx context.Context, now time.Time) error { return nil })
		}()
	}
	wg.Wait()
	cancel()

	assert.Len(t, s.Status(), 5)
}
