package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadexa/assessment-backend/internal/clock"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(clock.System{}, 4, zerolog.Nop())
	require.NoError(t, err)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestSchedulerFiresOneShot(t *testing.T) {
	s := newTestScheduler(t)

	fired := make(chan time.Time, 1)
	at := time.Now().Add(30 * time.Millisecond)
	s.Enqueue(at, func(context.Context) { fired <- time.Now() })

	select {
	case firedAt := <-fired:
		// Never early; some lateness is fine on a loaded machine.
		assert.False(t, firedAt.Before(at))
	case <-time.After(2 * time.Second):
		t.Fatal("task never fired")
	}
}

func TestSchedulerFiresPastDeadlineImmediately(t *testing.T) {
	s := newTestScheduler(t)

	fired := make(chan struct{}, 1)
	s.Enqueue(time.Now().Add(-time.Minute), func(context.Context) { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("overdue task never fired")
	}
}

func TestSchedulerEarlierTaskReschedulesTimer(t *testing.T) {
	s := newTestScheduler(t)

	fired := make(chan string, 2)
	s.Enqueue(time.Now().Add(5*time.Second), func(context.Context) { fired <- "late" })
	s.Enqueue(time.Now().Add(20*time.Millisecond), func(context.Context) { fired <- "early" })

	select {
	case name := <-fired:
		assert.Equal(t, "early", name)
	case <-time.After(2 * time.Second):
		t.Fatal("early task never fired; timer not rescheduled")
	}
}

func TestSchedulerPeriodic(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int32
	s.EnqueuePeriodic(20*time.Millisecond, func(context.Context) { runs.Add(1) })

	assert.Eventually(t, func() bool { return runs.Load() >= 3 },
		2*time.Second, 10*time.Millisecond)
}

func TestSchedulerStopCancelsTaskContext(t *testing.T) {
	s, err := New(clock.System{}, 4, zerolog.Nop())
	require.NoError(t, err)
	s.Start()

	started := make(chan struct{})
	done := make(chan struct{})
	s.Enqueue(time.Now(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(done)
	})

	<-started
	go s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task context not cancelled on Stop")
	}
}

func TestSchedulerSurvivesPanickingTask(t *testing.T) {
	s := newTestScheduler(t)

	s.Enqueue(time.Now(), func(context.Context) { panic("boom") })

	fired := make(chan struct{}, 1)
	s.Enqueue(time.Now().Add(20*time.Millisecond), func(context.Context) { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler stopped dispatching after a panic")
	}
}
