// Package scheduler runs deferred and periodic tasks. A single timer
// goroutine tracks the earliest deadline in a min-heap; due tasks execute
// on a bounded worker pool so a slow task never delays the timer.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/acadexa/assessment-backend/internal/clock"
)

type item struct {
	at    time.Time
	seq   uint64
	every time.Duration // 0 for one-shot
	run   func(ctx context.Context)
}

type taskHeap []*item

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(*item)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Scheduler owns the timer loop and the execution pool.
type Scheduler struct {
	clk  clock.Clock
	pool *ants.Pool
	log  zerolog.Logger

	mu    sync.Mutex
	tasks taskHeap
	seq   uint64
	wake  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler with a worker pool of the given size.
func New(clk clock.Clock, poolSize int, log zerolog.Logger) (*Scheduler, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clk:    clk,
		pool:   pool,
		log:    log.With().Str("component", "scheduler").Logger(),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the timer loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the timer loop and releases the pool. In-flight tasks see
// their context cancelled.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.pool.Release()
}

// Enqueue schedules a one-shot task at the given instant. Past instants
// fire on the next loop iteration. Tasks receive the scheduler's lifetime
// context and must re-read any state they need; nothing is captured for them.
func (s *Scheduler) Enqueue(at time.Time, task func(ctx context.Context)) {
	s.push(&item{at: at, run: task})
}

// EnqueuePeriodic schedules a task to run every interval, first firing one
// interval from now. The next run is scheduled when the current one fires,
// so overlapping executions of the same task cannot stack up in the heap.
func (s *Scheduler) EnqueuePeriodic(every time.Duration, task func(ctx context.Context)) {
	s.push(&item{at: s.clk.Now().Add(every), every: every, run: task})
}

func (s *Scheduler) push(it *item) {
	s.mu.Lock()
	s.seq++
	it.seq = s.seq
	heap.Push(&s.tasks, it)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		now := s.clk.Now()
		for s.tasks.Len() > 0 && !s.tasks[0].at.After(now) {
			it := heap.Pop(&s.tasks).(*item)
			if it.every > 0 {
				next := &item{at: now.Add(it.every), every: it.every, run: it.run}
				s.seq++
				next.seq = s.seq
				heap.Push(&s.tasks, next)
			}
			s.dispatch(it)
		}
		if s.tasks.Len() > 0 {
			wait = s.tasks[0].at.Sub(now)
		} else {
			wait = time.Hour
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// dispatch hands the task to the pool. Called with s.mu held; the submitted
// closure runs outside the lock.
func (s *Scheduler) dispatch(it *item) {
	run := it.run
	if err := s.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Interface("panic", r).Msg("task panicked")
			}
		}()
		run(s.ctx)
	}); err != nil {
		s.log.Error().Err(err).Msg("submit task to pool")
	}
}
