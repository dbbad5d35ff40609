package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrAlreadyRunning = errors.New("cycle executor already running")

// DefaultCycleTime is used when no cycle time is configured.
const DefaultCycleTime = time.Second

// Config defines the executor cadence.
type Config struct {
	CycleTime    time.Duration
	PhaseTimeout time.Duration
}

// Option customises an Executor.
type Option func(*Executor)

// WithClock replaces the time source and the sleep function.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration)) Option {
	return func(e *Executor) {
		e.now = now
		e.sleep = sleep
	}
}

// Executor drives the fixed-period control loop:
// BEFORE_PROCESS_IMAGE, run components, EXECUTE_WRITE, AFTER_PROCESS_IMAGE,
// then sleep for the rest of the cycle.
type Executor struct {
	cfg        Config
	logger     *zap.Logger
	dispatcher *Dispatcher
	scheduler  Scheduler

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statsMu   sync.RWMutex
	stats     Stats
	onOverrun []func(elapsed time.Duration)
}

func NewExecutor(cfg Config, dispatcher *Dispatcher, scheduler Scheduler, logger *zap.Logger, opts ...Option) *Executor {
	if cfg.CycleTime <= 0 {
		cfg.CycleTime = DefaultCycleTime
	}
	e := &Executor{
		cfg:        cfg,
		logger:     logger,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, o := range opts {
		o(e)
	}
	e.stats.CycleTime = cfg.CycleTime
	return e
}

// Activate starts the loop in its own goroutine.
func (e *Executor) Activate(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.setRunning(true)

	go e.loop(ctx, e.done)

	e.logger.Info("Cycle executor started", zap.Duration("cycle_time", e.cfg.CycleTime))
	return nil
}

// Deactivate stops the loop. In-flight phases are abandoned through context
// cancellation; pending bus operations are not awaited.
func (e *Executor) Deactivate() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.setRunning(false)
	e.logger.Info("Cycle executor stopped")
}

// OnOverrun registers fn to be called whenever a cycle exceeds its budget.
func (e *Executor) OnOverrun(fn func(elapsed time.Duration)) {
	e.statsMu.Lock()
	e.onOverrun = append(e.onOverrun, fn)
	e.statsMu.Unlock()
}

func (e *Executor) Stats() Stats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

func (e *Executor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		elapsed := e.RunCycle(ctx)
		if ctx.Err() != nil {
			return
		}

		if remaining := e.cfg.CycleTime - elapsed; remaining > 0 {
			e.sleep(ctx, remaining)
		}
	}
}

// RunCycle executes one full iteration without the trailing sleep and
// returns its duration.
func (e *Executor) RunCycle(ctx context.Context) time.Duration {
	start := e.now()

	e.fire(ctx, EventBeforeProcessImage)

	failures := 0
	for _, r := range e.scheduler.Schedule() {
		if ctx.Err() != nil {
			break
		}
		if err := e.runComponent(ctx, r); err != nil {
			failures++
			e.logger.Warn("Component run failed",
				zap.String("component", r.ID()),
				zap.Error(err))
		}
	}

	e.fire(ctx, EventExecuteWrite)
	e.fire(ctx, EventAfterProcessImage)

	elapsed := e.now().Sub(start)
	e.record(elapsed, failures)
	return elapsed
}

func (e *Executor) fire(ctx context.Context, ev Event) {
	if ctx.Err() != nil {
		return
	}
	// handler errors are logged by the dispatcher
	_ = e.dispatcher.Fire(ctx, ev)
}

func (e *Executor) runComponent(ctx context.Context, r Runnable) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.Run(ctx)
}

func (e *Executor) record(elapsed time.Duration, failures int) {
	e.statsMu.Lock()
	e.stats.Cycles++
	e.stats.LastDuration = elapsed
	if elapsed > e.stats.MaxDuration {
		e.stats.MaxDuration = elapsed
	}
	e.stats.ComponentFailures += uint64(failures)

	var listeners []func(time.Duration)
	if elapsed >= e.cfg.CycleTime {
		e.stats.Overruns++
		listeners = append(listeners, e.onOverrun...)
	}
	cycles := e.stats.Cycles
	e.statsMu.Unlock()

	if listeners != nil {
		e.logger.Warn("Cycle overrun",
			zap.Uint64("cycle", cycles),
			zap.Duration("elapsed", elapsed),
			zap.Duration("cycle_time", e.cfg.CycleTime))
		for _, fn := range listeners {
			fn(elapsed)
		}
	}
}

func (e *Executor) setRunning(running bool) {
	e.statsMu.Lock()
	e.stats.Running = running
	e.statsMu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
