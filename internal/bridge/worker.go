package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/cycle"
	"github.com/KevinKickass/OpenEnergyCore/internal/task"
)

var (
	ErrNotRunning   = errors.New("bridge worker not running")
	ErrPhaseSkipped = errors.New("bridge worker busy, phase skipped")
)

// DefaultInvalidateAfter is the number of consecutive failures after which
// a read element's channel becomes undefined.
const DefaultInvalidateAfter = 1

// Transport is one physical bus. Implementations need not be safe for
// concurrent use; the worker serialises all calls.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	Read(ctx context.Context, t *task.Task) ([]byte, error)
	Write(ctx context.Context, t *task.Task, address uint16, payload []byte) error
}

// Config configures a Worker.
type Config struct {
	ID              string
	InvalidateAfter int
	// OpenRetries bounds the reconnect attempts made by Activate.
	OpenRetries uint64
	// OpenBackoff is the initial backoff interval between open attempts.
	OpenBackoff time.Duration
}

// Stats are the counters exposed by a worker.
type Stats struct {
	ID            string    `json:"id"`
	Running       bool      `json:"running"`
	Connected     bool      `json:"connected"`
	Cycles        uint64    `json:"cycles"`
	ReadsOK       uint64    `json:"reads_ok"`
	ReadsFailed   uint64    `json:"reads_failed"`
	WritesOK      uint64    `json:"writes_ok"`
	WritesFailed  uint64    `json:"writes_failed"`
	Invalidations uint64    `json:"invalidations"`
	SkippedPhases uint64    `json:"skipped_phases"`
	Tasks         int       `json:"tasks"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitempty"`
}

type request struct {
	ctx  context.Context
	ev   cycle.Event
	done chan error
}

// Worker owns one bus. It executes the read phase on BEFORE_PROCESS_IMAGE
// and the write phase on EXECUTE_WRITE on its own goroutine, so that buses
// progress in parallel while every bus stays strictly serial.
type Worker struct {
	cfg       Config
	transport Transport
	tasks     *task.MetaManager
	logger    *zap.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	requests chan request
	wg       sync.WaitGroup

	// owned by the worker goroutine
	cycle uint64

	statsMu    sync.RWMutex
	stats      Stats
	phaseError bool
}

func NewWorker(cfg Config, transport Transport, logger *zap.Logger) *Worker {
	if cfg.InvalidateAfter <= 0 {
		cfg.InvalidateAfter = DefaultInvalidateAfter
	}
	if cfg.OpenRetries == 0 {
		cfg.OpenRetries = 3
	}
	if cfg.OpenBackoff <= 0 {
		cfg.OpenBackoff = 200 * time.Millisecond
	}
	return &Worker{
		cfg:       cfg,
		transport: transport,
		tasks:     task.NewMetaManager(),
		logger:    logger.With(zap.String("bridge", cfg.ID)),
		stats:     Stats{ID: cfg.ID},
	}
}

func (w *Worker) ID() string { return w.cfg.ID }

// Tasks is the registry drivers add their task managers to.
func (w *Worker) Tasks() *task.MetaManager { return w.tasks }

// Activate opens the transport and starts the worker goroutine. An open
// failure after all retries is logged; the worker still starts and the
// transport reconnects on the next request.
func (w *Worker) Activate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.OpenBackoff
	err := backoff.Retry(func() error {
		return w.transport.Open(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, w.cfg.OpenRetries), ctx))
	if err != nil {
		w.logger.Warn("Transport open failed, continuing with lazy reconnect", zap.Error(err))
		w.recordError(err)
	}
	w.setConnected(err == nil)

	w.running = true
	w.stopChan = make(chan struct{})
	w.requests = make(chan request)
	w.wg.Add(1)
	go w.loop(w.stopChan, w.requests)

	w.setRunning(true)
	w.logger.Info("Bridge worker started", zap.Int("invalidate_after", w.cfg.InvalidateAfter))
	return nil
}

// Deactivate stops the worker, closes the transport and discards all
// pending writes.
func (w *Worker) Deactivate() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopChan)
	w.mu.Unlock()

	w.wg.Wait()
	w.discardWrites()

	err := w.transport.Close()
	w.setConnected(false)
	w.setRunning(false)
	w.logger.Info("Bridge worker stopped")
	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

// HandleEvent hands the phase belonging to ev to the worker goroutine and
// waits until it finished or ctx expired. If the worker is still busy with a
// previous phase when ctx expires, the phase is skipped.
func (w *Worker) HandleEvent(ctx context.Context, ev cycle.Event) error {
	if ev != cycle.EventBeforeProcessImage && ev != cycle.EventExecuteWrite {
		return nil
	}

	w.mu.Lock()
	running, stop, requests := w.running, w.stopChan, w.requests
	w.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	req := request{ctx: ctx, ev: ev, done: make(chan error, 1)}
	select {
	case requests <- req:
	case <-ctx.Done():
		w.statsMu.Lock()
		w.stats.SkippedPhases++
		w.statsMu.Unlock()
		w.logger.Warn("Worker busy, phase skipped", zap.String("event", ev.String()))
		if ev == cycle.EventExecuteWrite {
			// setpoints of this cycle must not reach the bus a cycle late
			w.discardWrites()
		}
		return fmt.Errorf("%s: %w", ev, ErrPhaseSkipped)
	case <-stop:
		return ErrNotRunning
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy reports whether the worker runs and its last phase had no failure.
func (w *Worker) Healthy() bool {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.stats.Running && !w.phaseError
}

func (w *Worker) Stats() Stats {
	w.statsMu.RLock()
	s := w.stats
	w.statsMu.RUnlock()
	s.Tasks = w.tasks.Len()
	return s
}

func (w *Worker) loop(stop chan struct{}, requests chan request) {
	defer w.wg.Done()

	for {
		select {
		case <-stop:
			return
		case req := <-requests:
			var err error
			switch req.ev {
			case cycle.EventBeforeProcessImage:
				err = w.readPhase(req.ctx)
			case cycle.EventExecuteWrite:
				err = w.writePhase(req.ctx)
			}
			req.done <- err
		}
	}
}

// readPhase executes all HIGH reads, one LOW read per component and all
// pending ONCE reads.
func (w *Worker) readPhase(ctx context.Context) error {
	w.cycle++
	cycleNo := w.cycle - 1

	var tasks []*task.Task
	for _, t := range w.tasks.AllTasks(task.PriorityHigh) {
		if t.Op == task.OpRead && t.Due(cycleNo) {
			tasks = append(tasks, t)
		}
	}
	for _, t := range w.tasks.OneDueTasks(task.PriorityLow, cycleNo) {
		if t.Op == task.OpRead {
			tasks = append(tasks, t)
		}
	}
	for _, t := range w.tasks.AllTasks(task.PriorityOnce) {
		if t.Op == task.OpRead {
			tasks = append(tasks, t)
		}
	}

	var failed int
	for _, t := range tasks {
		if err := w.execRead(ctx, t); err != nil {
			failed++
		}
	}

	w.statsMu.Lock()
	w.stats.Cycles++
	w.phaseError = failed > 0
	w.statsMu.Unlock()

	if failed > 0 {
		return fmt.Errorf("%d of %d reads failed", failed, len(tasks))
	}
	return nil
}

func (w *Worker) execRead(ctx context.Context, t *task.Task) error {
	raw, err := w.transport.Read(ctx, t)
	if err != nil {
		for i := range t.Elements {
			w.elementFailed(t, i, err)
		}
		w.statsMu.Lock()
		w.stats.ReadsFailed++
		w.statsMu.Unlock()
		w.recordError(err)
		w.logger.Debug("Read failed", zap.Stringer("task", t), zap.Error(err))
		return err
	}

	w.setConnected(true)
	var decodeErr error
	for i, e := range t.Elements {
		if err := e.Decode(raw, e.Address()-t.Address); err != nil {
			w.elementFailed(t, i, err)
			decodeErr = errors.Join(decodeErr, err)
			continue
		}
		t.Counter(i).Reset()
	}

	w.statsMu.Lock()
	if decodeErr != nil {
		w.stats.ReadsFailed++
	} else {
		w.stats.ReadsOK++
	}
	w.statsMu.Unlock()

	if decodeErr != nil {
		w.recordError(decodeErr)
		w.logger.Warn("Decode failed", zap.Stringer("task", t), zap.Error(decodeErr))
	}
	return decodeErr
}

// elementFailed counts one failure and invalidates the element's channel
// once the threshold is reached. Below the threshold the last value stays.
func (w *Worker) elementFailed(t *task.Task, i int, cause error) {
	n := t.Counter(i).Fail()
	if n < w.cfg.InvalidateAfter {
		return
	}
	e := t.Elements[i]
	e.Invalidate()
	if n == w.cfg.InvalidateAfter {
		w.statsMu.Lock()
		w.stats.Invalidations++
		w.statsMu.Unlock()
		w.logger.Warn("Channel invalidated",
			zap.String("channel", e.Channel().Address().String()),
			zap.Int("failures", n),
			zap.Error(cause))
	}
}

// writePhase transmits every pending write value exactly once. Failed
// writes are not retried.
func (w *Worker) writePhase(ctx context.Context) error {
	var cycleNo uint64
	if w.cycle > 0 {
		cycleNo = w.cycle - 1
	}

	var errs []error
	for _, t := range w.tasks.AllTasks(task.PriorityHigh) {
		if t.Op != task.OpWrite || !t.Due(cycleNo) {
			continue
		}
		for _, e := range t.Elements {
			payload, ok, err := e.Encode()
			if err != nil {
				errs = append(errs, err)
				w.logger.Warn("Encode failed",
					zap.String("channel", e.Channel().Address().String()),
					zap.Error(err))
				continue
			}
			if !ok {
				continue
			}

			if err := w.transport.Write(ctx, t, e.Address(), payload); err != nil {
				errs = append(errs, err)
				w.statsMu.Lock()
				w.stats.WritesFailed++
				w.statsMu.Unlock()
				w.recordError(err)
				w.logger.Warn("Write failed",
					zap.String("channel", e.Channel().Address().String()),
					zap.Error(err))
				continue
			}
			w.statsMu.Lock()
			w.stats.WritesOK++
			w.statsMu.Unlock()
		}
	}
	return errors.Join(errs...)
}

// discardWrites drops the pending write value of every write element.
func (w *Worker) discardWrites() {
	for _, t := range w.tasks.AllTasks(task.PriorityHigh) {
		if t.Op != task.OpWrite {
			continue
		}
		for _, e := range t.Elements {
			e.Channel().DiscardNextWrite()
		}
	}
}

func (w *Worker) recordError(err error) {
	w.statsMu.Lock()
	w.stats.LastError = err.Error()
	w.stats.LastErrorAt = time.Now()
	w.statsMu.Unlock()
}

func (w *Worker) setConnected(c bool) {
	w.statsMu.Lock()
	w.stats.Connected = c
	w.statsMu.Unlock()
}

func (w *Worker) setRunning(r bool) {
	w.statsMu.Lock()
	w.stats.Running = r
	if !r {
		w.phaseError = false
	}
	w.statsMu.Unlock()
}
