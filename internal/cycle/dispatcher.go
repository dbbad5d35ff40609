package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type subscription struct {
	name    string
	handler Handler
}

// Dispatcher fans cycle events out to subscribed handlers. All handlers of
// one event run concurrently; Fire returns when they are done or the phase
// timeout expires.
type Dispatcher struct {
	logger  *zap.Logger
	timeout time.Duration

	mu   sync.RWMutex
	subs map[Event][]subscription
}

// NewDispatcher creates a dispatcher. A zero timeout disables the phase limit.
func NewDispatcher(logger *zap.Logger, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		logger:  logger,
		timeout: timeout,
		subs:    make(map[Event][]subscription),
	}
}

// Subscribe registers h for the given events under name.
func (d *Dispatcher) Subscribe(name string, h Handler, events ...Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ev := range events {
		d.subs[ev] = append(d.subs[ev], subscription{name: name, handler: h})
	}
}

// Unsubscribe removes all subscriptions registered under name.
func (d *Dispatcher) Unsubscribe(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ev, list := range d.subs {
		kept := list[:0]
		for _, s := range list {
			if s.name != name {
				kept = append(kept, s)
			}
		}
		d.subs[ev] = kept
	}
}

// Fire delivers ev to all subscribers. Handler errors are logged and
// returned joined; they never stop other handlers.
func (d *Dispatcher) Fire(ctx context.Context, ev Event) error {
	d.mu.RLock()
	subs := append([]subscription(nil), d.subs[ev]...)
	d.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	errs := make([]error, len(subs))
	var g errgroup.Group
	for i, s := range subs {
		i, s := i, s
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s: panic in %s handler: %v", s.name, ev, r)
				}
				errs[i] = err
			}()
			return s.handler.HandleEvent(ctx, ev)
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("Phase timed out",
			zap.String("event", ev.String()),
			zap.Error(ctx.Err()))
		return fmt.Errorf("%s: %w", ev, ctx.Err())
	}

	var joined []error
	for i, err := range errs {
		if err != nil {
			d.logger.Warn("Event handler failed",
				zap.String("event", ev.String()),
				zap.String("handler", subs[i].name),
				zap.Error(err))
			joined = append(joined, err)
		}
	}
	return errors.Join(joined...)
}
