package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/quern/internal/engine"
	"github.com/mattjoyce/quern/internal/events"
	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/log"
	"github.com/mattjoyce/quern/internal/query"
	"github.com/mattjoyce/quern/internal/score"
)

// Dispatcher controls the queries of one session.
type Dispatcher struct {
	registry *extension.Registry
	scores   *score.Model
	sink     StatsSink
	hub      *events.Hub
	logger   *slog.Logger

	// mu serializes session operations and guards the fields below.
	mu      sync.Mutex
	opts    engine.Options
	current *engine.Execution
	past    []*engine.Execution

	// startMu guards started. forward runs under an execution's emit lock
	// and must never take mu.
	startMu sync.Mutex
	started map[string]time.Time

	listenerMu sync.RWMutex
	listener   query.Listener
}

// New creates a Dispatcher. hub may be nil.
func New(registry *extension.Registry, scores *score.Model, sink StatsSink, hub *events.Hub, opts engine.Options) *Dispatcher {
	if opts.Pool == nil {
		opts.Pool = engine.NewPool(0)
	}
	return &Dispatcher{
		registry: registry,
		scores:   scores,
		sink:     sink,
		hub:      hub,
		opts:     opts,
		started:  make(map[string]time.Time),
		logger:   log.WithComponent("dispatch"),
	}
}

// SetListener installs the receiver of model events of the current
// execution. The listener must not call back into the Dispatcher
// synchronously.
func (d *Dispatcher) SetListener(l query.Listener) {
	d.listenerMu.Lock()
	defer d.listenerMu.Unlock()
	d.listener = l
}

func (d *Dispatcher) forward(ev query.Event) {
	d.listenerMu.RLock()
	l := d.listener
	d.listenerMu.RUnlock()
	if l != nil {
		l(ev)
	}

	if ev.Kind == query.EventStateChanged && ev.State == query.StateFinished && ev.Model != nil {
		d.startMu.Lock()
		start, ok := d.started[ev.Model.ID()]
		delete(d.started, ev.Model.ID())
		d.startMu.Unlock()
		if ok {
			d.logger.Debug("query finished", "execution_id", ev.Model.ID(), "duration_us", time.Since(start).Microseconds())
		}
		d.publish(events.QueryFinish{
			ExecutionID: ev.Model.ID(),
			Input:       ev.Model.Input(),
			Rows:        ev.Model.RowCount(),
			State:       ev.State.String(),
		})
	}
}

func (d *Dispatcher) publish(p events.Payload) {
	if d.hub != nil {
		d.hub.Publish(p)
	}
}

// SetIncrementalSort switches paging for queries started afterwards.
func (d *Dispatcher) SetIncrementalSort(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.FetchIncrementally = enabled
}

// IncrementalSort reports whether new queries page their results.
func (d *Dispatcher) IncrementalSort() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts.FetchIncrementally
}

// Current returns the execution whose results are being presented.
func (d *Dispatcher) Current() *engine.Execution {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// SetupSession runs the setup hook of every query handler.
func (d *Dispatcher) SetupSession() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Debug("session setup started")
	start := time.Now()
	for _, h := range d.registry.QueryHandlers() {
		d.runHook("setup", h, h.SetupSession)
	}
	d.logger.Debug("session setup finished", "duration_us", time.Since(start).Microseconds())
	d.publish(events.SessionOpened{})
}

func (d *Dispatcher) runHook(name string, h extension.QueryHandler, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("session hook panicked", "hook", name, "handler", h.ID(), "panic", fmt.Sprint(r))
		}
	}()
	start := time.Now()
	fn()
	d.logger.Debug("session hook finished", "hook", name, "handler", h.ID(), "duration_us", time.Since(start).Microseconds())
}

// StartQuery supersedes the current execution with one for input and
// returns it. It does not wait for handlers.
func (d *Dispatcher) StartQuery(input string) *engine.Execution {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev := d.current; prev != nil {
		if prev.State() != query.StateFinished {
			prev.Cancel()
		} else {
			prev.SetListener(nil)
		}
	}

	e := engine.New(input, d.registry.QueryHandlers(), d.registry.FallbackProviders(), d.scores.Snapshot(), d.opts)
	e.SetListener(d.forward)
	d.current = e
	d.past = append(d.past, e)
	d.startMu.Lock()
	d.started[e.ID()] = time.Now()
	d.startMu.Unlock()

	d.logger.Debug("query started", "execution_id", e.ID(), "input", input)
	d.publish(events.QueryStart{ExecutionID: e.ID(), Input: input})
	e.Run()
	return e
}

// TeardownSession ends the session. Statistics of every execution are
// persisted in start order, then scores are recomputed. The first error
// is returned after all steps ran.
func (d *Dispatcher) TeardownSession(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Debug("session teardown started")
	start := time.Now()

	for _, h := range d.registry.QueryHandlers() {
		d.runHook("teardown", h, h.TeardownSession)
	}

	if d.current != nil {
		d.current.SetListener(nil)
		d.current = nil
	}
	d.listenerMu.RLock()
	l := d.listener
	d.listenerMu.RUnlock()
	if l != nil {
		l(query.Event{Kind: query.EventCleared})
	}

	past := d.past
	d.past = nil
	d.startMu.Lock()
	clear(d.started)
	d.startMu.Unlock()

	stats := make([]query.Stats, 0, len(past))
	for _, e := range past {
		stats = append(stats, e.Stats())
	}

	var firstErr error
	if len(stats) > 0 {
		if err := d.sink.SaveSession(ctx, stats); err != nil {
			firstErr = fmt.Errorf("save session stats: %w", err)
			d.logger.Error("failed to persist session stats", "queries", len(stats), "error", err)
		}
	}

	for _, e := range past {
		if e.State() == query.StateRunning {
			go d.reap(e)
		}
	}

	if err := d.scores.Recompute(ctx, d.sink); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("recompute scores: %w", err)
		}
		d.logger.Error("failed to recompute scores", "error", err)
	}

	d.logger.Debug("session teardown finished", "queries", len(stats), "duration_us", time.Since(start).Microseconds())
	d.publish(events.SessionClosed{Queries: len(stats)})
	return firstErr
}

// reap waits for an execution left running at teardown.
func (d *Dispatcher) reap(e *engine.Execution) {
	<-e.Done()
	d.logger.Debug("released execution finished after teardown", "execution_id", e.ID())
}

// Wait blocks until e is done or ctx ends.
func Wait(ctx context.Context, e *engine.Execution) error {
	select {
	case <-e.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
