package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/item"
	"github.com/mattjoyce/quern/internal/log"
	"github.com/mattjoyce/quern/internal/query"
	"github.com/mattjoyce/quern/internal/score"
)

const (
	DefaultFetchSize        = 20
	DefaultRealtimeInterval = 50 * time.Millisecond
)

// Options tunes an execution.
type Options struct {
	// FetchIncrementally ranks only one page at a time. Further pages are
	// ranked on FetchMore.
	FetchIncrementally bool
	FetchSize          int
	RealtimeInterval   time.Duration
	// Pool is shared by all executions. Nil means a private pool.
	Pool *Pool
}

func (o Options) withDefaults() Options {
	if o.FetchSize <= 0 {
		o.FetchSize = DefaultFetchSize
	}
	if o.RealtimeInterval <= 0 {
		o.RealtimeInterval = DefaultRealtimeInterval
	}
	if o.Pool == nil {
		o.Pool = NewPool(0)
	}
	return o
}

// Execution is one query's lifecycle. It implements query.Model.
type Execution struct {
	id        string
	q         *query.Query
	batch     []extension.QueryHandler
	realtime  []extension.QueryHandler
	fallbacks []query.Match
	opts      Options
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	started  bool
	state    query.State
	results  []query.Match
	sorted   int
	fetchInc bool
	stats    query.Stats

	emitMu   sync.Mutex
	listener query.Listener
}

var _ query.Model = (*Execution)(nil)

// New creates an execution for raw. Trigger resolution happens here: the
// first handler (in the given order) declaring a prefix of raw is the only
// one that runs. Otherwise all batch handlers run. Fallbacks are collected
// up front for non-blank input.
func New(raw string, handlers []extension.QueryHandler, providers []extension.FallbackProvider, scores *score.Table, opts Options) *Execution {
	opts = opts.withDefaults()
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	e := &Execution{
		id:       id,
		opts:     opts,
		logger:   log.WithQuery(id).With("component", "engine"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		fetchInc: opts.FetchIncrementally,
		stats: query.Stats{
			ID:       id,
			Input:    raw,
			Runtimes: make(map[string]time.Duration),
		},
	}

	if strings.TrimSpace(raw) != "" {
		for _, p := range providers {
			for _, it := range e.fallbacksOf(p, raw) {
				e.fallbacks = append(e.fallbacks, query.Match{Item: it})
			}
		}
	}

	for _, h := range handlers {
		for _, trigger := range h.Triggers() {
			if trigger == "" || !strings.HasPrefix(raw, trigger) {
				continue
			}
			e.q = query.New(raw, raw[len(trigger):], trigger, scores)
			if h.ExecutionType() == extension.Realtime {
				e.realtime = []extension.QueryHandler{h}
			} else {
				e.batch = []extension.QueryHandler{h}
			}
			e.logger.Debug("query triggered", "trigger", trigger, "handler", h.ID())
			return e
		}
	}

	e.q = query.New(raw, raw, "", scores)
	for _, h := range handlers {
		if h.ExecutionType() == extension.Batch {
			e.batch = append(e.batch, h)
		}
	}
	return e
}

func (e *Execution) fallbacksOf(p extension.FallbackProvider, raw string) (items []item.Item) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("fallback provider panicked", "provider", p.ID(), "panic", fmt.Sprint(r))
			items = nil
		}
	}()
	return p.Fallbacks(raw)
}

// ID returns the execution id.
func (e *Execution) ID() string { return e.id }

// Input returns the raw query string.
func (e *Execution) Input() string { return e.q.RawString() }

// Query returns the shared query state.
func (e *Execution) Query() *query.Query { return e.q }

// Done is closed once no goroutine of this execution is running anymore,
// whether it finished or was cancelled.
func (e *Execution) Done() <-chan struct{} { return e.done }

// SetListener installs the receiver of model events. It has no effect
// after Cancel.
func (e *Execution) SetListener(l query.Listener) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	if e.ctx.Err() != nil {
		return
	}
	e.listener = l
}

func (e *Execution) emit(ev query.Event) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	if e.listener == nil {
		return
	}
	ev.Model = e
	e.listener(ev)
}

// Run starts the execution and returns immediately.
func (e *Execution) Run() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.state = query.StateRunning
	e.stats.Start = time.Now()
	e.mu.Unlock()

	e.emit(query.Event{Kind: query.EventStateChanged, State: query.StateRunning})

	if len(e.batch) > 0 {
		go e.runBatch()
		return
	}

	e.emit(query.Event{Kind: query.EventResultsReady})

	if len(e.realtime) > 0 {
		go e.runRealtime()
		return
	}

	e.finish()
	close(e.done)
}

// Cancel stops the execution. No event is delivered after it returns.
// Handlers are told to stop through their context and the query's
// validity flag; ones that ignore both run to completion unobserved.
func (e *Execution) Cancel() {
	e.emitMu.Lock()
	e.listener = nil
	e.cancel()
	e.emitMu.Unlock()

	e.q.Invalidate()

	e.mu.Lock()
	if e.state != query.StateFinished {
		e.stats.Cancelled = true
	}
	neverRan := !e.started
	e.started = true
	e.mu.Unlock()

	if neverRan {
		close(e.done)
	}
	e.logger.Debug("execution cancelled")
}

func (e *Execution) finish() {
	e.mu.Lock()
	e.state = query.StateFinished
	e.stats.End = time.Now()
	e.mu.Unlock()

	e.logger.Debug("execution finished", "rows", e.RowCount())
	e.emit(query.Event{Kind: query.EventStateChanged, State: query.StateFinished})
}

// fanOut runs handlers on the pool and waits for all of them. It returns
// the runtime of every handler that got to run.
func (e *Execution) fanOut(handlers []extension.QueryHandler) map[string]time.Duration {
	runtimes := make([]time.Duration, len(handlers))
	ran := make([]bool, len(handlers))

	var g errgroup.Group
	for i, h := range handlers {
		g.Go(func() error {
			if err := e.opts.Pool.acquire(e.ctx); err != nil {
				return nil
			}
			defer e.opts.Pool.release()

			start := time.Now()
			e.handle(h)
			runtimes[i] = time.Since(start)
			ran[i] = true
			e.logger.Debug("handler finished", "handler", h.ID(), "runtime_us", runtimes[i].Microseconds())
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]time.Duration, len(handlers))
	for i, h := range handlers {
		if ran[i] {
			out[h.ID()] = runtimes[i]
		}
	}
	return out
}

func (e *Execution) handle(h extension.QueryHandler) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("query handler panicked", "handler", h.ID(), "panic", fmt.Sprint(r))
		}
	}()
	h.HandleQuery(e.ctx, e.q)
}

func (e *Execution) runBatch() {
	runtimes := e.fanOut(e.batch)

	e.mu.Lock()
	if e.ctx.Err() != nil {
		e.mu.Unlock()
		close(e.done)
		return
	}
	maps.Copy(e.stats.Runtimes, runtimes)
	e.results = append(e.results, e.q.Drain()...)
	e.rankLocked()
	last := len(e.realtime) == 0
	if last {
		e.substituteFallbacksLocked()
	}
	e.mu.Unlock()

	e.emit(query.Event{Kind: query.EventResultsReady})

	if last {
		e.finish()
		close(e.done)
		return
	}
	e.runRealtime()
}

// rankLocked sorts the next page, or everything when not paging.
func (e *Execution) rankLocked() {
	if !e.q.Sorted() {
		return
	}
	if !e.fetchInc {
		sortMatches(e.results)
		return
	}
	until := min(e.sorted+e.opts.FetchSize, len(e.results))
	partialSort(e.results[e.sorted:], until-e.sorted)
	e.sorted = until
}

// substituteFallbacksLocked shows the fallbacks when an untriggered,
// non-empty query produced nothing. Paging is off afterwards.
func (e *Execution) substituteFallbacksLocked() bool {
	if len(e.results) > 0 || e.q.IsTriggered() || e.q.RawString() == "" {
		return false
	}
	e.results = slices.Clone(e.fallbacks)
	e.sorted = len(e.results)
	e.fetchInc = false
	return len(e.results) > 0
}

func (e *Execution) runRealtime() {
	defer close(e.done)

	finished := make(chan map[string]time.Duration, 1)
	go func() { finished <- e.fanOut(e.realtime) }()

	ticker := time.NewTicker(e.opts.RealtimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.insertPending()
		case runtimes := <-finished:
			ticker.Stop()
			e.completeRealtime(runtimes)
			return
		case <-e.ctx.Done():
			ticker.Stop()
			<-finished
			return
		}
	}
}

func (e *Execution) completeRealtime(runtimes map[string]time.Duration) {
	if e.ctx.Err() != nil {
		return
	}
	e.insertPending()

	e.mu.Lock()
	if e.ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	maps.Copy(e.stats.Runtimes, runtimes)
	substituted := e.substituteFallbacksLocked()
	n := len(e.results)
	e.mu.Unlock()

	if substituted {
		e.emit(query.Event{Kind: query.EventRowsInserted, First: 0, Last: n - 1})
	}
	e.finish()
}

// insertPending moves pending matches to the results. Without paging all
// of them become rows. While paging, a page of the new matches is sorted
// into rows when every earlier match is already materialized; otherwise
// they wait for FetchMore.
func (e *Execution) insertPending() {
	ms := e.q.Drain()
	if len(ms) == 0 {
		return
	}

	e.mu.Lock()
	first := len(e.results)
	caughtUp := e.sorted == first
	e.results = append(e.results, ms...)
	last := len(e.results) - 1
	switch {
	case !e.pagingLocked():
	case caughtUp:
		last = min(first+e.opts.FetchSize, len(e.results)) - 1
		partialSort(e.results[first:], last-first+1)
		e.sorted = last + 1
	default:
		last = -1
	}
	e.mu.Unlock()

	if last >= first {
		e.emit(query.Event{Kind: query.EventRowsInserted, First: first, Last: last})
	}
}

func (e *Execution) pagingLocked() bool {
	return e.q.Sorted() && e.fetchInc
}

// State returns the lifecycle state.
func (e *Execution) State() query.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a copy of the execution statistics.
func (e *Execution) Stats() query.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Runtimes = maps.Clone(e.stats.Runtimes)
	return s
}

// RowCount returns the number of materialized rows.
func (e *Execution) RowCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rowCountLocked()
}

func (e *Execution) rowCountLocked() int {
	if e.pagingLocked() {
		return e.sorted
	}
	return len(e.results)
}

// Row returns row i.
func (e *Execution) Row(i int) (query.Row, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i < 0 || i >= e.rowCountLocked() {
		return query.Row{}, fmt.Errorf("%w: %d", query.ErrInvalidRow, i)
	}
	return query.NewRow(e.results[i]), nil
}

// Rows returns all materialized rows.
func (e *Execution) Rows() []query.Row {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.rowCountLocked()
	rows := make([]query.Row, 0, n)
	for _, m := range e.results[:n] {
		rows = append(rows, query.NewRow(m))
	}
	return rows
}

// CanFetchMore reports whether ranked rows remain to be materialized.
func (e *Execution) CanFetchMore() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pagingLocked() && e.sorted < len(e.results)
}

// FetchMore ranks and materializes the next page.
func (e *Execution) FetchMore() {
	e.mu.Lock()
	if !e.pagingLocked() || e.sorted >= len(e.results) {
		e.mu.Unlock()
		return
	}
	first := e.sorted
	until := min(e.sorted+e.opts.FetchSize, len(e.results))
	partialSort(e.results[e.sorted:], until-e.sorted)
	e.sorted = until
	e.mu.Unlock()

	e.emit(query.Event{Kind: query.EventRowsInserted, First: first, Last: until - 1})
}

// Activate runs the given action of row and records the item as activated.
func (e *Execution) Activate(row, action int) bool {
	e.mu.Lock()
	if row < 0 || row >= e.rowCountLocked() {
		e.mu.Unlock()
		return false
	}
	it := e.results[row].Item
	e.mu.Unlock()

	return e.activate(it, action)
}

// ActivateFallback runs the first action of the first fallback item.
func (e *Execution) ActivateFallback() bool {
	if len(e.fallbacks) == 0 {
		return false
	}
	return e.activate(e.fallbacks[0].Item, 0)
}

func (e *Execution) activate(it item.Item, action int) bool {
	actions := it.Actions()
	if action < 0 || action >= len(actions) {
		return false
	}
	actions[action].Activate()

	e.mu.Lock()
	e.stats.ActivatedItem = it.ID()
	e.mu.Unlock()

	e.logger.Debug("item activated", "item", it.ID(), "action", actions[action].Text())
	return true
}

// FallbackLabel describes the fallback activation for frontends.
func (e *Execution) FallbackLabel() string {
	return fmt.Sprintf("Search '%s' using default fallback", e.q.RawString())
}

// Fallbacks returns the fallback items collected at construction.
func (e *Execution) Fallbacks() []query.Row {
	rows := make([]query.Row, 0, len(e.fallbacks))
	for _, m := range e.fallbacks {
		rows = append(rows, query.NewRow(m))
	}
	return rows
}
