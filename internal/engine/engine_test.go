package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/item"
	"github.com/mattjoyce/quern/internal/log"
	"github.com/mattjoyce/quern/internal/query"
	"github.com/mattjoyce/quern/internal/score"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "text")
	os.Exit(m.Run())
}

type fakeHandler struct {
	id       string
	triggers []string
	typ      extension.ExecutionType
	fn       func(ctx context.Context, q *query.Query)
	calls    atomic.Int32
}

func (h *fakeHandler) ID() string                             { return h.id }
func (h *fakeHandler) Triggers() []string                     { return h.triggers }
func (h *fakeHandler) ExecutionType() extension.ExecutionType { return h.typ }
func (h *fakeHandler) SetupSession()                          {}
func (h *fakeHandler) TeardownSession()                       {}
func (h *fakeHandler) HandleQuery(ctx context.Context, q *query.Query) {
	h.calls.Add(1)
	if h.fn != nil {
		h.fn(ctx, q)
	}
}

func returning(items ...item.Item) func(context.Context, *query.Query) {
	return func(_ context.Context, q *query.Query) { q.AddMatches(items...) }
}

type fakeFallbacks struct {
	items []item.Item
}

func (f *fakeFallbacks) ID() string                   { return "fallbacks" }
func (f *fakeFallbacks) Fallbacks(string) []item.Item { return f.items }

type recorder struct {
	mu     sync.Mutex
	events []query.Event
}

func (r *recorder) listen(ev query.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) kinds(kind query.EventKind) []query.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []query.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func std(id, text string) *item.Standard {
	return item.NewStandard(id, "", text, "")
}

func waitDone(t *testing.T, e *Execution) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("execution did not complete")
	}
}

func handlers(hs ...*fakeHandler) []extension.QueryHandler {
	out := make([]extension.QueryHandler, 0, len(hs))
	for _, h := range hs {
		out = append(out, h)
	}
	return out
}

func texts(rows []query.Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Text)
	}
	return out
}

func TestTriggerBindsSingleHandler(t *testing.T) {
	a := &fakeHandler{id: "a", triggers: []string{"a "}, fn: returning(std("a1", "from a"))}
	b := &fakeHandler{id: "b", triggers: []string{"b "}, fn: returning(std("b1", "from b"))}
	c := &fakeHandler{id: "c"}

	var seen string
	b.fn = func(_ context.Context, q *query.Query) {
		seen = q.String()
		q.AddMatches(std("b1", "from b"))
	}

	e := New("b foo", handlers(a, b, c), nil, nil, Options{})
	assert.True(t, e.Query().IsTriggered())
	assert.Equal(t, "b ", e.Query().Trigger())

	e.Run()
	waitDone(t, e)

	assert.Equal(t, "foo", seen)
	assert.Equal(t, int32(0), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, int32(0), c.calls.Load())
	assert.Equal(t, []string{"from b"}, texts(e.Rows()))
	assert.Contains(t, e.Stats().Runtimes, "b")
}

func TestFirstTriggerMatchWins(t *testing.T) {
	first := &fakeHandler{id: "first", triggers: []string{"", "x"}}
	second := &fakeHandler{id: "second", triggers: []string{"x"}}

	e := New("xyz", handlers(first, second), nil, nil, Options{})
	e.Run()
	waitDone(t, e)

	assert.Equal(t, int32(1), first.calls.Load())
	assert.Equal(t, int32(0), second.calls.Load())
}

func TestUntriggeredSkipsRealtimeHandlers(t *testing.T) {
	batch := &fakeHandler{id: "batch"}
	rt := &fakeHandler{id: "rt", typ: extension.Realtime, triggers: []string{"f "}}

	e := New("hello", handlers(batch, rt), nil, nil, Options{})
	e.Run()
	waitDone(t, e)

	assert.Equal(t, int32(1), batch.calls.Load())
	assert.Equal(t, int32(0), rt.calls.Load())
	assert.Equal(t, query.StateFinished, e.State())
}

func TestRankingByHistoricalScore(t *testing.T) {
	scores := score.NewTable(map[string]uint32{"a": 10, "b": 5})
	h1 := &fakeHandler{id: "h1", fn: returning(std("b", "b"))}
	h2 := &fakeHandler{id: "h2", fn: returning(std("a", "a"))}

	e := New("q", handlers(h1, h2), nil, scores, Options{})
	e.Run()
	waitDone(t, e)

	rows := e.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, uint32(10), rows[0].Score)
	assert.Equal(t, "b", rows[1].ID)
}

func TestRankingShorterTextFirst(t *testing.T) {
	h := &fakeHandler{id: "h", fn: returning(std("long", "abcdef"), std("short", "ab"))}

	e := New("q", handlers(h), nil, nil, Options{})
	e.Run()
	waitDone(t, e)

	assert.Equal(t, []string{"ab", "abcdef"}, texts(e.Rows()))
}

func TestRankingUrgencyFirst(t *testing.T) {
	alert := std("alert", "a very long alert text")
	alert.Level = item.UrgencyAlert
	scores := score.NewTable(map[string]uint32{"normal": score.Max})
	h := &fakeHandler{id: "h", fn: returning(std("normal", "n"), alert)}

	e := New("q", handlers(h), nil, scores, Options{})
	e.Run()
	waitDone(t, e)

	rows := e.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "alert", rows[0].ID)
}

func TestBlankInputNeverInjectsFallbacks(t *testing.T) {
	fb := &fakeFallbacks{items: []item.Item{std("web", "Search the web")}}
	for _, input := range []string{"", "   ", "\t"} {
		t.Run(fmt.Sprintf("%q", input), func(t *testing.T) {
			h := &fakeHandler{id: "h"}
			e := New(input, handlers(h), []extension.FallbackProvider{fb}, nil, Options{})
			e.Run()
			waitDone(t, e)
			assert.Equal(t, 0, e.RowCount())
			assert.False(t, e.ActivateFallback())
		})
	}
}

func TestFallbacksReplaceEmptyResults(t *testing.T) {
	fb := &fakeFallbacks{items: []item.Item{std("web", "Search the web"), std("wiki", "Search wiki")}}
	h := &fakeHandler{id: "h"}

	e := New("foo", handlers(h), []extension.FallbackProvider{fb}, nil, Options{FetchIncrementally: true})
	e.Run()
	waitDone(t, e)

	assert.Equal(t, []string{"Search the web", "Search wiki"}, texts(e.Rows()))
	assert.False(t, e.CanFetchMore())
	assert.Equal(t, "Search 'foo' using default fallback", e.FallbackLabel())
}

func TestTriggeredQueryGetsNoFallbacks(t *testing.T) {
	fb := &fakeFallbacks{items: []item.Item{std("web", "Search the web")}}
	h := &fakeHandler{id: "h", triggers: []string{"t "}}

	e := New("t foo", handlers(h), []extension.FallbackProvider{fb}, nil, Options{})
	e.Run()
	waitDone(t, e)

	assert.Equal(t, 0, e.RowCount())
	assert.Len(t, e.Fallbacks(), 1)
}

func TestIncrementalPaging(t *testing.T) {
	weights := map[string]uint32{}
	var items []item.Item
	for i := range 45 {
		id := fmt.Sprintf("i%02d", i)
		weights[id] = uint32((i * 7919) % 101)
		items = append(items, std(id, id))
	}
	h := &fakeHandler{id: "h", fn: returning(items...)}

	e := New("q", handlers(h), nil, score.NewTable(weights), Options{FetchIncrementally: true})
	rec := &recorder{}
	e.SetListener(rec.listen)
	e.Run()
	waitDone(t, e)

	assert.Equal(t, 20, e.RowCount())
	assert.True(t, e.CanFetchMore())
	firstPage := e.Rows()

	e.FetchMore()
	assert.Equal(t, 40, e.RowCount())
	e.FetchMore()
	assert.Equal(t, 45, e.RowCount())
	assert.False(t, e.CanFetchMore())
	e.FetchMore()
	assert.Equal(t, 45, e.RowCount())

	rows := e.Rows()
	assert.Equal(t, firstPage, rows[:20], "earlier pages are never reordered")
	for i := 1; i < len(rows); i++ {
		assert.GreaterOrEqual(t, rows[i-1].Score, rows[i].Score)
	}

	inserted := rec.kinds(query.EventRowsInserted)
	require.Len(t, inserted, 2)
	assert.Equal(t, 20, inserted[0].First)
	assert.Equal(t, 39, inserted[0].Last)
	assert.Equal(t, 40, inserted[1].First)
	assert.Equal(t, 44, inserted[1].Last)

	_, err := e.Row(45)
	assert.ErrorIs(t, err, query.ErrInvalidRow)
}

func TestDisableSortKeepsHandlerOrder(t *testing.T) {
	h := &fakeHandler{id: "h", triggers: []string{"raw "}, fn: func(_ context.Context, q *query.Query) {
		q.DisableSort()
		q.AddMatches(std("1", "longest text"), std("2", "mid"), std("3", "x"))
	}}

	e := New("raw q", handlers(h), nil, nil, Options{FetchIncrementally: true})
	e.Run()
	waitDone(t, e)

	assert.Equal(t, []string{"longest text", "mid", "x"}, texts(e.Rows()))
	assert.False(t, e.CanFetchMore())
}

func TestRealtimeInsertsIncrementally(t *testing.T) {
	release := make(chan struct{})
	h := &fakeHandler{id: "files", typ: extension.Realtime, triggers: []string{"f "}, fn: func(_ context.Context, q *query.Query) {
		q.AddMatches(std("1", "one"))
		<-release
		q.AddMatches(std("2", "two"), std("3", "three"))
	}}

	e := New("f x", handlers(h), nil, nil, Options{RealtimeInterval: 5 * time.Millisecond})
	rec := &recorder{}
	e.SetListener(rec.listen)
	e.Run()

	assert.Eventually(t, func() bool { return e.RowCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, query.StateRunning, e.State())
	close(release)
	waitDone(t, e)

	assert.Equal(t, query.StateFinished, e.State())
	assert.Equal(t, []string{"one", "two", "three"}, texts(e.Rows()))

	inserted := rec.kinds(query.EventRowsInserted)
	require.NotEmpty(t, inserted)
	assert.Equal(t, 0, inserted[0].First)
	assert.Equal(t, 2, inserted[len(inserted)-1].Last)
	assert.Len(t, rec.kinds(query.EventResultsReady), 1)
}

func TestRealtimeWithIncrementalSortMaterializesPages(t *testing.T) {
	release := make(chan struct{})
	h := &fakeHandler{id: "files", typ: extension.Realtime, triggers: []string{"f "}, fn: func(_ context.Context, q *query.Query) {
		q.AddMatches(std("1", "one"))
		<-release
		q.AddMatches(std("2", "dddd"), std("3", "bb"), std("4", "cc"))
	}}

	e := New("f x", handlers(h), nil, nil, Options{
		FetchIncrementally: true,
		FetchSize:          2,
		RealtimeInterval:   5 * time.Millisecond,
	})
	rec := &recorder{}
	e.SetListener(rec.listen)
	e.Run()

	assert.Eventually(t, func() bool { return e.RowCount() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	waitDone(t, e)

	require.Equal(t, 3, e.RowCount())
	assert.True(t, e.CanFetchMore())
	rows := texts(e.Rows())
	assert.Equal(t, "one", rows[0])
	assert.ElementsMatch(t, []string{"bb", "cc"}, rows[1:])

	inserted := rec.kinds(query.EventRowsInserted)
	require.Len(t, inserted, 2)
	assert.Equal(t, [2]int{0, 0}, [2]int{inserted[0].First, inserted[0].Last})
	assert.Equal(t, [2]int{1, 2}, [2]int{inserted[1].First, inserted[1].Last})

	e.FetchMore()
	assert.Equal(t, 4, e.RowCount())
	assert.Equal(t, "dddd", texts(e.Rows())[3])
	assert.False(t, e.CanFetchMore())
}

func TestRealtimeWithIncrementalSortWaitsForFetchMore(t *testing.T) {
	step := make(chan struct{})
	h := &fakeHandler{id: "files", typ: extension.Realtime, triggers: []string{"f "}, fn: func(_ context.Context, q *query.Query) {
		q.AddMatches(std("1", "a"), std("2", "b"), std("3", "c"))
		<-step
		q.AddMatches(std("4", "d"))
	}}

	e := New("f x", handlers(h), nil, nil, Options{
		FetchIncrementally: true,
		FetchSize:          2,
		RealtimeInterval:   5 * time.Millisecond,
	})
	rec := &recorder{}
	e.SetListener(rec.listen)
	e.Run()

	assert.Eventually(t, func() bool { return e.RowCount() == 2 }, time.Second, 5*time.Millisecond)
	close(step)
	waitDone(t, e)

	assert.Equal(t, 2, e.RowCount(), "unfetched matches stay behind FetchMore")
	assert.Len(t, rec.kinds(query.EventRowsInserted), 1)

	e.FetchMore()
	assert.Equal(t, 4, e.RowCount())
}

func TestRealtimeFallbackAfterEmptyRun(t *testing.T) {
	// Realtime handlers only run when triggered, so an empty realtime run
	// never substitutes fallbacks.
	fb := &fakeFallbacks{items: []item.Item{std("web", "web")}}
	h := &fakeHandler{id: "rt", typ: extension.Realtime, triggers: []string{"f "}}

	e := New("f x", handlers(h), []extension.FallbackProvider{fb}, nil, Options{RealtimeInterval: time.Millisecond})
	e.Run()
	waitDone(t, e)
	assert.Equal(t, 0, e.RowCount())
}

func TestCancelRealtimeStopsNotifications(t *testing.T) {
	h := &fakeHandler{id: "stream", typ: extension.Realtime, triggers: []string{"s "}, fn: func(ctx context.Context, q *query.Query) {
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			q.AddMatches(std(fmt.Sprint(i), "row"))
		}
	}}

	e := New("s q", handlers(h), nil, nil, Options{RealtimeInterval: 2 * time.Millisecond})
	rec := &recorder{}
	e.SetListener(rec.listen)
	e.Run()

	assert.Eventually(t, func() bool { return len(rec.kinds(query.EventRowsInserted)) >= 2 }, time.Second, time.Millisecond)
	e.Cancel()
	after := rec.count()

	waitDone(t, e)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, rec.count())
	assert.False(t, e.Query().IsValid())
	assert.True(t, e.Stats().Cancelled)
	assert.NotEqual(t, query.StateFinished, e.State())
}

func TestCancelBatchDiscardsResults(t *testing.T) {
	release := make(chan struct{})
	h := &fakeHandler{id: "slow", fn: func(_ context.Context, q *query.Query) {
		<-release
		q.AddMatches(std("late", "late"))
	}}

	e := New("q", handlers(h), nil, nil, Options{})
	rec := &recorder{}
	e.SetListener(rec.listen)
	e.Run()
	e.Cancel()
	after := rec.count()
	close(release)
	waitDone(t, e)

	assert.Equal(t, after, rec.count())
	assert.Equal(t, query.StateRunning, e.State())
	assert.Equal(t, 0, e.RowCount())
	assert.True(t, e.Stats().Cancelled)
}

func TestSupersededExecutionNeverReachesListener(t *testing.T) {
	release := make(chan struct{})
	slow := &fakeHandler{id: "slow", fn: func(_ context.Context, q *query.Query) {
		<-release
		q.AddMatches(std("stale", "stale"))
	}}

	var mu sync.Mutex
	var models []string
	listen := func(ev query.Event) {
		mu.Lock()
		defer mu.Unlock()
		models = append(models, ev.Model.ID())
	}

	a := New("a", handlers(slow), nil, nil, Options{})
	a.SetListener(listen)
	a.Run()

	a.Cancel()
	b := New("b", handlers(&fakeHandler{id: "fast", fn: returning(std("fresh", "fresh"))}), nil, nil, Options{})
	b.SetListener(listen)
	b.Run()
	close(release)
	waitDone(t, a)
	waitDone(t, b)

	mu.Lock()
	defer mu.Unlock()
	for i, id := range models {
		if id == b.ID() {
			for _, later := range models[i:] {
				assert.Equal(t, b.ID(), later)
			}
			break
		}
	}
}

func TestCancelBeforeRun(t *testing.T) {
	h := &fakeHandler{id: "h"}
	e := New("q", handlers(h), nil, nil, Options{})
	e.Cancel()
	e.Run()
	waitDone(t, e)
	assert.Equal(t, int32(0), h.calls.Load())
	assert.Equal(t, query.StateCreated, e.State())
}

func TestPanickingHandlerDoesNotStopSiblings(t *testing.T) {
	bad := &fakeHandler{id: "bad", fn: func(_ context.Context, q *query.Query) {
		q.AddMatches(std("before", "before panic"))
		panic("boom")
	}}
	good := &fakeHandler{id: "good", fn: returning(std("good", "good"))}

	e := New("q", handlers(bad, good), nil, nil, Options{})
	e.Run()
	waitDone(t, e)

	assert.Equal(t, query.StateFinished, e.State())
	assert.ElementsMatch(t, []string{"before panic", "good"}, texts(e.Rows()))
}

func TestNoHandlersFinishesImmediately(t *testing.T) {
	e := New("q", nil, nil, nil, Options{})
	rec := &recorder{}
	e.SetListener(rec.listen)
	e.Run()
	waitDone(t, e)

	assert.Equal(t, query.StateFinished, e.State())
	assert.Len(t, rec.kinds(query.EventResultsReady), 1)
	assert.False(t, e.Stats().End.IsZero())
}

func TestActivateRecordsItem(t *testing.T) {
	var opened, copied atomic.Bool
	it := item.NewStandard("doc", "", "Doc", "sub",
		item.NewFuncAction("Open", func() { opened.Store(true) }),
		item.NewFuncAction("Copy", func() { copied.Store(true) }))
	var fbHit atomic.Bool
	fb := &fakeFallbacks{items: []item.Item{item.NewStandard("web", "", "Web", "", item.NewFuncAction("Search", func() { fbHit.Store(true) }))}}
	h := &fakeHandler{id: "h", fn: returning(it)}

	e := New("doc", handlers(h), []extension.FallbackProvider{fb}, nil, Options{})
	e.Run()
	waitDone(t, e)

	assert.False(t, e.Activate(5, 0))
	assert.False(t, e.Activate(0, 2))
	assert.Empty(t, e.Stats().ActivatedItem)

	assert.True(t, e.Activate(0, 1))
	assert.True(t, copied.Load())
	assert.False(t, opened.Load())
	assert.Equal(t, "doc", e.Stats().ActivatedItem)

	assert.True(t, e.ActivateFallback())
	assert.True(t, fbHit.Load())
	assert.Equal(t, "web", e.Stats().ActivatedItem)
}

func TestSharedPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	var running, peak atomic.Int32
	slow := func(context.Context, *query.Query) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
	}
	var hs []*fakeHandler
	for i := range 6 {
		hs = append(hs, &fakeHandler{id: fmt.Sprint(i), fn: slow})
	}

	e := New("q", handlers(hs...), nil, nil, Options{Pool: pool})
	e.Run()
	waitDone(t, e)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, e.Stats().Runtimes, 6)
}
