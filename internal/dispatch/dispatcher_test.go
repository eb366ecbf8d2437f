package dispatch

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/quern/internal/dispatch/mocks"
	"github.com/mattjoyce/quern/internal/engine"
	"github.com/mattjoyce/quern/internal/events"
	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/item"
	"github.com/mattjoyce/quern/internal/log"
	"github.com/mattjoyce/quern/internal/query"
	"github.com/mattjoyce/quern/internal/score"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "text") // Suppress logs in tests
	os.Exit(m.Run())
}

type testHandler struct {
	id        string
	fn        func(ctx context.Context, q *query.Query)
	setups    atomic.Int32
	teardowns atomic.Int32
}

func (h *testHandler) ID() string                             { return h.id }
func (h *testHandler) Triggers() []string                     { return nil }
func (h *testHandler) ExecutionType() extension.ExecutionType { return extension.Batch }
func (h *testHandler) SetupSession()                          { h.setups.Add(1) }
func (h *testHandler) TeardownSession()                       { h.teardowns.Add(1) }
func (h *testHandler) HandleQuery(ctx context.Context, q *query.Query) {
	if h.fn != nil {
		h.fn(ctx, q)
	}
}

// echo returns one item whose id and text are the query string.
func echo(_ context.Context, q *query.Query) {
	q.AddMatches(item.NewStandard(q.String(), "", q.String(), ""))
}

func setupDispatcher(t *testing.T, handlers ...extension.Extension) (*Dispatcher, *mocks.MockStatsSink, *score.Model) {
	t.Helper()
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockStatsSink(ctrl)

	registry := extension.NewRegistry()
	for _, h := range handlers {
		require.NoError(t, registry.Register(h))
	}
	scores := score.NewModel()
	return New(registry, scores, sink, events.NewHub(32), engine.Options{}), sink, scores
}

func waitFor(t *testing.T, e *engine.Execution) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, Wait(ctx, e))
}

func TestStartQueryCancelsPrevious(t *testing.T) {
	release := make(chan struct{})
	slow := &testHandler{id: "slow", fn: func(ctx context.Context, q *query.Query) {
		if q.String() == "a" {
			<-release
		}
		echo(ctx, q)
	}}
	d, _, _ := setupDispatcher(t, slow)

	var mu sync.Mutex
	var seen []string
	d.SetListener(func(ev query.Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Model != nil {
			seen = append(seen, ev.Model.Input())
		}
	})

	a := d.StartQuery("a")
	b := d.StartQuery("b")
	assert.Same(t, b, d.Current())
	close(release)
	waitFor(t, a)
	waitFor(t, b)

	assert.True(t, a.Stats().Cancelled)
	assert.False(t, a.Query().IsValid())
	assert.Equal(t, query.StateFinished, b.State())

	mu.Lock()
	defer mu.Unlock()
	for i, input := range seen {
		if input == "b" {
			assert.NotContains(t, seen[i:], "a", "no events from a superseded query")
			break
		}
	}
}

func TestFinishedQueryIsNotMarkedCancelled(t *testing.T) {
	h := &testHandler{id: "h", fn: echo}
	d, _, _ := setupDispatcher(t, h)

	a := d.StartQuery("a")
	waitFor(t, a)
	d.StartQuery("b")

	assert.False(t, a.Stats().Cancelled)
}

func TestSessionHooks(t *testing.T) {
	h1 := &testHandler{id: "h1"}
	h2 := &testHandler{id: "h2"}
	d, sink, _ := setupDispatcher(t, h1, h2)
	sink.EXPECT().LoadActivations(gomock.Any()).Return(nil, nil)

	d.SetupSession()
	assert.Equal(t, int32(1), h1.setups.Load())
	assert.Equal(t, int32(1), h2.setups.Load())

	require.NoError(t, d.TeardownSession(context.Background()))
	assert.Equal(t, int32(1), h1.teardowns.Load())
	assert.Equal(t, int32(1), h2.teardowns.Load())
}

func TestTeardownPersistsStatsAndRecomputesScores(t *testing.T) {
	h := &testHandler{id: "h", fn: echo}
	d, sink, scores := setupDispatcher(t, h)
	ctx := context.Background()

	var cleared atomic.Bool
	d.SetListener(func(ev query.Event) {
		if ev.Kind == query.EventCleared {
			cleared.Store(true)
		}
	})

	first := d.StartQuery("fi")
	waitFor(t, first)
	second := d.StartQuery("fir")
	waitFor(t, second)
	require.Equal(t, 1, second.RowCount())

	activatedAt := time.Now()
	gomock.InOrder(
		sink.EXPECT().SaveSession(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, stats []query.Stats) error {
			require.Len(t, stats, 2)
			assert.Equal(t, "fi", stats[0].Input)
			assert.Equal(t, "fir", stats[1].Input)
			assert.Contains(t, stats[0].Runtimes, "h")
			assert.False(t, stats[1].Cancelled)
			return nil
		}),
		sink.EXPECT().LoadActivations(ctx).Return([]score.Activation{{ItemID: "fir", At: activatedAt}}, nil),
	)

	require.NoError(t, d.TeardownSession(ctx))
	assert.True(t, cleared.Load())
	assert.Nil(t, d.Current())
	assert.Equal(t, uint32(score.Max), scores.ScoreOf("fir"))

	next := d.StartQuery("fir")
	waitFor(t, next)
	row, err := next.Row(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(score.Max), row.Score)
}

func TestTeardownRecordsActivatedItem(t *testing.T) {
	var opened atomic.Bool
	h := &testHandler{id: "h", fn: func(_ context.Context, q *query.Query) {
		q.AddMatches(item.NewStandard("doc", "", "Doc", "", item.NewFuncAction("Open", func() { opened.Store(true) })))
	}}
	d, sink, _ := setupDispatcher(t, h)
	ctx := context.Background()

	e := d.StartQuery("doc")
	waitFor(t, e)
	require.True(t, e.Activate(0, 0))
	assert.True(t, opened.Load())

	sink.EXPECT().SaveSession(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, stats []query.Stats) error {
		require.Len(t, stats, 1)
		assert.Equal(t, "doc", stats[0].ActivatedItem)
		return nil
	})
	sink.EXPECT().LoadActivations(ctx).Return(nil, nil)
	require.NoError(t, d.TeardownSession(ctx))
}

func TestTeardownSaveErrorStillRecomputes(t *testing.T) {
	d, sink, _ := setupDispatcher(t, &testHandler{id: "h", fn: echo})
	ctx := context.Background()
	waitFor(t, d.StartQuery("x"))

	sink.EXPECT().SaveSession(ctx, gomock.Any()).Return(errors.New("disk full"))
	sink.EXPECT().LoadActivations(ctx).Return(nil, nil)

	err := d.TeardownSession(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestTeardownDoesNotWaitForRunningQueries(t *testing.T) {
	release := make(chan struct{})
	d, sink, _ := setupDispatcher(t, &testHandler{id: "h", fn: func(context.Context, *query.Query) {
		<-release
	}})
	ctx := context.Background()

	e := d.StartQuery("stuck")
	sink.EXPECT().SaveSession(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, stats []query.Stats) error {
		require.Len(t, stats, 1)
		assert.True(t, stats[0].End.IsZero())
		return nil
	})
	sink.EXPECT().LoadActivations(ctx).Return(nil, nil)

	require.NoError(t, d.TeardownSession(ctx))
	assert.Equal(t, query.StateRunning, e.State())

	close(release)
	waitFor(t, e)
}

func TestEmptySessionSkipsSave(t *testing.T) {
	d, sink, _ := setupDispatcher(t)
	sink.EXPECT().LoadActivations(gomock.Any()).Return(nil, nil)
	require.NoError(t, d.TeardownSession(context.Background()))
}

func TestIncrementalSortToggle(t *testing.T) {
	var items []item.Item
	for i := range 30 {
		items = append(items, item.NewStandard(string(rune('a'+i)), "", "x", ""))
	}
	d, _, _ := setupDispatcher(t, &testHandler{id: "h", fn: func(_ context.Context, q *query.Query) { q.AddMatches(items...) }})

	assert.False(t, d.IncrementalSort())
	e := d.StartQuery("q")
	waitFor(t, e)
	assert.Equal(t, 30, e.RowCount())

	d.SetIncrementalSort(true)
	e = d.StartQuery("q")
	waitFor(t, e)
	assert.Equal(t, engine.DefaultFetchSize, e.RowCount())
	assert.True(t, e.CanFetchMore())
}

func TestPublishesQueryEvents(t *testing.T) {
	hub := events.NewHub(16)
	registry := extension.NewRegistry()
	require.NoError(t, registry.Register(&testHandler{id: "h", fn: echo}))
	d := New(registry, score.NewModel(), mocks.NewMockStatsSink(gomock.NewController(t)), hub, engine.Options{})

	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	waitFor(t, d.StartQuery("hello"))

	var got []events.Event
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("missing events, got %v", got)
		}
	}
	assert.Equal(t, events.QueryStarted, got[0].Kind)
	finish, err := events.Decode[events.QueryFinish](got[1])
	require.NoError(t, err)
	assert.Equal(t, "hello", finish.Input)
	assert.Equal(t, "finished", finish.State)
}
