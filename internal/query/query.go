package query

import (
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/quern/internal/item"
	"github.com/mattjoyce/quern/internal/score"
)

// Match is an item paired with its ranking score.
type Match struct {
	Item  item.Item
	Score uint32
}

// Query is the mutable state of one execution.
type Query struct {
	raw     string
	str     string
	trigger string

	// scores is read without locking; tables are immutable.
	scores *score.Table

	valid  atomic.Bool
	noSort atomic.Bool

	mu      sync.Mutex
	pending []Match
}

// New creates a valid query. An empty trigger means the query is untriggered;
// otherwise str is raw with the trigger prefix stripped.
func New(raw, str, trigger string, scores *score.Table) *Query {
	q := &Query{raw: raw, str: str, trigger: trigger, scores: scores}
	q.valid.Store(true)
	return q
}

// String returns the query string with any trigger stripped.
func (q *Query) String() string { return q.str }

// RawString returns the input as typed.
func (q *Query) RawString() string { return q.raw }

// Trigger returns the matched trigger prefix, or "".
func (q *Query) Trigger() string { return q.trigger }

// IsTriggered reports whether a trigger prefix bound this query to one handler.
func (q *Query) IsTriggered() bool { return q.trigger != "" }

// IsValid reports whether the query is still wanted. Long running handlers
// should check it and return early once it turns false.
func (q *Query) IsValid() bool { return q.valid.Load() }

// Invalidate marks the query as superseded.
func (q *Query) Invalidate() { q.valid.Store(false) }

// DisableSort asks the execution to keep the handler's own order.
// It only has an effect on triggered queries.
func (q *Query) DisableSort() { q.noSort.Store(true) }

// Sorted reports whether results of this query are ranked.
func (q *Query) Sorted() bool {
	return !q.IsTriggered() || !q.noSort.Load()
}

// AddMatch appends it to the pending results. The score argument is
// accepted for handler convenience, but ranking uses the historical
// usage weight of the item id, or 0 for items never activated.
func (q *Query) AddMatch(it item.Item, _ uint32) {
	m := q.match(it)
	q.mu.Lock()
	q.pending = append(q.pending, m)
	q.mu.Unlock()
}

// AddMatches appends several items under one lock.
func (q *Query) AddMatches(items ...item.Item) {
	if len(items) == 0 {
		return
	}
	ms := make([]Match, 0, len(items))
	for _, it := range items {
		ms = append(ms, q.match(it))
	}
	q.mu.Lock()
	q.pending = append(q.pending, ms...)
	q.mu.Unlock()
}

func (q *Query) match(it item.Item) Match {
	return Match{Item: it, Score: q.scores.ScoreOf(it.ID())}
}

// Drain removes and returns the pending matches.
func (q *Query) Drain() []Match {
	q.mu.Lock()
	defer q.mu.Unlock()
	ms := q.pending
	q.pending = nil
	return ms
}

// Pending returns the number of undrained matches.
func (q *Query) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
