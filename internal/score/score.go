// Package score maintains historical usage weights for result items.
//
// A weight is the sum over all activations of an item of
// 1/(age_in_days+1), linearly normalized so the best item maps to Max.
// Tables are immutable; Model swaps whole tables atomically.
package score

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/quern/internal/log"
)

// Max is the weight of the most used item after normalization.
const Max = math.MaxUint32

// Activation is one historical activation of an item.
type Activation struct {
	ItemID string
	At     time.Time
}

// Source loads the activation history a table is computed from.
type Source interface {
	LoadActivations(ctx context.Context) ([]Activation, error)
}

// Table maps item ids to normalized weights. A nil *Table is empty.
type Table struct {
	weights map[string]uint32
}

// NewTable builds a table from raw weights. The map is copied.
func NewTable(weights map[string]uint32) *Table {
	t := &Table{weights: make(map[string]uint32, len(weights))}
	for id, w := range weights {
		t.weights[id] = w
	}
	return t
}

// ScoreOf returns the weight of id, or 0 if it is unranked.
func (t *Table) ScoreOf(id string) uint32 {
	if t == nil {
		return 0
	}
	return t.weights[id]
}

// Lookup reports whether id is ranked at all.
func (t *Table) Lookup(id string) (uint32, bool) {
	if t == nil {
		return 0, false
	}
	w, ok := t.weights[id]
	return w, ok
}

// Len returns the number of ranked items.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.weights)
}

// Compute builds a table from activation records as of now.
// Records with an empty item id are ignored. Activations in the future
// count as age zero.
func Compute(records []Activation, now time.Time) *Table {
	sums := make(map[string]float64)
	for _, r := range records {
		if r.ItemID == "" {
			continue
		}
		age := now.Sub(r.At).Hours() / 24
		if age < 0 {
			age = 0
		}
		sums[r.ItemID] += 1 / (age + 1)
	}

	var best float64
	for _, w := range sums {
		if w > best {
			best = w
		}
	}

	t := &Table{weights: make(map[string]uint32, len(sums))}
	if best <= 0 {
		return t
	}
	for id, w := range sums {
		if w == best {
			t.weights[id] = Max
			continue
		}
		t.weights[id] = uint32(w * Max / best)
	}
	return t
}

// Model holds the current table. Readers never see a partially built table.
type Model struct {
	current atomic.Pointer[Table]
	now     func() time.Time
	logger  *slog.Logger
}

// NewModel creates a model with an empty table.
func NewModel() *Model {
	m := &Model{
		now:    time.Now,
		logger: log.WithComponent("score"),
	}
	m.current.Store(&Table{weights: map[string]uint32{}})
	return m
}

// ScoreOf returns the current weight of id.
func (m *Model) ScoreOf(id string) uint32 {
	return m.current.Load().ScoreOf(id)
}

// Snapshot returns the current table. The table is immutable.
func (m *Model) Snapshot() *Table {
	return m.current.Load()
}

// Replace swaps in t.
func (m *Model) Replace(t *Table) {
	if t == nil {
		t = &Table{weights: map[string]uint32{}}
	}
	m.current.Store(t)
}

// Recompute reloads the history from src and swaps in the new table.
// On error the previous table stays in place.
func (m *Model) Recompute(ctx context.Context, src Source) error {
	start := time.Now()
	records, err := src.LoadActivations(ctx)
	if err != nil {
		return fmt.Errorf("load activations: %w", err)
	}
	t := Compute(records, m.now())
	m.current.Store(t)
	m.logger.Debug("scores recomputed",
		"activations", len(records),
		"items", t.Len(),
		"duration_us", time.Since(start).Microseconds(),
	)
	return nil
}
