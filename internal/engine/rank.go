package engine

import (
	"cmp"
	"container/heap"
	"slices"
	"unicode/utf8"

	"github.com/mattjoyce/quern/internal/query"
)

// Compare orders matches by urgency ascending, then score descending, then
// display text length ascending (in runes).
func Compare(a, b query.Match) int {
	if ua, ub := a.Item.Urgency(), b.Item.Urgency(); ua != ub {
		return cmp.Compare(ua, ub)
	}
	if a.Score != b.Score {
		return cmp.Compare(b.Score, a.Score)
	}
	return cmp.Compare(utf8.RuneCountInString(a.Item.Text()), utf8.RuneCountInString(b.Item.Text()))
}

// Less reports whether a ranks before b.
func Less(a, b query.Match) bool {
	return Compare(a, b) < 0
}

func sortMatches(ms []query.Match) {
	slices.SortStableFunc(ms, Compare)
}

// partialSort moves the k best matches of ms, in rank order, to the front.
// The remaining matches keep their relative order. Equal matches keep
// their input order, so the prefix equals that of a stable full sort.
func partialSort(ms []query.Match, k int) {
	if k <= 0 {
		return
	}
	if k >= len(ms) {
		sortMatches(ms)
		return
	}

	h := &worstFirst{ms: ms, idx: make([]int, 0, k)}
	for i := range ms {
		if h.Len() < k {
			heap.Push(h, i)
			continue
		}
		if h.before(i, h.idx[0]) {
			h.idx[0] = i
			heap.Fix(h, 0)
		}
	}

	best := slices.Clone(h.idx)
	slices.SortFunc(best, func(a, b int) int {
		if h.before(a, b) {
			return -1
		}
		return 1
	})

	chosen := make(map[int]bool, k)
	out := make([]query.Match, 0, len(ms))
	for _, i := range best {
		chosen[i] = true
		out = append(out, ms[i])
	}
	for i := range ms {
		if !chosen[i] {
			out = append(out, ms[i])
		}
	}
	copy(ms, out)
}

// worstFirst is a max-heap of indexes into ms: the root is the worst
// ranked match kept so far.
type worstFirst struct {
	ms  []query.Match
	idx []int
}

// before ranks by Compare, then by position.
func (h *worstFirst) before(a, b int) bool {
	if c := Compare(h.ms[a], h.ms[b]); c != 0 {
		return c < 0
	}
	return a < b
}

func (h *worstFirst) Len() int           { return len(h.idx) }
func (h *worstFirst) Less(i, j int) bool { return h.before(h.idx[j], h.idx[i]) }
func (h *worstFirst) Swap(i, j int)      { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }
func (h *worstFirst) Push(x any)         { h.idx = append(h.idx, x.(int)) }
func (h *worstFirst) Pop() any {
	n := len(h.idx)
	x := h.idx[n-1]
	h.idx = h.idx[:n-1]
	return x
}
