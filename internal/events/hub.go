// Package events is the in-process feed of lifecycle notifications that
// frontends stream to clients.
package events

import (
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one entry of the feed. Data is the JSON encoding of the
// payload that produced it.
type Event struct {
	ID   int64           `json:"id"`
	Kind Kind            `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

type subscriber struct {
	ch    chan Event
	kinds []Kind
}

func (s subscriber) wants(k Kind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, k)
}

// Hub fans published payloads out to subscribers and keeps the newest in
// a ring buffer so late clients can replay them.
type Hub struct {
	nextID atomic.Int64
	// dropped counts deliveries skipped because a subscriber was full.
	dropped atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]subscriber
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]subscriber),
	}
}

// Publish records p and hands it to every interested subscriber without
// blocking.
func (h *Hub) Publish(p Payload) {
	if p == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		data = []byte("{}")
	}
	ev := Event{
		ID:   h.nextID.Add(1),
		Kind: p.Kind(),
		At:   time.Now().UTC(),
		Data: data,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushLocked(ev)
	for _, s := range h.subs {
		if !s.wants(ev.Kind) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of new events of the given kinds, or of all
// kinds when none are given. The func unsubscribes and closes the channel.
func (h *Hub) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	s := subscriber{ch: make(chan Event, 128), kinds: slices.Clone(kinds)}
	h.subs[id] = s

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(cur.ch)
		}
	}
	return s.ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest first,
// filtered to kinds when any are given.
func (h *Hub) SnapshotSince(lastID int64, kinds ...Kind) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	filter := subscriber{kinds: kinds}
	out := make([]Event, 0, h.size)
	for i := range h.size {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID && filter.wants(ev.Kind) {
			out = append(out, ev)
		}
	}
	return out
}

// Dropped returns how many deliveries were skipped for full subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
