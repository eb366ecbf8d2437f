package query

import (
	"errors"
	"time"

	"github.com/mattjoyce/quern/internal/item"
)

// ErrInvalidRow is returned for row indexes outside the materialized range.
var ErrInvalidRow = errors.New("invalid row")

// State is the lifecycle state of an execution.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateFinished
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Stats is what gets persisted about an execution at session teardown.
type Stats struct {
	ID            string
	Input         string
	Cancelled     bool
	Start         time.Time
	End           time.Time
	ActivatedItem string
	// Runtimes maps handler ids to their wall clock runtime.
	Runtimes map[string]time.Duration
}

// Row is one materialized result as presented to frontends.
type Row struct {
	Item       item.Item `json:"-"`
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Subtext    string    `json:"subtext"`
	Icon       string    `json:"icon,omitempty"`
	Completion string    `json:"completion"`
	Urgency    string    `json:"urgency"`
	Score      uint32    `json:"score"`
	// Action is the primary action label: the first action's text, or the
	// subtext when the item has no actions.
	Action  string   `json:"action"`
	Actions []string `json:"actions"`
}

// NewRow resolves the presentation fields of m.
func NewRow(m Match) Row {
	it := m.Item
	actions := it.Actions()
	labels := make([]string, 0, len(actions))
	for _, a := range actions {
		labels = append(labels, a.Text())
	}
	primary := it.Subtext()
	if len(labels) > 0 {
		primary = labels[0]
	}
	return Row{
		Item:       it,
		ID:         it.ID(),
		Text:       it.Text(),
		Subtext:    it.Subtext(),
		Icon:       it.IconPath(),
		Completion: it.Completion(),
		Urgency:    it.Urgency().String(),
		Score:      m.Score,
		Action:     primary,
		Actions:    labels,
	}
}

// Model is the ordered result view of one execution.
type Model interface {
	ID() string
	Input() string
	State() State
	RowCount() int
	Row(i int) (Row, error)
	Rows() []Row
	CanFetchMore() bool
	FetchMore()
	// Activate runs action of row and records the item as activated.
	// It returns false if either index is out of range.
	Activate(row, action int) bool
	ActivateFallback() bool
	FallbackLabel() string
}

// EventKind classifies a model notification.
type EventKind int

const (
	// EventResultsReady means the model was (re)published and should be
	// read from scratch.
	EventResultsReady EventKind = iota
	// EventRowsInserted means rows First..Last (inclusive) were appended.
	EventRowsInserted
	// EventStateChanged carries a new execution state.
	EventStateChanged
	// EventCleared means the frontend should drop its model.
	EventCleared
)

// String returns a string representation of the kind.
func (k EventKind) String() string {
	switch k {
	case EventResultsReady:
		return "results_ready"
	case EventRowsInserted:
		return "rows_inserted"
	case EventStateChanged:
		return "state_changed"
	case EventCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Event is a change notification from a model.
type Event struct {
	Kind  EventKind
	Model Model
	First int
	Last  int
	State State
}

// Listener receives model events. Calls for one model are serialized.
type Listener func(Event)
