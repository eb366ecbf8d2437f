package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind names an event on the feed. It is the SSE event name.
type Kind string

const (
	SessionSetup      Kind = "session.setup"
	SessionTeardown   Kind = "session.teardown"
	QueryStarted      Kind = "query.started"
	QueryFinished     Kind = "query.finished"
	QueryActivated    Kind = "query.activated"
	PluginState       Kind = "plugin.state"
	ExtensionAdded    Kind = "extension.registered"
	ExtensionRemoved  Kind = "extension.unregistered"
	MaintenancePruned Kind = "maintenance.pruned"
)

// Payload is the typed body of an event. Its Kind decides the event name.
type Payload interface {
	Kind() Kind
}

// SessionOpened is published when a launcher session starts.
type SessionOpened struct{}

func (SessionOpened) Kind() Kind { return SessionSetup }

// SessionClosed reports how many queries a session ran.
type SessionClosed struct {
	Queries int `json:"queries"`
}

func (SessionClosed) Kind() Kind { return SessionTeardown }

type QueryStart struct {
	ExecutionID string `json:"execution_id"`
	Input       string `json:"input"`
}

func (QueryStart) Kind() Kind { return QueryStarted }

type QueryFinish struct {
	ExecutionID string `json:"execution_id"`
	Input       string `json:"input"`
	Rows        int    `json:"rows"`
	State       string `json:"state"`
}

func (QueryFinish) Kind() Kind { return QueryFinished }

// Activation names the item a user activated.
type Activation struct {
	ExecutionID string `json:"execution_id"`
	ItemID      string `json:"item"`
}

func (Activation) Kind() Kind { return QueryActivated }

// PluginChange follows a plugin through its lifecycle states.
type PluginChange struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

func (PluginChange) Kind() Kind { return PluginState }

type ExtensionChange struct {
	ID         string `json:"id"`
	Registered bool   `json:"registered"`
}

func (c ExtensionChange) Kind() Kind {
	if c.Registered {
		return ExtensionAdded
	}
	return ExtensionRemoved
}

type Pruned struct {
	Cutoff  time.Time `json:"cutoff"`
	Deleted int64     `json:"deleted"`
}

func (Pruned) Kind() Kind { return MaintenancePruned }

// Decode unmarshals the payload of ev into T.
func Decode[T Payload](ev Event) (T, error) {
	var p T
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return p, fmt.Errorf("decode %s event %d: %w", ev.Kind, ev.ID, err)
	}
	if p.Kind() != ev.Kind {
		return p, fmt.Errorf("event %d is %s, not %s", ev.ID, ev.Kind, p.Kind())
	}
	return p, nil
}
