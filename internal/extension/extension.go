// Package extension defines the capabilities plugins publish and the
// registry they are published to.
//
// An extension is any object with a unique id. Capabilities are detected
// once, when the extension is registered, and kept in per-capability
// indexes so lookups never inspect types.
package extension

import (
	"context"

	"github.com/mattjoyce/quern/internal/item"
	"github.com/mattjoyce/quern/internal/query"
)

// Extension is a registrable object, identified by its id. Pointer
// implementations are told apart by identity.
type Extension interface {
	ID() string
}

// ExecutionType selects how a handler's results are merged.
type ExecutionType int

const (
	// Batch handlers are merged once, after all of them return.
	Batch ExecutionType = iota
	// Realtime handlers are merged periodically while they run. They only
	// run when one of their triggers matches.
	Realtime
)

// String returns a string representation of the execution type.
func (t ExecutionType) String() string {
	if t == Realtime {
		return "realtime"
	}
	return "batch"
}

// QueryHandler produces matches for queries.
type QueryHandler interface {
	Extension
	// Triggers returns the prefixes that bind a query to this handler alone.
	// The set must not change after registration.
	Triggers() []string
	ExecutionType() ExecutionType
	// HandleQuery appends matches to q. It is called concurrently with
	// other handlers and should return early once ctx is done.
	HandleQuery(ctx context.Context, q *query.Query)
	SetupSession()
	TeardownSession()
}

// FallbackProvider offers default items when no handler matched.
type FallbackProvider interface {
	Extension
	Fallbacks(input string) []item.Item
}

// PluginInfo is a read-only view of a plugin for frontends.
type PluginInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	LoadType string `json:"load_type"`
	State    string `json:"state"`
	Reason   string `json:"reason,omitempty"`
	Enabled  bool   `json:"enabled"`
	Checksum string `json:"checksum,omitempty"`
}

// PluginProvider owns plugins and lets frontends toggle them.
type PluginProvider interface {
	Extension
	Describe() []PluginInfo
	SetEnabled(id string, enabled bool) error
}

// Frontend presents queries to the user until ctx is done or the user quits.
type Frontend interface {
	Extension
	Run(ctx context.Context) error
}
