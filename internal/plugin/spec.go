package plugin

import (
	"fmt"
	"sync"

	"github.com/mattjoyce/quern/internal/extension"
)

// State is the lifecycle state of a plugin.
type State int

const (
	// StateInvalid plugins failed metadata validation. Terminal.
	StateInvalid State = iota
	StateReady
	StateLoading
	StateLoaded
	// StateError plugins failed to instantiate. Loading may be retried.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateReady:
		return "ready"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Instance is a live plugin object. It is registered as an extension
// while its plugin is loaded. Instances that hold resources implement
// io.Closer; Close is called on unload.
type Instance interface {
	extension.Extension
}

// Factory instantiates the plugin described by spec.
type Factory func(spec *Spec) (Instance, error)

// Factories maps plugin ids to their factory.
type Factories map[string]Factory

// TransitionError is the panic value for a transition the state machine
// does not allow. It always indicates a bug in the caller.
type TransitionError struct {
	ID   string
	From State
	Op   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("plugin %s: illegal %s in state %s", e.ID, e.Op, e.From)
}

// Spec describes one plugin. Metadata fields are immutable once the spec
// is handed to a Provider.
type Spec struct {
	ID                 string
	Name               string
	Version            string
	Description        string
	Interface          string
	License            string
	URL                string
	Authors            []string
	LoadType           LoadType
	EnabledByDefault   bool
	PluginDependencies []string
	BinaryDependencies []string

	// Path is where the manifest was found.
	Path     string
	Checksum string

	// transition serializes load and unload of this plugin.
	transition sync.Mutex

	mu       sync.RWMutex
	state    State
	reason   string
	instance Instance
}

// NewSpec builds a Ready spec from a manifest, or an Invalid one if the
// manifest fails validation.
func NewSpec(m Manifest) *Spec {
	s := &Spec{
		ID:                 m.ID,
		Name:               m.Name,
		Version:            m.Version,
		Description:        m.Description,
		Interface:          m.Interface,
		License:            m.License,
		URL:                m.URL,
		Authors:            m.Authors,
		EnabledByDefault:   m.EnabledByDefault,
		PluginDependencies: m.PluginDependencies,
		BinaryDependencies: m.BinaryDependencies,
		state:              StateReady,
	}
	lt, ok := parseLoadType(m.LoadType)
	s.LoadType = lt
	if err := validateManifest(&m); err != nil {
		s.state = StateInvalid
		s.reason = err.Error()
	} else if !ok {
		s.reason = fmt.Sprintf("unknown load_type %q, using user", m.LoadType)
	}
	return s
}

// State returns the current state.
func (s *Spec) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Reason returns the diagnostic of the last failure, if any.
func (s *Spec) Reason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// Instance returns the live instance. It is nil unless the plugin is loaded.
func (s *Spec) Instance() Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instance
}

func (s *Spec) set(state State, reason string, inst Instance) {
	s.mu.Lock()
	s.state = state
	s.reason = reason
	s.instance = inst
	s.mu.Unlock()
}
