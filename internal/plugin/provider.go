package plugin

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"sync"

	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/log"
)

var (
	ErrPluginNotFound = errors.New("plugin not found")
	ErrNoFactory      = errors.New("no factory for plugin")
	ErrInvalidPlugin  = errors.New("plugin is invalid")
	ErrLoadFailed     = errors.New("plugin load failed")
)

// Preferences persists user choices about plugins.
type Preferences interface {
	// PluginEnabled returns the stored preference, ok is false if none is stored.
	PluginEnabled(id string) (enabled bool, ok bool)
	SetPluginEnabled(id string, enabled bool) error
	Frontend() (id string, ok bool)
	SetFrontend(id string) error
}

// Provider owns a set of plugin specs and drives them through their
// lifecycle, publishing loaded instances to the extension registry.
//
// Transitions of one plugin are serialized; different plugins may load
// concurrently.
type Provider struct {
	id        string
	registry  *extension.Registry
	factories Factories
	prefs     Preferences
	logger    *slog.Logger

	mu        sync.RWMutex
	specs     []*Spec
	byID      map[string]*Spec
	loadOrder []string

	obsMu     sync.Mutex
	observers []func(*Spec)
}

var _ extension.PluginProvider = (*Provider)(nil)

// NewProvider creates a provider. prefs may be nil, in which case
// enablement falls back to each plugin's default and nothing is persisted.
func NewProvider(id string, registry *extension.Registry, factories Factories, prefs Preferences) *Provider {
	return &Provider{
		id:        id,
		registry:  registry,
		factories: factories,
		prefs:     prefs,
		logger:    log.WithComponent("plugin").With("provider", id),
		byID:      make(map[string]*Spec),
	}
}

// ID returns the provider id.
func (p *Provider) ID() string { return p.id }

// Add takes ownership of specs. A spec whose id is already owned is
// skipped with a warning. It returns the number of specs added.
func (p *Provider) Add(specs ...*Spec) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := 0
	for _, s := range specs {
		if existing, ok := p.byID[s.ID]; ok {
			p.logger.Warn("duplicate plugin ignored (keeping first)",
				"plugin", s.ID, "ignored_path", s.Path, "kept_path", existing.Path)
			continue
		}
		p.byID[s.ID] = s
		p.specs = append(p.specs, s)
		added++
	}
	return added
}

// OnStateChanged registers fn to be called after every transition.
func (p *Provider) OnStateChanged(fn func(*Spec)) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.observers = append(p.observers, fn)
}

func (p *Provider) transition(s *Spec, state State, reason string, inst Instance) {
	s.set(state, reason, inst)

	p.obsMu.Lock()
	observers := slices.Clone(p.observers)
	p.obsMu.Unlock()
	for _, fn := range observers {
		fn(s)
	}
}

// Plugins returns the owned specs in the order they were added.
func (p *Provider) Plugins() []*Spec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.specs)
}

// Get returns the spec with the given id.
func (p *Provider) Get(id string) (*Spec, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.byID[id]
	return s, ok
}

func (p *Provider) mustGet(id string) (*Spec, error) {
	s, ok := p.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return s, nil
}

// Load instantiates the plugin and registers its instance. Failures are
// recorded on the spec (state Error) and returned wrapped in ErrLoadFailed.
// Loading a plugin that is loading or loaded panics with *TransitionError.
func (p *Provider) Load(id string) error {
	s, err := p.mustGet(id)
	if err != nil {
		return err
	}

	s.transition.Lock()
	defer s.transition.Unlock()
	return p.loadLocked(s)
}

func (p *Provider) loadLocked(s *Spec) error {
	id := s.ID
	switch from := s.State(); from {
	case StateReady, StateError:
	case StateInvalid:
		return fmt.Errorf("%w: %s: %s", ErrInvalidPlugin, id, s.Reason())
	default:
		panic(&TransitionError{ID: id, From: from, Op: "load"})
	}

	logger := p.logger.With("plugin", id)
	p.transition(s, StateLoading, s.Reason(), nil)

	inst, err := p.instantiate(s)
	if err == nil {
		if regErr := p.registry.Register(inst); regErr != nil {
			release(logger, inst)
			err = regErr
		}
	}
	if err != nil {
		p.transition(s, StateError, err.Error(), nil)
		logger.Warn("plugin load failed", "reason", err.Error())
		return fmt.Errorf("%w: %s: %w", ErrLoadFailed, id, err)
	}

	p.transition(s, StateLoaded, "", inst)

	p.mu.Lock()
	p.loadOrder = slices.DeleteFunc(p.loadOrder, func(v string) bool { return v == id })
	p.loadOrder = append(p.loadOrder, id)
	p.mu.Unlock()

	logger.Info("plugin loaded", "version", s.Version)
	return nil
}

// instantiate runs the factory. A panicking factory counts as a failure.
func (p *Provider) instantiate(s *Spec) (inst Instance, err error) {
	for _, bin := range s.BinaryDependencies {
		if _, lookErr := exec.LookPath(bin); lookErr != nil {
			return nil, fmt.Errorf("missing binary dependency %q", bin)
		}
	}
	for _, dep := range s.PluginDependencies {
		if d, ok := p.Get(dep); !ok || d.State() != StateLoaded {
			return nil, fmt.Errorf("plugin dependency %q is not loaded", dep)
		}
	}

	factory, ok := p.factories[s.ID]
	if !ok {
		return nil, ErrNoFactory
	}

	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()

	inst, err = factory(s)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("factory returned no instance")
	}
	if inst.ID() != s.ID {
		release(p.logger, inst)
		return nil, fmt.Errorf("instance id %q does not match plugin id", inst.ID())
	}
	return inst, nil
}

func release(logger *slog.Logger, inst Instance) {
	c, ok := inst.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("plugin instance close failed", "error", err)
	}
}

// Unload unregisters and releases the instance. Unloading a plugin that
// is not loaded panics with *TransitionError.
func (p *Provider) Unload(id string) error {
	s, err := p.mustGet(id)
	if err != nil {
		return err
	}

	s.transition.Lock()
	defer s.transition.Unlock()
	return p.unloadLocked(s)
}

func (p *Provider) unloadLocked(s *Spec) error {
	id := s.ID
	if from := s.State(); from != StateLoaded {
		panic(&TransitionError{ID: id, From: from, Op: "unload"})
	}

	inst := s.Instance()
	p.registry.Unregister(inst)
	release(p.logger.With("plugin", id), inst)
	p.transition(s, StateReady, "", nil)

	p.mu.Lock()
	p.loadOrder = slices.DeleteFunc(p.loadOrder, func(v string) bool { return v == id })
	p.mu.Unlock()

	p.logger.Info("plugin unloaded", "plugin", id)
	return nil
}

// IsEnabled returns the persisted preference, or the plugin default.
func (p *Provider) IsEnabled(id string) bool {
	s, ok := p.Get(id)
	if !ok {
		return false
	}
	if p.prefs != nil {
		if enabled, ok := p.prefs.PluginEnabled(id); ok {
			return enabled
		}
	}
	return s.EnabledByDefault
}

// SetEnabled persists the preference and loads or unloads the plugin to
// match it. A failed load is reported but the preference stays stored.
func (p *Provider) SetEnabled(id string, enabled bool) error {
	s, err := p.mustGet(id)
	if err != nil {
		return err
	}
	if s.State() == StateInvalid {
		return fmt.Errorf("%w: %s: %s", ErrInvalidPlugin, id, s.Reason())
	}
	if p.prefs != nil {
		if err := p.prefs.SetPluginEnabled(id, enabled); err != nil {
			return fmt.Errorf("persist enablement for %s: %w", id, err)
		}
	}

	s.transition.Lock()
	defer s.transition.Unlock()
	switch state := s.State(); {
	case enabled && (state == StateReady || state == StateError):
		return p.loadLocked(s)
	case !enabled && state == StateLoaded:
		return p.unloadLocked(s)
	}
	return nil
}

// ReloadEnabledPlugins brings every user plugin to a clean state and then
// loads the enabled ones. Frontend and on demand plugins are left alone.
func (p *Provider) ReloadEnabledPlugins() {
	for _, s := range p.Plugins() {
		if s.LoadType != LoadUser || s.State() == StateInvalid {
			continue
		}
		s.transition.Lock()
		if s.State() == StateLoaded {
			_ = p.unloadLocked(s)
		}
		if p.IsEnabled(s.ID) {
			// Failures are recorded on the spec and logged.
			_ = p.loadLocked(s)
		}
		s.transition.Unlock()
	}
}

// Shutdown unloads loaded plugins in reverse load order. Plugins that are
// not loaded are skipped.
func (p *Provider) Shutdown() {
	p.mu.RLock()
	order := slices.Clone(p.loadOrder)
	p.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		s, ok := p.Get(order[i])
		if !ok {
			continue
		}
		s.transition.Lock()
		if s.State() == StateLoaded {
			_ = p.unloadLocked(s)
		}
		s.transition.Unlock()
	}
}

// Info describes s for frontends.
func (p *Provider) Info(s *Spec) extension.PluginInfo {
	return extension.PluginInfo{
		ID:       s.ID,
		Name:     s.Name,
		Version:  s.Version,
		LoadType: s.LoadType.String(),
		State:    s.State().String(),
		Reason:   s.Reason(),
		Enabled:  p.IsEnabled(s.ID),
		Checksum: s.Checksum,
	}
}

// Describe returns Info for every plugin.
func (p *Provider) Describe() []extension.PluginInfo {
	specs := p.Plugins()
	out := make([]extension.PluginInfo, 0, len(specs))
	for _, s := range specs {
		out = append(out, p.Info(s))
	}
	return out
}
