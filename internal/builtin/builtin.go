// Package builtin ships the plugins compiled into quern: launcher commands,
// web search, file search and the two frontends.
package builtin

import (
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/mattjoyce/quern/internal/api"
	"github.com/mattjoyce/quern/internal/config"
	"github.com/mattjoyce/quern/internal/dispatch"
	"github.com/mattjoyce/quern/internal/events"
	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/plugin"
	"github.com/mattjoyce/quern/internal/tui"
)

// Label names the embedded manifests in logs and Spec.Path.
const Label = "builtin"

//go:embed manifests
var manifests embed.FS

// Discover adds the embedded manifests to catalog.
func Discover(catalog *plugin.Catalog, logger func(level, msg string, args ...any)) error {
	sub, err := fs.Sub(manifests, "manifests")
	if err != nil {
		return fmt.Errorf("open builtin manifests: %w", err)
	}
	return plugin.DiscoverFS(catalog, sub, Label, logger)
}

// Controls are process level actions offered by the core plugin.
type Controls struct {
	Quit          func()
	ReloadPlugins func()
}

// Deps are the services built-in plugins are wired to.
type Deps struct {
	Config   *config.Config
	Session  *dispatch.Dispatcher
	Registry *extension.Registry
	Hub      *events.Hub
	Sort     api.SortPreference
	Controls Controls
}

// Set builds the built-in plugin instances and remembers the live
// terminal frontend so launcher commands can drive it.
type Set struct {
	deps Deps

	mu       sync.Mutex
	terminal *tui.Frontend
}

// NewSet creates the factory set.
func NewSet(deps Deps) *Set {
	if deps.Config == nil {
		deps.Config = config.Defaults()
	}
	return &Set{deps: deps}
}

// Factories returns the factory of every built-in plugin.
func (s *Set) Factories() plugin.Factories {
	return plugin.Factories{
		"core":      s.newCore,
		"websearch": s.newWebSearch,
		"files":     s.newFiles,
		"tui":       s.newTUI,
		"api":       s.newAPI,
	}
}

func (s *Set) newTUI(spec *plugin.Spec) (plugin.Instance, error) {
	if s.deps.Session == nil {
		return nil, fmt.Errorf("no query session")
	}
	f := tui.New(spec.ID, s.deps.Session, s.deps.Registry)
	s.mu.Lock()
	s.terminal = f
	s.mu.Unlock()
	return f, nil
}

func (s *Set) newAPI(spec *plugin.Spec) (plugin.Instance, error) {
	if s.deps.Session == nil {
		return nil, fmt.Errorf("no query session")
	}
	cfg := s.deps.Config.API
	return api.New(spec.ID, api.Config{Listen: cfg.Listen, APIKey: cfg.Token}, api.Deps{
		Session:  s.deps.Session,
		Registry: s.deps.Registry,
		Hub:      s.deps.Hub,
		Sort:     s.deps.Sort,
	}), nil
}

// showPlugins opens the plugin view of the terminal frontend, if any.
func (s *Set) showPlugins() {
	s.mu.Lock()
	f := s.terminal
	s.mu.Unlock()
	if f != nil {
		f.ShowPlugins()
	}
}
