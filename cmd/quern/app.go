package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/quern/internal/builtin"
	"github.com/mattjoyce/quern/internal/config"
	"github.com/mattjoyce/quern/internal/dispatch"
	"github.com/mattjoyce/quern/internal/engine"
	"github.com/mattjoyce/quern/internal/events"
	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/history"
	"github.com/mattjoyce/quern/internal/log"
	"github.com/mattjoyce/quern/internal/plugin"
	"github.com/mattjoyce/quern/internal/score"
	"github.com/mattjoyce/quern/internal/state"
	"github.com/mattjoyce/quern/internal/storage"
)

// providerID names the plugin provider owning built-in and discovered plugins.
const providerID = "native"

// app is the wired process: storage, registry, dispatcher and plugins.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	history  *history.Store
	settings *state.Settings
	hub      *events.Hub
	registry *extension.Registry
	scores   *score.Model
	session  *dispatch.Dispatcher
	provider *plugin.Provider

	unsubscribe func()
}

// loadConfig loads path, or the discovered config, or the defaults when no
// config file exists. It returns the path actually used.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			cfg, derr := config.LoadDefaults()
			return cfg, "", derr
		}
		path = discovered
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

func discoveryLogger(logger *slog.Logger) func(level, msg string, args ...any) {
	return func(level, msg string, args ...any) {
		switch level {
		case "debug":
			logger.Debug(msg, args...)
		case "info":
			logger.Info(msg, args...)
		case "warn":
			logger.Warn(msg, args...)
		case "error":
			logger.Error(msg, args...)
		}
	}
}

// newApp opens the database and wires every component. Plugins are
// discovered and handed to the provider but not loaded.
func newApp(ctx context.Context, cfg *config.Config, controls builtin.Controls) (*app, error) {
	logger := log.WithComponent("main")

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.State.Path, err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		history:  history.New(db),
		settings: state.NewSettings(state.NewStore(db)),
		hub:      events.NewHub(256),
		registry: extension.NewRegistry(),
		scores:   score.NewModel(),
	}

	a.unsubscribe = a.registry.Subscribe(func(c extension.Change) {
		a.hub.Publish(events.ExtensionChange{
			ID:         c.Extension.ID(),
			Registered: c.Kind == extension.Registered,
		})
	})

	if err := a.scores.Recompute(ctx, a.history); err != nil {
		logger.Warn("failed to compute usage scores", "error", err)
	}

	incremental := cfg.Query.IncrementalSort
	if v, ok := a.settings.IncrementalSort(); ok {
		incremental = v
	}
	a.session = dispatch.New(a.registry, a.scores, a.history, a.hub, engine.Options{
		FetchIncrementally: incremental,
		FetchSize:          cfg.Query.FetchSize,
		RealtimeInterval:   cfg.Query.RealtimeInterval,
		Pool:               engine.NewPool(cfg.Query.Workers),
	})

	set := builtin.NewSet(builtin.Deps{
		Config:   cfg,
		Session:  a.session,
		Registry: a.registry,
		Hub:      a.hub,
		Sort:     a.settings,
		Controls: controls,
	})
	a.provider = plugin.NewProvider(providerID, a.registry, set.Factories(), a.settings)
	a.provider.OnStateChanged(func(s *plugin.Spec) {
		a.hub.Publish(events.PluginChange{
			ID:     s.ID,
			State:  s.State().String(),
			Reason: s.Reason(),
		})
	})

	if err := a.discover(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.registry.Register(a.provider); err != nil {
		a.Close()
		return nil, fmt.Errorf("register plugin provider: %w", err)
	}
	return a, nil
}

// discover adds built-in plugins, then the ones found in plugin_dirs.
// Config enablement replaces the manifest default.
func (a *app) discover() error {
	specs, err := discoverSpecs(a.cfg, discoveryLogger(a.logger))
	if err != nil {
		return err
	}
	added := a.provider.Add(specs...)
	a.logger.Info("plugin discovery complete", "count", added)
	return nil
}

// discoverSpecs returns the builtin specs followed by those found in the
// configured plugin directories. A config enabled flag replaces the
// manifest default.
func discoverSpecs(cfg *config.Config, logFn func(level, msg string, args ...any)) ([]*plugin.Spec, error) {
	catalog := plugin.NewCatalog()
	if err := builtin.Discover(catalog, logFn); err != nil {
		return nil, err
	}
	external, err := plugin.DiscoverMany(cfg.PluginDirs, logFn)
	if err != nil {
		return nil, fmt.Errorf("plugin discovery: %w", err)
	}

	specs := append(catalog.All(), external.All()...)
	for _, s := range specs {
		if pc, ok := cfg.Plugins[s.ID]; ok && pc.Enabled != nil {
			s.EnabledByDefault = *pc.Enabled
		}
	}
	return specs, nil
}

// Close unloads plugins and closes the database.
func (a *app) Close() {
	if a.provider != nil {
		a.provider.Shutdown()
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}
