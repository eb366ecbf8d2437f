package config

import "time"

// Config represents the complete quern configuration.
type Config struct {
	Service    ServiceConfig         `yaml:"service"`
	State      StateConfig           `yaml:"state"`
	PluginDirs []string              `yaml:"plugin_dirs"`
	Query      QueryConfig           `yaml:"query"`
	History    HistoryConfig         `yaml:"history"`
	Frontend   string                `yaml:"frontend,omitempty"`
	API        APIConfig             `yaml:"api"`
	Plugins    map[string]PluginConf `yaml:"plugins,omitempty"`
	Include    []string              `yaml:"include,omitempty"`

	// SourceFiles lists the files the config was read from, root first.
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines where the usage database lives.
type StateConfig struct {
	Path string `yaml:"path"`
}

// QueryConfig tunes query executions.
type QueryConfig struct {
	IncrementalSort  bool          `yaml:"incremental_sort"`
	FetchSize        int           `yaml:"fetch_size"`
	RealtimeInterval time.Duration `yaml:"realtime_interval"`
	// Workers bounds concurrently running handlers; 0 means one per CPU.
	Workers int `yaml:"workers"`
}

// HistoryConfig controls retention of query records.
type HistoryConfig struct {
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
	PruneJitter   time.Duration `yaml:"prune_jitter,omitempty"`
}

// APIConfig defines the HTTP frontend listener.
type APIConfig struct {
	Listen string `yaml:"listen"`
	// Token, when set, is required as a bearer token on every route
	// except /healthz.
	Token string `yaml:"token,omitempty"`
}

// PluginConf defines configuration for a single plugin.
type PluginConf struct {
	// Enabled overrides the manifest default until the user toggles the plugin.
	Enabled *bool          `yaml:"enabled,omitempty"`
	Config  map[string]any `yaml:"config,omitempty"`
}

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "quern",
			LogLevel:  "info",
			LogFormat: "text",
		},
		State: StateConfig{
			Path: "~/.local/share/quern/core.db",
		},
		PluginDirs: []string{"~/.local/share/quern/plugins"},
		Query: QueryConfig{
			IncrementalSort:  false,
			FetchSize:        20,
			RealtimeInterval: 50 * time.Millisecond,
			Workers:          0,
		},
		History: HistoryConfig{
			Retention:     30 * 24 * time.Hour,
			PruneInterval: time.Hour,
			PruneJitter:   time.Minute,
		},
		API: APIConfig{
			Listen: "127.0.0.1:7373",
		},
		Plugins: make(map[string]PluginConf),
	}
}

// PluginConfig returns the config block of plugin id, or nil.
func (c *Config) PluginConfig(id string) map[string]any {
	if c == nil {
		return nil
	}
	return c.Plugins[id].Config
}
