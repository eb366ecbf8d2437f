package config

import (
	"fmt"
	"net"
	"regexp"
	"slices"
	"sort"
)

var idPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, cfg.Service.LogLevel) {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "text" && cfg.Service.LogFormat != "json" {
		return fmt.Errorf("service.log_format must be text or json (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if err := checkUnresolved("state.path", cfg.State.Path); err != nil {
		return err
	}
	for i, dir := range cfg.PluginDirs {
		if dir == "" {
			return fmt.Errorf("plugin_dirs[%d] is empty", i)
		}
		if err := checkUnresolved(fmt.Sprintf("plugin_dirs[%d]", i), dir); err != nil {
			return err
		}
	}

	if cfg.Query.FetchSize <= 0 {
		return fmt.Errorf("query.fetch_size must be positive")
	}
	if cfg.Query.RealtimeInterval <= 0 {
		return fmt.Errorf("query.realtime_interval must be positive")
	}
	if cfg.Query.Workers < 0 {
		return fmt.Errorf("query.workers must not be negative")
	}

	if cfg.History.Retention <= 0 {
		return fmt.Errorf("history.retention must be positive")
	}
	if cfg.History.PruneInterval <= 0 {
		return fmt.Errorf("history.prune_interval must be positive")
	}
	if cfg.History.PruneJitter < 0 {
		return fmt.Errorf("history.prune_jitter must not be negative")
	}

	if cfg.Frontend != "" && !idPattern.MatchString(cfg.Frontend) {
		return fmt.Errorf("frontend %q is not a valid plugin id", cfg.Frontend)
	}
	if _, _, err := net.SplitHostPort(cfg.API.Listen); err != nil {
		return fmt.Errorf("api.listen %q: %w", cfg.API.Listen, err)
	}
	if err := checkUnresolved("api.token", cfg.API.Token); err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Plugins))
	for name := range cfg.Plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !idPattern.MatchString(name) {
			return fmt.Errorf("plugins: %q is not a valid plugin id", name)
		}
		if err := checkUnresolvedEnvVars(cfg.Plugins[name].Config, name); err != nil {
			return err
		}
	}
	return nil
}

func checkUnresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in config values.
func checkUnresolvedEnvVars(data map[string]any, pluginName string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if matches := envVarPattern.FindStringSubmatch(v); len(matches) > 1 {
				return fmt.Errorf("plugin %q: environment variable ${%s} is not set (config.%s)", pluginName, matches[1], key)
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, pluginName); err != nil {
				return err
			}
		case []any:
			for _, elem := range v {
				if s, ok := elem.(string); ok {
					if matches := envVarPattern.FindStringSubmatch(s); len(matches) > 1 {
						return fmt.Errorf("plugin %q: environment variable ${%s} is not set (config.%s)", pluginName, matches[1], key)
					}
				}
			}
		}
	}
	return nil
}
