package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DBPathEnv overrides state.path when set.
const DBPathEnv = "QUERN_DB"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, merges its includes,
// applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourceFiles = []string{absPath}

	if len(cfg.Include) > 0 {
		visited := map[string]bool{absPath: true}
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	return finish(cfg)
}

// LoadDefaults returns the defaults with environment overrides applied, for
// running without a config file.
func LoadDefaults() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	cfg = applyConfigDefaults(cfg)
	if p := os.Getenv(DBPathEnv); p != "" {
		cfg.State.Path = p
	}
	cfg.State.Path = ExpandHome(cfg.State.Path)
	for i, dir := range cfg.PluginDirs {
		cfg.PluginDirs[i] = ExpandHome(dir)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = ExpandHome(interpolateEnv(includePath))
		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}

		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		mergeConfig(cfg, included)
		cfg.SourceFiles = append(cfg.SourceFiles, absPath)

		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfigFile parses a single config file without applying defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// mergeConfig merges src into dst, with src taking precedence for non-zero
// values. Plugin directories accumulate.
func mergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}
	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}
	dst.PluginDirs = append(dst.PluginDirs, src.PluginDirs...)

	if src.Query.IncrementalSort {
		dst.Query.IncrementalSort = true
	}
	if src.Query.FetchSize != 0 {
		dst.Query.FetchSize = src.Query.FetchSize
	}
	if src.Query.RealtimeInterval != 0 {
		dst.Query.RealtimeInterval = src.Query.RealtimeInterval
	}
	if src.Query.Workers != 0 {
		dst.Query.Workers = src.Query.Workers
	}

	if src.History.Retention != 0 {
		dst.History.Retention = src.History.Retention
	}
	if src.History.PruneInterval != 0 {
		dst.History.PruneInterval = src.History.PruneInterval
	}
	if src.History.PruneJitter != 0 {
		dst.History.PruneJitter = src.History.PruneJitter
	}

	if src.Frontend != "" {
		dst.Frontend = src.Frontend
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.Token != "" {
		dst.API.Token = src.API.Token
	}

	if len(src.Plugins) > 0 {
		if dst.Plugins == nil {
			dst.Plugins = make(map[string]PluginConf)
		}
		maps.Copy(dst.Plugins, src.Plugins)
	}
}

// applyConfigDefaults fills every unset field from Defaults().
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if len(cfg.PluginDirs) == 0 {
		cfg.PluginDirs = defaults.PluginDirs
	}

	if cfg.Query.FetchSize == 0 {
		cfg.Query.FetchSize = defaults.Query.FetchSize
	}
	if cfg.Query.RealtimeInterval == 0 {
		cfg.Query.RealtimeInterval = defaults.Query.RealtimeInterval
	}

	if cfg.History.Retention == 0 {
		cfg.History.Retention = defaults.History.Retention
	}
	if cfg.History.PruneInterval == 0 {
		cfg.History.PruneInterval = defaults.History.PruneInterval
	}
	if cfg.History.PruneJitter == 0 {
		cfg.History.PruneJitter = defaults.History.PruneJitter
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Plugins == nil {
		cfg.Plugins = make(map[string]PluginConf)
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
