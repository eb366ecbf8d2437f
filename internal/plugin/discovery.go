package plugin

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const manifestFilename = "manifest.yaml"

// Catalog holds discovered plugin specs in discovery order.
type Catalog struct {
	specs []*Spec
	byID  map[string]*Spec
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byID: make(map[string]*Spec)}
}

// Get retrieves a spec by id.
func (c *Catalog) Get(id string) (*Spec, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// All returns the specs in discovery order.
func (c *Catalog) All() []*Spec {
	out := make([]*Spec, len(c.specs))
	copy(out, c.specs)
	return out
}

// Add appends a spec. Ids must be unique.
func (c *Catalog) Add(s *Spec) error {
	if _, exists := c.byID[s.ID]; exists {
		return fmt.Errorf("plugin %q already registered", s.ID)
	}
	c.byID[s.ID] = s
	c.specs = append(c.specs, s)
	return nil
}

// Discover scans a single plugins directory for manifest.yaml files.
func Discover(pluginsDir string, logger func(level, msg string, args ...any)) (*Catalog, error) {
	return DiscoverMany([]string{pluginsDir}, logger)
}

// DiscoverMany scans multiple plugin roots for manifest.yaml files.
// Roots are processed in input order; duplicate plugin ids keep the first
// discovered plugin. Missing roots are skipped with a warning.
func DiscoverMany(pluginRoots []string, logger func(level, msg string, args ...any)) (*Catalog, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}

	catalog := NewCatalog()
	seenRoots := make(map[string]struct{}, len(pluginRoots))
	for _, root := range pluginRoots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve plugin root %q: %w", root, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				logger("warn", "plugin root does not exist", "root", absRoot)
				continue
			}
			return nil, fmt.Errorf("failed to stat plugin root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("plugin root is not a directory: %s", absRoot)
		}
		if _, ok := seenRoots[absRoot]; ok {
			continue
		}
		seenRoots[absRoot] = struct{}{}

		if err := discoverInto(catalog, os.DirFS(absRoot), absRoot, logger); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// DiscoverFS adds the manifests found in fsys to catalog. label names the
// source in logs and Spec.Path.
func DiscoverFS(catalog *Catalog, fsys fs.FS, label string, logger func(level, msg string, args ...any)) error {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}
	return discoverInto(catalog, fsys, label, logger)
}

func discoverInto(catalog *Catalog, fsys fs.FS, label string, logger func(level, msg string, args ...any)) error {
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != manifestFilename {
			return nil
		}

		pluginPath := filepath.Join(label, filepath.FromSlash(path.Dir(p)))
		spec, err := loadSpec(fsys, p, pluginPath)
		if err != nil {
			logger("warn", "failed to load plugin manifest", "path", pluginPath, "error", err.Error())
			return nil
		}

		if err := catalog.Add(spec); err != nil {
			if existing, ok := catalog.Get(spec.ID); ok {
				logger(
					"warn",
					"duplicate plugin ignored (keeping first discovered)",
					"plugin", spec.ID,
					"ignored_path", spec.Path,
					"kept_path", existing.Path,
				)
			}
			return nil
		}

		switch {
		case spec.State() == StateInvalid:
			logger("warn", "invalid plugin", "plugin", spec.ID, "path", spec.Path, "reason", spec.Reason())
		case spec.Reason() != "":
			logger("warn", "plugin metadata warning", "plugin", spec.ID, "reason", spec.Reason())
			logger("info", "discovered plugin", "plugin", spec.ID, "path", spec.Path, "version", spec.Version)
		default:
			logger("info", "discovered plugin", "plugin", spec.ID, "path", spec.Path, "version", spec.Version)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan plugin root %s: %w", label, err)
	}
	return nil
}

// loadSpec reads one manifest. Only unreadable or unparsable manifests are
// errors; metadata rule violations produce an Invalid spec.
func loadSpec(fsys fs.FS, manifestPath, pluginPath string) (*Spec, error) {
	data, err := fs.ReadFile(fsys, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if strings.TrimSpace(manifest.ID) == "" {
		return nil, fmt.Errorf("id is required")
	}

	spec := NewSpec(manifest)
	spec.Path = pluginPath
	spec.Checksum = Checksum(data)
	return spec, nil
}
