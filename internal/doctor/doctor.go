// Package doctor cross-checks quern configuration against the discovered
// plugins.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/mattjoyce/quern/internal/config"
	"github.com/mattjoyce/quern/internal/plugin"
	"github.com/mattjoyce/quern/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against discovered plugins.
type Doctor struct {
	cfg      *config.Config
	specs    map[string]*plugin.Spec
	ordered  []*plugin.Spec
	lookPath func(string) (string, error)
	local    func(path, what string) error
}

// New creates a Doctor from a loaded config and the discovered specs.
func New(cfg *config.Config, specs []*plugin.Spec) *Doctor {
	d := &Doctor{
		cfg:      cfg,
		specs:    make(map[string]*plugin.Spec, len(specs)),
		lookPath: exec.LookPath,
		local:    storage.RequireLocal,
	}
	for _, s := range specs {
		if _, dup := d.specs[s.ID]; dup {
			continue
		}
		d.specs[s.ID] = s
		d.ordered = append(d.ordered, s)
	}
	return d
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateStatePath(r)
	d.validatePluginRefs(r)
	d.validateFrontend(r)
	d.validateManifests(r)
	d.validateDependencies(r)
	d.warnMissingPluginDirs(r)
	d.warnOpenAPI(r)
	d.warnSuspiciousRetention(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateStatePath(r *Result) {
	if err := d.local(config.ExpandHome(d.cfg.State.Path), "state database"); err != nil {
		d.addError(r, "state", "state.path", err.Error())
	}
}

// validatePluginRefs checks that plugins in config are discoverable.
func (d *Doctor) validatePluginRefs(r *Result) {
	names := make([]string, 0, len(d.cfg.Plugins))
	for name := range d.cfg.Plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pc := d.cfg.Plugins[name]
		field := fmt.Sprintf("plugins.%s", name)
		s, ok := d.specs[name]
		switch {
		case !ok && pc.Enabled != nil && *pc.Enabled:
			d.addError(r, "plugin_refs", field,
				fmt.Sprintf("plugin %q is enabled in config but was not discovered", name))
		case !ok:
			d.addWarning(r, "plugin_refs", field,
				fmt.Sprintf("plugin %q in config but not discovered", name))
		case s.LoadType != plugin.LoadUser && pc.Enabled != nil:
			d.addWarning(r, "plugin_refs", field+".enabled",
				fmt.Sprintf("plugin %q is a %s plugin; enabled has no effect", name, s.LoadType))
		}
	}
}

// validateFrontend checks the configured frontend and that some frontend
// exists at all.
func (d *Doctor) validateFrontend(r *Result) {
	var frontends []string
	for _, s := range d.ordered {
		if s.LoadType == plugin.LoadFrontend && s.State() != plugin.StateInvalid {
			frontends = append(frontends, s.ID)
		}
	}
	if len(frontends) == 0 {
		d.addError(r, "frontend", "", "no valid frontend plugin was discovered")
	}

	id := d.cfg.Frontend
	if id == "" {
		return
	}
	s, ok := d.specs[id]
	switch {
	case !ok:
		d.addError(r, "frontend", "frontend", fmt.Sprintf("frontend %q was not discovered", id))
	case s.LoadType != plugin.LoadFrontend:
		d.addError(r, "frontend", "frontend", fmt.Sprintf("plugin %q is not a frontend (load_type %s)", id, s.LoadType))
	case s.State() == plugin.StateInvalid:
		d.addError(r, "frontend", "frontend", fmt.Sprintf("frontend %q is invalid: %s", id, s.Reason()))
	}
}

// validateManifests reports invalid metadata and metadata warnings.
func (d *Doctor) validateManifests(r *Result) {
	for _, s := range d.ordered {
		switch {
		case s.State() == plugin.StateInvalid:
			d.addWarning(r, "manifest", s.Path, fmt.Sprintf("plugin %q is invalid: %s", s.ID, s.Reason()))
		case s.Reason() != "":
			d.addWarning(r, "manifest", s.Path, fmt.Sprintf("plugin %q: %s", s.ID, s.Reason()))
		}
	}
}

// validateDependencies warns about dependencies that will fail a load.
func (d *Doctor) validateDependencies(r *Result) {
	for _, s := range d.ordered {
		if s.State() == plugin.StateInvalid {
			continue
		}
		for _, bin := range s.BinaryDependencies {
			if _, err := d.lookPath(bin); err != nil {
				d.addWarning(r, "dependencies", s.ID,
					fmt.Sprintf("plugin %q needs %q which is not in PATH", s.ID, bin))
			}
		}
		for _, dep := range s.PluginDependencies {
			if _, ok := d.specs[dep]; !ok {
				d.addWarning(r, "dependencies", s.ID,
					fmt.Sprintf("plugin %q depends on plugin %q which was not discovered", s.ID, dep))
			}
		}
	}
}

func (d *Doctor) warnMissingPluginDirs(r *Result) {
	for i, dir := range d.cfg.PluginDirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			d.addWarning(r, "plugin_dirs", fmt.Sprintf("plugin_dirs[%d]", i),
				fmt.Sprintf("%s does not exist or is not a directory", dir))
		}
	}
}

// warnOpenAPI flags an unauthenticated HTTP frontend on a non-loopback
// address.
func (d *Doctor) warnOpenAPI(r *Result) {
	if d.cfg.API.Token != "" {
		return
	}
	if _, ok := d.specs["api"]; !ok {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		return
	}
	if host == "localhost" || isLoopback(host) {
		return
	}
	d.addWarning(r, "api", "api.token",
		fmt.Sprintf("api listens on %s without a token", d.cfg.API.Listen))
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (d *Doctor) warnSuspiciousRetention(r *Result) {
	h := d.cfg.History
	if h.Retention > 0 && h.Retention < h.PruneInterval {
		d.addWarning(r, "history", "history.retention",
			fmt.Sprintf("retention %s is shorter than prune_interval %s", h.Retention, h.PruneInterval))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
