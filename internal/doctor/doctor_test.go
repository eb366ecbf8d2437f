package doctor

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/quern/internal/config"
	"github.com/mattjoyce/quern/internal/plugin"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.PluginDirs = []string{t.TempDir()}
	cfg.Frontend = "tui"
	return cfg
}

func spec(id, loadType string, binaries ...string) *plugin.Spec {
	return plugin.NewSpec(plugin.Manifest{
		ID:                 id,
		Name:               strings.ToUpper(id),
		Version:            "1.0",
		Interface:          plugin.InterfaceName + "/1.0",
		LoadType:           loadType,
		BinaryDependencies: binaries,
	})
}

func defaultSpecs() []*plugin.Spec {
	return []*plugin.Spec{spec("core", "user"), spec("tui", "frontend"), spec("api", "frontend")}
}

func newDoctor(cfg *config.Config, specs []*plugin.Spec) *Doctor {
	d := New(cfg, specs)
	d.lookPath = func(bin string) (string, error) {
		if bin == "present" {
			return "/usr/bin/present", nil
		}
		return "", errors.New("not found")
	}
	d.local = func(path, what string) error {
		if strings.HasPrefix(path, "/mnt/nfs/") {
			return fmt.Errorf("%s %q is on a network filesystem", what, path)
		}
		return nil
	}
	return d
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig(t), defaultSpecs()).Validate()
	if !r.Valid || len(r.Warnings) != 0 {
		t.Fatalf("expected clean result, got errors=%v warnings=%v", r.Errors, r.Warnings)
	}
}

func TestValidate_NetworkStatePath(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.State.Path = "/mnt/nfs/quern/core.db"
	r := newDoctor(cfg, defaultSpecs()).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "state", "network filesystem")
}

func TestValidate_EnabledPluginNotDiscovered(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	on := true
	cfg.Plugins["calc"] = config.PluginConf{Enabled: &on}
	cfg.Plugins["notes"] = config.PluginConf{}
	r := newDoctor(cfg, defaultSpecs()).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "plugin_refs", "calc")
	assertHasWarning(t, r, "plugin_refs", "notes")
}

func TestValidate_EnabledOnFrontendHasNoEffect(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	off := false
	cfg.Plugins["api"] = config.PluginConf{Enabled: &off}
	r := newDoctor(cfg, defaultSpecs()).Validate()
	assertHasWarning(t, r, "plugin_refs", "no effect")
}

func TestValidate_Frontend(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Frontend = "core"
	r := newDoctor(cfg, defaultSpecs()).Validate()
	assertHasError(t, r, "frontend", "not a frontend")

	cfg.Frontend = "gtk"
	r = newDoctor(cfg, defaultSpecs()).Validate()
	assertHasError(t, r, "frontend", "not discovered")

	cfg.Frontend = ""
	r = newDoctor(cfg, []*plugin.Spec{spec("core", "user")}).Validate()
	assertHasError(t, r, "frontend", "no valid frontend")
}

func TestValidate_InvalidManifestIsWarning(t *testing.T) {
	t.Parallel()
	bad := plugin.NewSpec(plugin.Manifest{ID: "bad", Name: "Bad", Version: "one", Interface: plugin.InterfaceName + "/1.0"})
	bad.Path = "/plugins/bad"
	odd := spec("odd", "sometimes")
	r := newDoctor(validConfig(t), append(defaultSpecs(), bad, odd)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "manifest", "invalid version")
	assertHasWarning(t, r, "manifest", "unknown load_type")
}

func TestValidate_Dependencies(t *testing.T) {
	t.Parallel()
	withDeps := spec("files", "user", "present", "missing")
	withDeps.PluginDependencies = []string{"core", "ghost"}
	r := newDoctor(validConfig(t), append(defaultSpecs(), withDeps)).Validate()
	assertHasWarning(t, r, "dependencies", `"missing"`)
	assertHasWarning(t, r, "dependencies", `"ghost"`)
	for _, w := range r.Warnings {
		if strings.Contains(w.Message, `"present"`) || strings.Contains(w.Message, `"core"`) {
			t.Fatalf("unexpected warning: %v", w)
		}
	}
}

func TestValidate_MissingPluginDir(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.PluginDirs = append(cfg.PluginDirs, "/does/not/exist")
	r := newDoctor(cfg, defaultSpecs()).Validate()
	assertHasWarning(t, r, "plugin_dirs", "/does/not/exist")
}

func TestValidate_OpenAPI(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Listen = "0.0.0.0:7373"
	r := newDoctor(cfg, defaultSpecs()).Validate()
	assertHasWarning(t, r, "api", "without a token")

	cfg.API.Token = "secret"
	r = newDoctor(cfg, defaultSpecs()).Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings with a token, got: %v", r.Warnings)
	}

	cfg.API.Token = ""
	cfg.API.Listen = "localhost:7373"
	r = newDoctor(cfg, defaultSpecs()).Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings on loopback, got: %v", r.Warnings)
	}
}

func TestValidate_Retention(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.History.Retention = 10 * time.Minute
	r := newDoctor(cfg, defaultSpecs()).Validate()
	assertHasWarning(t, r, "history", "shorter than prune_interval")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true}
	out := FormatHuman(r)
	if !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "odd"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR [test] x.y: broken") || !strings.Contains(out, "WARN  [test] odd") {
		t.Fatalf("expected error and warning in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
