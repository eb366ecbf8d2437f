package plugin

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifestYAML(id string, extra string) string {
	return "id: " + id + `
name: Test ` + id + `
version: "1.0"
interface: org.quern.plugininterface/1.0
` + extra
}

func writeManifest(t *testing.T, root, dir, content string) {
	t.Helper()
	pluginDir := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, manifestFilename), []byte(content), 0o644))
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name      string
		setupFn   func(t *testing.T) string
		wantCount int
		checkFn   func(t *testing.T, c *Catalog)
	}{
		{
			name: "valid plugin discovered",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writeManifest(t, dir, "files", manifestYAML("files", "load_type: user\nenabled_by_default: true\nbinary_dependencies: [find]\n"))
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, c *Catalog) {
				s, ok := c.Get("files")
				require.True(t, ok)
				assert.Equal(t, StateReady, s.State())
				assert.Equal(t, LoadUser, s.LoadType)
				assert.True(t, s.EnabledByDefault)
				assert.Equal(t, []string{"find"}, s.BinaryDependencies)
				assert.Len(t, s.Checksum, 64)
				assert.Empty(t, s.Reason())
			},
		},
		{
			name: "invalid metadata kept as invalid",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writeManifest(t, dir, "bad", `id: bad
name: Bad
version: "1.0.0"
interface: org.quern.plugininterface/1.0
`)
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, c *Catalog) {
				s, ok := c.Get("bad")
				require.True(t, ok)
				assert.Equal(t, StateInvalid, s.State())
				assert.Contains(t, s.Reason(), "invalid version")
			},
		},
		{
			name: "unparsable manifest skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writeManifest(t, dir, "broken", "id: [unterminated\n")
				writeManifest(t, dir, "noid", "name: x\n")
				return dir
			},
			wantCount: 0,
		},
		{
			name: "directory without manifest skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))
				return dir
			},
			wantCount: 0,
		},
		{
			name: "unknown load type falls back to user",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writeManifest(t, dir, "odd", manifestYAML("odd", "load_type: sometimes\n"))
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, c *Catalog) {
				s, _ := c.Get("odd")
				assert.Equal(t, LoadUser, s.LoadType)
				assert.Equal(t, StateReady, s.State())
				assert.Contains(t, s.Reason(), "unknown load_type")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog, err := Discover(tt.setupFn(t), nil)
			require.NoError(t, err)
			assert.Len(t, catalog.All(), tt.wantCount)
			if tt.checkFn != nil {
				tt.checkFn(t, catalog)
			}
		})
	}
}

func TestDiscoverManyDuplicateKeepsFirst(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeManifest(t, first, "web", manifestYAML("websearch", ""))
	writeManifest(t, second, "web", manifestYAML("websearch", "description: second\n"))
	writeManifest(t, second, "calc", manifestYAML("calc", ""))

	var warnings []string
	logger := func(level, msg string, args ...any) {
		if level == "warn" {
			warnings = append(warnings, msg)
		}
	}

	catalog, err := DiscoverMany([]string{first, second, first, filepath.Join(first, "missing")}, logger)
	require.NoError(t, err)

	all := catalog.All()
	require.Len(t, all, 2)
	assert.Equal(t, "websearch", all[0].ID)
	assert.Empty(t, all[0].Description)
	assert.Equal(t, filepath.Join(first, "web"), all[0].Path)
	assert.Contains(t, warnings, "duplicate plugin ignored (keeping first discovered)")
	assert.Contains(t, warnings, "plugin root does not exist")
}

func TestDiscoverFS(t *testing.T) {
	fsys := fstest.MapFS{
		"core/manifest.yaml": {Data: []byte(manifestYAML("core", "enabled_by_default: true\n"))},
		"tui/manifest.yaml":  {Data: []byte(manifestYAML("tui", "load_type: frontend\n"))},
		"notes/readme.txt":   {Data: []byte("not a manifest")},
	}
	catalog := NewCatalog()
	require.NoError(t, DiscoverFS(catalog, fsys, "builtin", nil))

	all := catalog.All()
	require.Len(t, all, 2)
	assert.Equal(t, "core", all[0].ID)
	tui, ok := catalog.Get("tui")
	require.True(t, ok)
	assert.Equal(t, LoadFrontend, tui.LoadType)
	assert.Equal(t, filepath.Join("builtin", "tui"), tui.Path)
}

func TestValidateManifest(t *testing.T) {
	valid := Manifest{ID: "ok_1", Name: "OK", Version: "2.13", Interface: "org.quern.plugininterface/1.0"}
	require.NoError(t, validateManifest(&valid))

	tests := []struct {
		name   string
		mutate func(m *Manifest)
		want   string
	}{
		{"uppercase id", func(m *Manifest) { m.ID = "Bad" }, "invalid id"},
		{"dash in id", func(m *Manifest) { m.ID = "a-b" }, "invalid id"},
		{"three part version", func(m *Manifest) { m.Version = "1.0.0" }, "invalid version"},
		{"empty name", func(m *Manifest) { m.Name = "  " }, "name is required"},
		{"foreign interface", func(m *Manifest) { m.Interface = "org.other/1.0" }, "invalid interface"},
		{"newer major", func(m *Manifest) { m.Interface = "org.quern.plugininterface/2.0" }, "incompatible"},
		{"newer minor", func(m *Manifest) { m.Interface = "org.quern.plugininterface/1.1" }, "incompatible"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			err := validateManifest(&m)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestChecksumStable(t *testing.T) {
	assert.Equal(t, Checksum([]byte("a")), Checksum([]byte("a")))
	assert.NotEqual(t, Checksum([]byte("a")), Checksum([]byte("b")))
}
