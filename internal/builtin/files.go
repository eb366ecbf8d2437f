package builtin

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/item"
	"github.com/mattjoyce/quern/internal/plugin"
	"github.com/mattjoyce/quern/internal/query"
)

const (
	defaultFilesTrigger    = "f "
	defaultFilesMaxDepth   = 6
	defaultFilesMaxResults = 200
)

// files walks the configured roots for names containing the query. It is
// realtime: matches appear while the walk runs.
type files struct {
	id         string
	roots      []string
	trigger    string
	maxDepth   int
	maxResults int
	hidden     bool
}

func (s *Set) newFiles(spec *plugin.Spec) (plugin.Instance, error) {
	cfg := s.deps.Config.PluginConfig(spec.ID)
	var home []string
	if dir, err := os.UserHomeDir(); err == nil {
		home = []string{dir}
	}
	f := &files{
		id:         spec.ID,
		roots:      stringList(cfg, "roots", home),
		trigger:    stringValue(cfg, "trigger", defaultFilesTrigger),
		maxDepth:   intValue(cfg, "max_depth", defaultFilesMaxDepth),
		maxResults: intValue(cfg, "max_results", defaultFilesMaxResults),
	}
	f.hidden, _ = cfg["hidden"].(bool)
	return f, nil
}

func (f *files) ID() string                             { return f.id }
func (f *files) Triggers() []string                     { return []string{f.trigger} }
func (f *files) ExecutionType() extension.ExecutionType { return extension.Realtime }
func (f *files) SetupSession()                          {}
func (f *files) TeardownSession()                       {}

func (f *files) HandleQuery(ctx context.Context, q *query.Query) {
	term := strings.ToLower(strings.TrimSpace(q.String()))
	if term == "" {
		return
	}
	found := 0
	for _, root := range f.roots {
		if found >= f.maxResults {
			return
		}
		rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil || !q.IsValid() {
				return filepath.SkipAll
			}
			if err != nil {
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if path != root {
				if !f.hidden && strings.HasPrefix(d.Name(), ".") {
					if d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				if d.IsDir() && strings.Count(path, string(filepath.Separator))-rootDepth >= f.maxDepth {
					return filepath.SkipDir
				}
			}
			if path == root || !strings.Contains(strings.ToLower(d.Name()), term) {
				return nil
			}
			q.AddMatches(f.item(path, d.Name()))
			found++
			if found >= f.maxResults {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

func (f *files) item(path, name string) item.Item {
	it := item.NewStandard("files:"+path, "", name, path,
		item.NewOpenURLAction("Open", path),
		item.NewOpenURLAction("Open containing folder", filepath.Dir(path)))
	it.Complete = f.trigger + name
	return it
}
