package builtin

import (
	"context"

	"github.com/sahilm/fuzzy"

	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/item"
	"github.com/mattjoyce/quern/internal/plugin"
	"github.com/mattjoyce/quern/internal/query"
)

// core offers the launcher's own commands, fuzzy matched by title.
type core struct {
	id     string
	items  []item.Item
	titles []string
}

func (s *Set) newCore(spec *plugin.Spec) (plugin.Instance, error) {
	c := &core{id: spec.ID}
	c.add("quit", "Quit", "Quit quern", s.deps.Controls.Quit)
	c.add("plugins", "Plugins", "Enable or disable plugins", s.showPlugins)
	c.add("reload", "Reload plugins", "Reload enabled plugins", s.deps.Controls.ReloadPlugins)
	return c, nil
}

func (c *core) add(name, title, subtext string, fn func()) {
	c.items = append(c.items, item.NewStandard(c.id+"."+name, "", title, subtext,
		item.NewFuncAction(title, fn)))
	c.titles = append(c.titles, title)
}

func (c *core) ID() string                             { return c.id }
func (c *core) Triggers() []string                     { return nil }
func (c *core) ExecutionType() extension.ExecutionType { return extension.Batch }
func (c *core) SetupSession()                          {}
func (c *core) TeardownSession()                       {}

func (c *core) HandleQuery(_ context.Context, q *query.Query) {
	if q.String() == "" {
		return
	}
	for _, m := range fuzzy.Find(q.String(), c.titles) {
		q.AddMatch(c.items[m.Index], uint32(max(m.Score, 0)))
	}
}
