package builtin

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/item"
	"github.com/mattjoyce/quern/internal/plugin"
	"github.com/mattjoyce/quern/internal/query"
)

const (
	defaultSearchURL     = "https://duckduckgo.com/?q=%s"
	defaultSearchName    = "DuckDuckGo"
	defaultSearchTrigger = "ddg "
)

// webSearch opens a search engine for "ddg <terms>" queries and offers the
// same search as fallback for queries nothing matched.
type webSearch struct {
	id       string
	name     string
	template string
	trigger  string
}

func (s *Set) newWebSearch(spec *plugin.Spec) (plugin.Instance, error) {
	cfg := s.deps.Config.PluginConfig(spec.ID)
	w := &webSearch{
		id:       spec.ID,
		name:     stringValue(cfg, "name", defaultSearchName),
		template: stringValue(cfg, "url", defaultSearchURL),
		trigger:  stringValue(cfg, "trigger", defaultSearchTrigger),
	}
	if !strings.Contains(w.template, "%s") {
		return nil, fmt.Errorf("url %q has no %%s placeholder", w.template)
	}
	return w, nil
}

func (w *webSearch) ID() string                             { return w.id }
func (w *webSearch) Triggers() []string                     { return []string{w.trigger} }
func (w *webSearch) ExecutionType() extension.ExecutionType { return extension.Batch }
func (w *webSearch) SetupSession()                          {}
func (w *webSearch) TeardownSession()                       {}

func (w *webSearch) HandleQuery(_ context.Context, q *query.Query) {
	if !q.IsTriggered() || strings.TrimSpace(q.String()) == "" {
		return
	}
	q.AddMatches(w.item(q.String()))
}

func (w *webSearch) Fallbacks(input string) []item.Item {
	return []item.Item{w.item(input)}
}

func (w *webSearch) item(terms string) item.Item {
	terms = strings.TrimSpace(terms)
	it := item.NewStandard(w.id+".search", "",
		fmt.Sprintf("Search '%s'", terms), w.name,
		item.NewOpenURLAction("Open in browser", w.url(terms)))
	it.Complete = w.trigger + terms
	return it
}

func (w *webSearch) url(terms string) string {
	return strings.ReplaceAll(w.template, "%s", url.QueryEscape(terms))
}
