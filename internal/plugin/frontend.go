package plugin

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mattjoyce/quern/internal/extension"
)

// ErrNoFrontend means no frontend plugin could be loaded.
var ErrNoFrontend = errors.New("no frontend available")

// SelectFrontend loads one frontend plugin and returns it.
//
// The configured id is tried first, then the persisted one. If neither
// loads, every frontend plugin is tried in id order and the first that
// loads is persisted as the new choice.
func (p *Provider) SelectFrontend(configured string) (extension.Frontend, error) {
	var preferred []string
	if id := strings.TrimSpace(configured); id != "" {
		preferred = append(preferred, id)
	}
	if p.prefs != nil {
		if id, ok := p.prefs.Frontend(); ok && id != "" && !slices.Contains(preferred, id) {
			preferred = append(preferred, id)
		}
	}

	for _, id := range preferred {
		f, err := p.tryFrontend(id)
		if err == nil {
			return f, nil
		}
		p.logger.Warn("frontend unavailable", "frontend", id, "error", err)
	}

	var candidates []*Spec
	for _, s := range p.Plugins() {
		if s.LoadType == LoadFrontend && !slices.Contains(preferred, s.ID) {
			candidates = append(candidates, s)
		}
	}
	slices.SortFunc(candidates, func(a, b *Spec) int { return strings.Compare(a.ID, b.ID) })

	for _, s := range candidates {
		f, err := p.tryFrontend(s.ID)
		if err != nil {
			p.logger.Warn("frontend unavailable", "frontend", s.ID, "error", err)
			continue
		}
		if p.prefs != nil {
			if err := p.prefs.SetFrontend(s.ID); err != nil {
				p.logger.Warn("failed to persist frontend", "frontend", s.ID, "error", err)
			}
		}
		return f, nil
	}
	return nil, ErrNoFrontend
}

func (p *Provider) tryFrontend(id string) (extension.Frontend, error) {
	s, err := p.mustGet(id)
	if err != nil {
		return nil, err
	}
	if s.LoadType != LoadFrontend {
		return nil, fmt.Errorf("plugin %s is not a frontend", id)
	}

	s.transition.Lock()
	defer s.transition.Unlock()
	if s.State() != StateLoaded {
		if err := p.loadLocked(s); err != nil {
			return nil, err
		}
	}
	f, ok := s.Instance().(extension.Frontend)
	if !ok {
		_ = p.unloadLocked(s)
		return nil, fmt.Errorf("plugin %s does not implement a frontend", id)
	}
	return f, nil
}
