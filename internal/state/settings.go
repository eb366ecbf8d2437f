package state

import (
	"context"
	"log/slog"
	"time"

	"github.com/mattjoyce/quern/internal/log"
)

const (
	FrontendKey        = "frontend"
	IncrementalSortKey = "query.incremental_sort"
)

// PluginEnabledKey is the key holding the enablement of plugin id.
func PluginEnabledKey(id string) string {
	return "plugin." + id + ".enabled"
}

// Settings exposes the user preferences kept in a Store. Reads that fail
// are logged and reported as unset.
type Settings struct {
	store   *Store
	timeout time.Duration
	logger  *slog.Logger
}

func NewSettings(store *Store) *Settings {
	return &Settings{
		store:   store,
		timeout: 5 * time.Second,
		logger:  log.WithComponent("settings"),
	}
}

func (s *Settings) PluginEnabled(id string) (bool, bool) {
	return s.getBool(PluginEnabledKey(id))
}

func (s *Settings) SetPluginEnabled(id string, enabled bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.store.SetBool(ctx, PluginEnabledKey(id), enabled)
}

func (s *Settings) Frontend() (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	id, ok, err := s.store.Get(ctx, FrontendKey)
	if err != nil {
		s.logger.Warn("failed to read frontend setting", "error", err)
		return "", false
	}
	return id, ok
}

func (s *Settings) SetFrontend(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.store.Set(ctx, FrontendKey, id)
}

func (s *Settings) IncrementalSort() (bool, bool) {
	return s.getBool(IncrementalSortKey)
}

func (s *Settings) SetIncrementalSort(enabled bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.store.SetBool(ctx, IncrementalSortKey, enabled)
}

func (s *Settings) getBool(key string) (bool, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	v, ok, err := s.store.GetBool(ctx, key)
	if err != nil {
		s.logger.Warn("failed to read setting", "key", key, "error", err)
		return false, false
	}
	return v, ok
}
