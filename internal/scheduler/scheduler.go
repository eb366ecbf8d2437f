package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/mattjoyce/quern/internal/config"
	"github.com/mattjoyce/quern/internal/events"
)

// Scheduler runs periodic history maintenance.
type Scheduler struct {
	cfg    config.HistoryConfig
	pruner Pruner
	events *events.Hub
	logger *slog.Logger
	now    func() time.Time

	// OnPruned runs after a pass that deleted records.
	OnPruned func(ctx context.Context)

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a new Scheduler instance.
func New(cfg *config.Config, p Pruner, hub *events.Hub, logger *slog.Logger) *Scheduler {
	if hub == nil {
		hub = events.NewHub(16)
	}
	return &Scheduler{
		cfg:    cfg.History,
		pruner: p,
		events: hub,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start prunes once, then keeps pruning every history.prune_interval until
// Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler", "retention", s.cfg.Retention, "interval", s.cfg.PruneInterval)

	if _, err := s.prune(ctx); err != nil {
		return fmt.Errorf("startup prune failed: %w", err)
	}

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping scheduler")
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(calculateJitteredInterval(s.cfg.PruneInterval, s.cfg.PruneJitter))
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(calculateJitteredInterval(s.cfg.PruneInterval, s.cfg.PruneJitter))
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Debug("Scheduler context cancelled, stopping loop")
			return
		}
	}
}

// tick performs a single maintenance pass. Errors are logged; the next pass
// retries.
func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.prune(ctx); err != nil {
		s.logger.Error("History prune failed", "error", err)
	}
}

func (s *Scheduler) prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("History pruned", "cutoff", cutoff.UTC(), "deleted", n)
	if n > 0 {
		s.events.Publish(events.Pruned{Cutoff: cutoff.UTC(), Deleted: n})
		if s.OnPruned != nil {
			s.OnPruned(ctx)
		}
	}
	return n, nil
}

// calculateJitteredInterval adds a random delay in [0, jitter) to
// baseInterval.
func calculateJitteredInterval(baseInterval time.Duration, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return baseInterval
	}
	return baseInterval + time.Duration(rand.Int63n(jitter.Nanoseconds()))
}
