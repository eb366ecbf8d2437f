package dispatch

import (
	"context"

	"github.com/mattjoyce/quern/internal/query"
	"github.com/mattjoyce/quern/internal/score"
)

// StatsSink stores session statistics and serves the activation history
// scores are computed from.
//
//go:generate mockgen -destination=mocks/mock_stats_sink.go -package=mocks github.com/mattjoyce/quern/internal/dispatch StatsSink
type StatsSink interface {
	SaveSession(ctx context.Context, stats []query.Stats) error
	score.Source
}
