package scheduler

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_pruner.go -package=mocks github.com/mattjoyce/quern/internal/scheduler Pruner

// Pruner deletes history recorded before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
