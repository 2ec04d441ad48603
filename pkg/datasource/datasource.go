// Package datasource queries a metrics backend for restart history that live
// cluster state cannot show. Optional enrichment only: healing decisions
// never depend on it.
package datasource

import (
	"context"
	"time"
)

// Source provides restart history per pod
type Source interface {
	// RestartTrend returns the restart increase per pod over the lookback
	// window, keyed by pod name.
	RestartTrend(ctx context.Context, namespace string, lookback time.Duration) (map[string]float64, error)
	IsAvailable(ctx context.Context) bool
	Name() string
}
