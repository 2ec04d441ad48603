package storage

import (
	"context"
	"fmt"

	"github.com/opscart/k8s-auto-healer/pkg/models"
)

// Store persists remediation history and cycle summaries. The control loop
// itself never reads from here: episode state lives on the workload objects.
// This is the audit trail behind the history command.
type Store interface {
	SaveRemediation(ctx context.Context, rec *models.RemediationRecord) error
	ListRemediations(ctx context.Context, namespace string, limit int) ([]*models.RemediationRecord, error)
	WorkloadHistory(ctx context.Context, namespace, workload string, limit int) ([]*models.RemediationRecord, error)

	SaveCycle(ctx context.Context, summary *models.CycleSummary) error
	ListCycles(ctx context.Context, limit int) ([]*models.CycleSummary, error)

	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	Type string // "postgres", "sqlite", or empty to disable persistence
	Path string // sqlite database file
	URL  string // postgres connection string
}

// New builds the configured store. A nil store with a nil error means
// persistence is disabled.
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "postgres":
		return NewPostgresStore(cfg.URL)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
