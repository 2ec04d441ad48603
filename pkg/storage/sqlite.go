package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/opscart/k8s-auto-healer/pkg/models"
)

// SQLiteStore implements Store using a local SQLite file. The default for
// out-of-cluster runs, where standing up Postgres is not worth it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database file and applies the schema
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema, err := migrationsFS.ReadFile("migrations/001_sqlite_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// SaveRemediation saves one remediation record
func (s *SQLiteStore) SaveRemediation(ctx context.Context, rec *models.RemediationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remediations (
			id, kind, namespace, workload, result,
			dry_run, attempts, error_message, pod_uid, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Workload.Kind, rec.Workload.Namespace, rec.Workload.Name,
		rec.Result, rec.DryRun, rec.Attempts, rec.Error, rec.PodUID, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save remediation: %w", err)
	}
	return nil
}

// ListRemediations retrieves recent remediations, newest first. An empty
// namespace lists across all namespaces.
func (s *SQLiteStore) ListRemediations(ctx context.Context, namespace string, limit int) ([]*models.RemediationRecord, error) {
	query := `
		SELECT id, kind, namespace, workload, result,
			dry_run, attempts, error_message, pod_uid, created_at
		FROM remediations
		ORDER BY created_at DESC
		LIMIT ?
	`
	args := []interface{}{limit}

	if namespace != "" {
		query = `
			SELECT id, kind, namespace, workload, result,
				dry_run, attempts, error_message, pod_uid, created_at
			FROM remediations
			WHERE namespace = ?
			ORDER BY created_at DESC
			LIMIT ?
		`
		args = []interface{}{namespace, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query remediations: %w", err)
	}
	defer rows.Close()

	return scanRemediations(rows)
}

// WorkloadHistory retrieves remediations of one workload, newest first
func (s *SQLiteStore) WorkloadHistory(ctx context.Context, namespace, workload string, limit int) ([]*models.RemediationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, namespace, workload, result,
			dry_run, attempts, error_message, pod_uid, created_at
		FROM remediations
		WHERE namespace = ? AND workload = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		namespace, workload, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query workload history: %w", err)
	}
	defer rows.Close()

	return scanRemediations(rows)
}

// SaveCycle saves one cycle summary
func (s *SQLiteStore) SaveCycle(ctx context.Context, summary *models.CycleSummary) error {
	if summary.ID == "" {
		summary.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles (
			id, started_at, finished_at, status,
			workloads_observed, workloads_unhealthy,
			decisions_remediate, decisions_no_action, decisions_skip,
			remediations_applied, remediations_dry_run,
			remediations_superseded, remediations_failed,
			failed_namespaces, threshold, cooldown_seconds, dry_run
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.ID, summary.StartedAt, summary.FinishedAt, summary.Status,
		summary.WorkloadsObserved, summary.WorkloadsUnhealthy,
		summary.Decisions[models.VerdictRemediate],
		summary.Decisions[models.VerdictNoAction],
		summary.Decisions[models.VerdictSkip],
		summary.Remediations[models.ResultApplied],
		summary.Remediations[models.ResultDryRun],
		summary.Remediations[models.ResultSuperseded],
		summary.Remediations[models.ResultFailed],
		strings.Join(summary.FailedNamespaces, ","),
		summary.Threshold, int64(summary.Cooldown.Seconds()), summary.DryRun,
	)
	if err != nil {
		return fmt.Errorf("failed to save cycle: %w", err)
	}
	return nil
}

// ListCycles retrieves recent cycle summaries, newest first
func (s *SQLiteStore) ListCycles(ctx context.Context, limit int) ([]*models.CycleSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status,
			workloads_observed, workloads_unhealthy,
			decisions_remediate, decisions_no_action, decisions_skip,
			remediations_applied, remediations_dry_run,
			remediations_superseded, remediations_failed,
			failed_namespaces, threshold, cooldown_seconds, dry_run
		FROM cycles
		ORDER BY started_at DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	return scanCycles(rows)
}

// Ping checks database connectivity
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
