package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/opscart/k8s-auto-healer/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database and applies the schema
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema, err := migrationsFS.ReadFile("migrations/001_postgres_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// SaveRemediation saves one remediation record
func (s *PostgresStore) SaveRemediation(ctx context.Context, rec *models.RemediationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	query := `
		INSERT INTO remediations (
			id, kind, namespace, workload, result,
			dry_run, attempts, error_message, pod_uid, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Workload.Kind, rec.Workload.Namespace, rec.Workload.Name,
		rec.Result, rec.DryRun, rec.Attempts, rec.Error, rec.PodUID, rec.Timestamp,
	)

	return err
}

// ListRemediations retrieves recent remediations, newest first. An empty
// namespace lists across all namespaces.
func (s *PostgresStore) ListRemediations(ctx context.Context, namespace string, limit int) ([]*models.RemediationRecord, error) {
	query := `
		SELECT id, kind, namespace, workload, result,
			dry_run, attempts, error_message, pod_uid, created_at
		FROM remediations
		ORDER BY created_at DESC
		LIMIT $1
	`
	args := []interface{}{limit}

	if namespace != "" {
		query = `
			SELECT id, kind, namespace, workload, result,
				dry_run, attempts, error_message, pod_uid, created_at
			FROM remediations
			WHERE namespace = $1
			ORDER BY created_at DESC
			LIMIT $2
		`
		args = []interface{}{namespace, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRemediations(rows)
}

// WorkloadHistory retrieves remediations of one workload, newest first
func (s *PostgresStore) WorkloadHistory(ctx context.Context, namespace, workload string, limit int) ([]*models.RemediationRecord, error) {
	query := `
		SELECT id, kind, namespace, workload, result,
			dry_run, attempts, error_message, pod_uid, created_at
		FROM remediations
		WHERE namespace = $1 AND workload = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, namespace, workload, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRemediations(rows)
}

// SaveCycle saves one cycle summary
func (s *PostgresStore) SaveCycle(ctx context.Context, summary *models.CycleSummary) error {
	if summary.ID == "" {
		summary.ID = uuid.New().String()
	}

	query := `
		INSERT INTO cycles (
			id, started_at, finished_at, status,
			workloads_observed, workloads_unhealthy,
			decisions_remediate, decisions_no_action, decisions_skip,
			remediations_applied, remediations_dry_run,
			remediations_superseded, remediations_failed,
			failed_namespaces, threshold, cooldown_seconds, dry_run
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := s.db.ExecContext(ctx, query,
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

	return err
}

// ListCycles retrieves recent cycle summaries, newest first
func (s *PostgresStore) ListCycles(ctx context.Context, limit int) ([]*models.CycleSummary, error) {
	query := `
		SELECT id, started_at, finished_at, status,
			workloads_observed, workloads_unhealthy,
			decisions_remediate, decisions_no_action, decisions_skip,
			remediations_applied, remediations_dry_run,
			remediations_superseded, remediations_failed,
			failed_namespaces, threshold, cooldown_seconds, dry_run
		FROM cycles
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCycles(rows)
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanRemediations(rows *sql.Rows) ([]*models.RemediationRecord, error) {
	var records []*models.RemediationRecord
	for rows.Next() {
		var rec models.RemediationRecord
		var errorMessage, podUID sql.NullString

		err := rows.Scan(
			&rec.ID, &rec.Workload.Kind, &rec.Workload.Namespace, &rec.Workload.Name,
			&rec.Result, &rec.DryRun, &rec.Attempts, &errorMessage, &podUID, &rec.Timestamp,
		)
		if err != nil {
			return nil, err
		}

		rec.Error = errorMessage.String
		rec.PodUID = podUID.String

		records = append(records, &rec)
	}

	return records, rows.Err()
}

func scanCycles(rows *sql.Rows) ([]*models.CycleSummary, error) {
	var summaries []*models.CycleSummary
	for rows.Next() {
		var c models.CycleSummary
		var remediate, noAction, skip int
		var applied, dryRun, superseded, failed int
		var failedNamespaces sql.NullString
		var cooldownSeconds int64

		err := rows.Scan(
			&c.ID, &c.StartedAt, &c.FinishedAt, &c.Status,
			&c.WorkloadsObserved, &c.WorkloadsUnhealthy,
			&remediate, &noAction, &skip,
			&applied, &dryRun, &superseded, &failed,
			&failedNamespaces, &c.Threshold, &cooldownSeconds, &c.DryRun,
		)
		if err != nil {
			return nil, err
		}

		c.Decisions = map[models.Verdict]int{
			models.VerdictRemediate: remediate,
			models.VerdictNoAction:  noAction,
			models.VerdictSkip:      skip,
		}
		c.Remediations = map[models.RemediationResult]int{
			models.ResultApplied:    applied,
			models.ResultDryRun:     dryRun,
			models.ResultSuperseded: superseded,
			models.ResultFailed:     failed,
		}
		if failedNamespaces.Valid && failedNamespaces.String != "" {
			c.FailedNamespaces = strings.Split(failedNamespaces.String, ",")
		}
		c.Cooldown = time.Duration(cooldownSeconds) * time.Second

		summaries = append(summaries, &c)
	}

	return summaries, rows.Err()
}
