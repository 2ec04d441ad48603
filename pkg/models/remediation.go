package models

import "time"

// RemediationResult classifies how a remediation attempt ended
type RemediationResult string

const (
	// ResultApplied: the rollout restart was written to the cluster.
	ResultApplied RemediationResult = "applied"
	// ResultDryRun: dry-run mode, no mutation performed.
	ResultDryRun RemediationResult = "dry_run"
	// ResultSuperseded: a re-read after a version conflict showed the
	// remediation is no longer warranted (a concurrent invocation acted first).
	ResultSuperseded RemediationResult = "superseded"
	// ResultFailed: the mutation could not be applied.
	ResultFailed RemediationResult = "failed"
)

// RemediationRecord is the outcome of executing one REMEDIATE decision
type RemediationRecord struct {
	ID       string
	Workload WorkloadRef

	Result   RemediationResult
	DryRun   bool
	Attempts int

	// Error holds the failure detail when Result is failed
	Error string

	// PodUID is the identity of the pod that triggered the action
	PodUID string

	Timestamp time.Time
}

// Succeeded reports whether the record represents a completed action,
// dry-run included.
func (r *RemediationRecord) Succeeded() bool {
	return r.Result == ResultApplied || r.Result == ResultDryRun
}
