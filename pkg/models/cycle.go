package models

import "time"

// CycleStatus is the overall outcome of one evaluation cycle
type CycleStatus string

const (
	// StatusSuccess: every namespace read, every sample processed.
	StatusSuccess CycleStatus = "SUCCESS"
	// StatusPartial: some namespaces were skipped on transient failures but
	// the cycle otherwise completed.
	StatusPartial CycleStatus = "PARTIAL"
	// StatusFatal: a required operation failed entirely (no cluster access,
	// or the configured scope is inaccessible).
	StatusFatal CycleStatus = "FATAL"
)

// CycleSummary describes one complete evaluation cycle
type CycleSummary struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     CycleStatus

	WorkloadsObserved  int
	WorkloadsUnhealthy int
	Decisions          map[Verdict]int
	Remediations       map[RemediationResult]int
	FailedNamespaces   []string

	Threshold int32
	Cooldown  time.Duration
	DryRun    bool
}

// Duration returns the cycle wall time
func (c *CycleSummary) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}

// NamespaceSummary is a point-in-time health overview of one namespace
type NamespaceSummary struct {
	Namespace string

	PodsTotal     int
	PodsByPhase   map[string]int
	PodsUnhealthy int

	WorkloadsTotal int
	WorkloadsReady int
}
