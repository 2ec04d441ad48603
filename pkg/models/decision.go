package models

// Verdict is the outcome of evaluating one workload health sample
type Verdict string

const (
	VerdictRemediate Verdict = "REMEDIATE"
	VerdictNoAction  Verdict = "NO_ACTION"
	VerdictSkip      Verdict = "SKIP"
)

// HealingDecision captures one evaluation of one workload. Created fresh
// every cycle and never persisted; only a REMEDIATE's consequences survive,
// via EpisodeState.
type HealingDecision struct {
	Workload       WorkloadRef
	Sample         WorkloadHealthSample
	Classification Classification
	Verdict        Verdict
	Reason         string
}
