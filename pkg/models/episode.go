package models

import "time"

// Classification describes how a workload's current unhealthiness relates to
// previously handled episodes.
type Classification string

const (
	// NewEpisode: no prior remediation, or the failing pod differs from the
	// one recorded at the last remediation.
	NewEpisode Classification = "NEW_EPISODE"
	// OngoingSuspected: same pod as at the last remediation and still inside
	// the cooldown window.
	OngoingSuspected Classification = "ONGOING_SUSPECTED"
	// CooldownExpired: same pod as at the last remediation, cooldown elapsed,
	// problem evidently not resolved.
	CooldownExpired Classification = "COOLDOWN_EXPIRED"
)

// EpisodeState is the durable per-workload memory of the last remediation.
// It lives in the workload's own annotations so it shares the versioning
// domain of the object the remediation mutates; it is written only after a
// successful action.
type EpisodeState struct {
	LastRemediation *time.Time
	PodUID          string
	Consecutive     bool
}

// Remediated reports whether the workload has ever been remediated.
func (e *EpisodeState) Remediated() bool {
	return e != nil && e.LastRemediation != nil
}
