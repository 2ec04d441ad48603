// Package episode owns the per-workload memory of past remediations: how it
// is persisted on the workload object and how a fresh health sample relates
// to it.
//
// State lives in the workload's own object-level annotations. That puts it in
// the same resourceVersion domain as the pod template the executor mutates,
// so one conditional write updates both atomically, and concurrent healer
// invocations cannot observe one without the other.
package episode

import (
	"time"

	"github.com/opscart/k8s-auto-healer/pkg/log"
	"github.com/opscart/k8s-auto-healer/pkg/models"
)

// Object-level annotation keys. These never touch the pod template, so
// writing them does not trigger a rollout by itself.
const (
	// LastRemediation is the RFC3339 timestamp of the last successful
	// remediation of this workload.
	LastRemediation = "auto-healer/last-remediation"

	// LastPodUID is the UID of the pod whose restart count triggered the
	// last remediation. A later sample with a different UID belongs to a
	// new episode.
	LastPodUID = "auto-healer/last-pod-uid"

	// ConsecutiveEpisode is "true" when the last remediation fired on an
	// expired cooldown for the same pod, meaning the previous restart did
	// not resolve the problem.
	ConsecutiveEpisode = "auto-healer/consecutive"

	// Disabled opts a single workload out of remediation entirely.
	// Value: "true"
	Disabled = "auto-healer/disabled"
)

// Pod-template annotation keys, written only inside a remediation and only
// on the template, where changing them forces the rolling restart.
const (
	// RestartedAt is the key kubectl itself uses for rollout restarts.
	RestartedAt = "kubectl.kubernetes.io/restartedAt"

	// HealerRestartedAt marks the restart as ours.
	HealerRestartedAt = "auto-healer/restarted-at"

	// RestartReason records why the healer restarted the workload.
	// Value: "high-restart-count"
	RestartReason = "auto-healer/reason"
)

// ReasonHighRestartCount is the only restart reason the healer writes today
const ReasonHighRestartCount = "high-restart-count"

// FromAnnotations parses EpisodeState from a workload's annotations. Returns
// nil when the workload carries no remediation record. Malformed values are
// treated as absent state: a workload with garbage annotations is
// indistinguishable from one never remediated.
func FromAnnotations(annotations map[string]string) *models.EpisodeState {
	raw, ok := annotations[LastRemediation]
	if !ok {
		return nil
	}

	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger := log.WithComponent("episode")
		logger.Warn().
			Str("value", raw).
			Err(err).
			Msg("malformed last-remediation annotation, treating as absent")
		return nil
	}

	return &models.EpisodeState{
		LastRemediation: &ts,
		PodUID:          annotations[LastPodUID],
		Consecutive:     annotations[ConsecutiveEpisode] == "true",
	}
}

// ToAnnotations renders EpisodeState as the annotation values to write
func ToAnnotations(state *models.EpisodeState) map[string]string {
	out := map[string]string{
		LastPodUID:         state.PodUID,
		ConsecutiveEpisode: "false",
	}
	if state.LastRemediation != nil {
		out[LastRemediation] = state.LastRemediation.UTC().Format(time.RFC3339)
	}
	if state.Consecutive {
		out[ConsecutiveEpisode] = "true"
	}
	return out
}

// IsDisabled reports whether the workload opted out of remediation
func IsDisabled(annotations map[string]string) bool {
	return annotations[Disabled] == "true"
}
