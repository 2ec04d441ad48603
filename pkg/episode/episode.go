package episode

import (
	"time"

	"github.com/opscart/k8s-auto-healer/pkg/models"
)

// Classify relates a health sample to the workload's episode state.
//
// Restart counters are scoped to a pod's lifetime, so "was this already
// handled" cannot be read off the counter: a remediation replaces the pod and
// resets the counter to zero, while a pod that keeps crashing after a
// remediation holds on to its identity. The comparison that matters is the
// sample's pod UID against the UID recorded at the last remediation.
//
// Elapsed time is measured against the sample's own observation instant, so
// the classification is a pure function of its inputs.
func Classify(sample models.WorkloadHealthSample, state *models.EpisodeState, cooldown time.Duration) models.Classification {
	if !state.Remediated() {
		return models.NewEpisode
	}
	if sample.PodUID != state.PodUID {
		return models.NewEpisode
	}
	if sample.ObservedAt.Sub(*state.LastRemediation) < cooldown {
		return models.OngoingSuspected
	}
	return models.CooldownExpired
}
