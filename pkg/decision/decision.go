// Package decision turns a health sample plus its episode classification into
// a healing verdict. Everything here is pure: no clock, no API calls, no
// logging. The executor re-runs the same function against fresh state before
// every write, so any hidden input would break that re-evaluation.
package decision

import (
	"fmt"
	"time"

	"github.com/opscart/k8s-auto-healer/pkg/models"
)

// Policy is the slice of configuration the engine needs for one workload.
// The runner resolves it per namespace, so two workloads in the same cycle
// can carry different thresholds.
type Policy struct {
	Threshold int32
	Cooldown  time.Duration
	Disabled  bool
}

// Decide maps a sample and its classification to a verdict.
//
// Rules, in order:
//   - incomplete sample: SKIP. Never remediate on data we could not read.
//   - restart count below threshold: NO_ACTION, whatever the episode state
//     says. A replacement pod reporting zero restarts lands here even though
//     the workload was remediated minutes ago.
//   - remediation disabled for this workload: SKIP. Checked after the
//     threshold so the skip only surfaces when it actually suppressed action.
//   - ONGOING_SUSPECTED: SKIP, the previous remediation is still settling.
//   - NEW_EPISODE or COOLDOWN_EXPIRED: REMEDIATE.
//
// The threshold is inclusive: a count exactly at the threshold triggers.
func Decide(sample models.WorkloadHealthSample, classification models.Classification, policy Policy) models.HealingDecision {
	d := models.HealingDecision{
		Workload:       sample.Workload,
		Sample:         sample,
		Classification: classification,
	}

	if !sample.Complete {
		d.Verdict = models.VerdictSkip
		d.Reason = "incomplete data"
		return d
	}

	if sample.RestartCount < policy.Threshold {
		d.Verdict = models.VerdictNoAction
		d.Reason = "below threshold"
		return d
	}

	if policy.Disabled {
		d.Verdict = models.VerdictSkip
		d.Reason = "remediation disabled"
		return d
	}

	switch classification {
	case models.OngoingSuspected:
		d.Verdict = models.VerdictSkip
		d.Reason = "cooldown active"
	case models.CooldownExpired:
		d.Verdict = models.VerdictRemediate
		d.Reason = fmt.Sprintf("restart count %d still at or above threshold %d after cooldown", sample.RestartCount, policy.Threshold)
	default:
		d.Verdict = models.VerdictRemediate
		d.Reason = fmt.Sprintf("restart count %d at or above threshold %d", sample.RestartCount, policy.Threshold)
	}
	return d
}
