// Package executor applies REMEDIATE decisions to the cluster.
//
// A remediation is one conditional update that rewrites the pod template
// annotations (forcing the rolling restart) and the episode annotations (the
// record future cycles classify against) together. Because both live on the
// same object, the update either lands fully or not at all, and the
// resourceVersion check makes it race-safe against overlapping healer
// invocations: whoever writes first wins, the loser re-reads and reassesses.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/opscart/k8s-auto-healer/pkg/cluster"
	"github.com/opscart/k8s-auto-healer/pkg/decision"
	"github.com/opscart/k8s-auto-healer/pkg/episode"
	"github.com/opscart/k8s-auto-healer/pkg/log"
	"github.com/opscart/k8s-auto-healer/pkg/models"
)

// maxAttempts bounds the read-evaluate-write loop. Each attempt re-reads the
// workload, so a conflict never replays a stale mutation.
const maxAttempts = 3

type Executor struct {
	client cluster.Interface
	dryRun bool

	// now is swapped out in tests
	now func() time.Time
}

func New(client cluster.Interface, dryRun bool) *Executor {
	return &Executor{
		client: client,
		dryRun: dryRun,
		now:    time.Now,
	}
}

// Remediate executes one REMEDIATE decision and always returns a record,
// never an error: every way the attempt can end is a result value the cycle
// accounts for.
func (e *Executor) Remediate(ctx context.Context, d models.HealingDecision, policy decision.Policy) models.RemediationRecord {
	logger := log.WithWorkload(d.Workload.Namespace, d.Workload.Name)

	record := models.RemediationRecord{
		ID:        uuid.New().String(),
		Workload:  d.Workload,
		DryRun:    e.dryRun,
		PodUID:    d.Sample.PodUID,
		Timestamp: e.now().UTC(),
	}

	if e.dryRun {
		record.Result = models.ResultDryRun
		logger.Info().
			Str("reason", d.Reason).
			Int32("restarts", d.Sample.RestartCount).
			Msg("dry-run: would restart workload")
		return record
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		record.Attempts = attempt

		w, err := e.client.GetWorkload(ctx, d.Workload)
		if err != nil {
			if apierrors.IsNotFound(err) {
				record.Result = models.ResultSuperseded
				logger.Info().Msg("workload gone, nothing to remediate")
				return record
			}
			record.Result = models.ResultFailed
			record.Error = fmt.Sprintf("read workload: %v", err)
			return record
		}

		// Reassess against the state we just read. Another invocation may
		// have remediated between the original decision and now, in which
		// case its episode annotations put us inside the cooldown.
		p := policy
		p.Disabled = p.Disabled || episode.IsDisabled(w.Annotations())
		state := episode.FromAnnotations(w.Annotations())
		fresh := decision.Decide(d.Sample, episode.Classify(d.Sample, state, p.Cooldown), p)
		if fresh.Verdict != models.VerdictRemediate {
			record.Result = models.ResultSuperseded
			logger.Info().
				Str("reason", fresh.Reason).
				Int("attempt", attempt).
				Msg("remediation superseded")
			return record
		}

		err = e.client.UpdateWorkload(ctx, e.restarted(w, fresh))
		if err == nil {
			record.Result = models.ResultApplied
			logger.Info().
				Str("reason", d.Reason).
				Int32("restarts", d.Sample.RestartCount).
				Int("attempt", attempt).
				Msg("rollout restart applied")
			return record
		}
		if !apierrors.IsConflict(err) {
			record.Result = models.ResultFailed
			record.Error = fmt.Sprintf("update workload: %v", err)
			return record
		}

		logger.Warn().Int("attempt", attempt).Msg("version conflict, re-reading workload")
	}

	record.Result = models.ResultFailed
	record.Error = fmt.Sprintf("version conflict persisted after %d attempts", maxAttempts)
	return record
}

// restarted copies the workload and stamps both annotation sets: the template
// keys that trigger the rollout and the object keys that record the episode.
func (e *Executor) restarted(w *cluster.Workload, d models.HealingDecision) *cluster.Workload {
	now := e.now().UTC()
	stamp := now.Format(time.RFC3339)

	updated := w.DeepCopy()
	updated.SetTemplateAnnotation(episode.RestartedAt, stamp)
	updated.SetTemplateAnnotation(episode.HealerRestartedAt, stamp)
	updated.SetTemplateAnnotation(episode.RestartReason, episode.ReasonHighRestartCount)

	state := &models.EpisodeState{
		LastRemediation: &now,
		PodUID:          d.Sample.PodUID,
		Consecutive:     d.Classification == models.CooldownExpired,
	}
	for k, v := range episode.ToAnnotations(state) {
		updated.SetAnnotation(k, v)
	}
	return updated
}
