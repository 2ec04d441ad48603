// Package runner executes one complete evaluation cycle: read the configured
// scope, aggregate health, classify episodes, decide, remediate, report.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opscart/k8s-auto-healer/pkg/aggregator"
	"github.com/opscart/k8s-auto-healer/pkg/cluster"
	"github.com/opscart/k8s-auto-healer/pkg/config"
	"github.com/opscart/k8s-auto-healer/pkg/decision"
	"github.com/opscart/k8s-auto-healer/pkg/episode"
	"github.com/opscart/k8s-auto-healer/pkg/executor"
	"github.com/opscart/k8s-auto-healer/pkg/log"
	"github.com/opscart/k8s-auto-healer/pkg/models"
	"github.com/opscart/k8s-auto-healer/pkg/reporter"
	"github.com/opscart/k8s-auto-healer/pkg/storage"
)

type Runner struct {
	client   cluster.Interface
	cfg      *config.Config
	reporter *reporter.Reporter
	store    storage.Store
	exec     *executor.Executor
}

// New wires a runner. The store may be nil when persistence is disabled.
func New(client cluster.Interface, cfg *config.Config, rep *reporter.Reporter, store storage.Store) *Runner {
	return &Runner{
		client:   client,
		cfg:      cfg,
		reporter: rep,
		store:    store,
		exec:     executor.New(client, cfg.DryRun),
	}
}

// CycleResult is everything one cycle produced
type CycleResult struct {
	Summary   models.CycleSummary
	Decisions []models.HealingDecision
	Records   []models.RemediationRecord
}

// Run executes one evaluation cycle. It always returns a result: process
// severity is carried in the summary status, never as an error. A FATAL
// status means the configured scope could not be read at all, or a
// permission error makes acting on it unsafe; no remediation happens in
// that cycle.
func (r *Runner) Run(ctx context.Context) *CycleResult {
	logger := log.WithComponent("runner")

	result := &CycleResult{
		Summary: models.CycleSummary{
			ID:           uuid.New().String(),
			StartedAt:    time.Now(),
			Status:       models.StatusSuccess,
			Decisions:    make(map[models.Verdict]int),
			Remediations: make(map[models.RemediationResult]int),
			Threshold:    r.cfg.RestartThreshold,
			Cooldown:     r.cfg.CooldownDuration,
			DryRun:       r.cfg.DryRun,
		},
	}

	reader := cluster.NewReader(r.client, cluster.ReaderOptions{
		Selector: r.cfg.LabelSelector,
		Workers:  r.cfg.ReaderWorkers,
	})
	snap := reader.Snapshot(ctx, r.cfg.Namespaces)

	result.Summary.FailedNamespaces = snap.FailedNamespaces()

	if snap.FatalFailure() || len(snap.Failures) == len(r.cfg.Namespaces) {
		result.Summary.Status = models.StatusFatal
		logger.Error().
			Strs("namespaces", result.Summary.FailedNamespaces).
			Msg("configured scope is unreadable, aborting cycle")
		r.finish(ctx, result)
		return result
	}
	if len(result.Summary.FailedNamespaces) > 0 {
		result.Summary.Status = models.StatusPartial
	}

	workloads := indexWorkloads(snap)
	samples := aggregator.Aggregate(snap, r.cfg.LabelSelector == "")
	result.Summary.WorkloadsObserved = len(samples)

	for _, sample := range samples {
		rule := r.cfg.RuleFor(sample.Workload.Namespace)
		policy := decision.Policy{
			Threshold: rule.Threshold,
			Cooldown:  rule.Cooldown,
			Disabled:  rule.Disabled,
		}

		var annotations map[string]string
		if w, ok := workloads[sample.Workload]; ok {
			annotations = w.Annotations()
		}
		policy.Disabled = policy.Disabled || episode.IsDisabled(annotations)

		state := episode.FromAnnotations(annotations)
		d := decision.Decide(sample, episode.Classify(sample, state, policy.Cooldown), policy)

		result.Decisions = append(result.Decisions, d)
		result.Summary.Decisions[d.Verdict]++
		if sample.Complete && sample.RestartCount >= policy.Threshold {
			result.Summary.WorkloadsUnhealthy++
		}
		r.reporter.ObserveDecision(d)

		logger.Debug().
			Str("workload", sample.Workload.String()).
			Int32("restarts", sample.RestartCount).
			Str("classification", string(d.Classification)).
			Str("verdict", string(d.Verdict)).
			Str("reason", d.Reason).
			Msg("decision")

		if d.Verdict != models.VerdictRemediate {
			continue
		}

		rec := r.exec.Remediate(ctx, d, policy)
		result.Records = append(result.Records, rec)
		result.Summary.Remediations[rec.Result]++
		r.reporter.ObserveRemediation(rec)
		r.saveRecord(ctx, &rec)
	}

	r.finish(ctx, result)
	return result
}

func (r *Runner) finish(ctx context.Context, result *CycleResult) {
	result.Summary.FinishedAt = time.Now()

	r.reporter.ObserveCycle(result.Summary)
	r.reporter.Push(ctx)

	logger := log.WithComponent("runner")
	if r.store != nil {
		if err := r.store.SaveCycle(ctx, &result.Summary); err != nil {
			logger.Warn().Err(err).Msg("failed to persist cycle summary")
			r.reporter.ObserveError("storage")
		}
	}

	logger.Info().
		Str("status", string(result.Summary.Status)).
		Int("workloads", result.Summary.WorkloadsObserved).
		Int("unhealthy", result.Summary.WorkloadsUnhealthy).
		Int("remediations", len(result.Records)).
		Dur("duration", result.Summary.Duration()).
		Msg("cycle complete")
}

func (r *Runner) saveRecord(ctx context.Context, rec *models.RemediationRecord) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveRemediation(ctx, rec); err != nil {
		logger := log.WithComponent("runner")
		logger.Warn().
			Str("workload", rec.Workload.String()).
			Err(err).
			Msg("failed to persist remediation record")
		r.reporter.ObserveError("storage")
	}
}

func indexWorkloads(snap *cluster.Snapshot) map[models.WorkloadRef]*cluster.Workload {
	index := make(map[models.WorkloadRef]*cluster.Workload)
	for i := range snap.Namespaces {
		ws := snap.Namespaces[i].Workloads
		for j := range ws {
			index[ws[j].Ref()] = &ws[j]
		}
	}
	return index
}
