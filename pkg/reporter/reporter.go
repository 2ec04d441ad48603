// Package reporter publishes cycle outcomes as Prometheus metrics.
//
// Reporting is side-effect only. A reporter that cannot reach its pushgateway
// logs a warning and moves on; it never alters the cycle's own status.
package reporter

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/opscart/k8s-auto-healer/pkg/log"
	"github.com/opscart/k8s-auto-healer/pkg/models"
)

// jobName groups pushed metrics on the gateway
const jobName = "auto-healer"

// Reporter carries its own registry so that pushes and the scrape endpoint
// expose exactly the healer's metrics, nothing ambient.
type Reporter struct {
	registry *prometheus.Registry
	gateway  string

	decisions    *prometheus.CounterVec
	remediations *prometheus.CounterVec
	restartCount *prometheus.GaugeVec
	unhealthy    prometheus.Gauge
	cycleSeconds prometheus.Gauge
	errorsTotal  *prometheus.CounterVec
}

// New builds a reporter. An empty gateway disables pushing; the metrics are
// still collected and served via Handler.
func New(gateway string) *Reporter {
	r := &Reporter{
		registry: prometheus.NewRegistry(),
		gateway:  gateway,

		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auto_healer_decisions_total",
				Help: "Total healing decisions by verdict",
			},
			[]string{"verdict"},
		),
		remediations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auto_healer_remediations_total",
				Help: "Total remediation attempts by result",
			},
			[]string{"result"},
		),
		restartCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "auto_healer_workload_restart_count",
				Help: "Last observed container restart count per workload",
			},
			[]string{"namespace", "workload"},
		),
		unhealthy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "auto_healer_unhealthy_workloads",
				Help: "Number of workloads at or above the restart threshold",
			},
		),
		cycleSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "auto_healer_cycle_duration_seconds",
				Help: "Wall time of the last evaluation cycle",
			},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auto_healer_errors_total",
				Help: "Total errors by type",
			},
			[]string{"type"},
		),
	}

	r.registry.MustRegister(
		r.decisions,
		r.remediations,
		r.restartCount,
		r.unhealthy,
		r.cycleSeconds,
		r.errorsTotal,
	)
	return r
}

// ObserveDecision records one decision and refreshes the workload's restart
// gauge. Incomplete samples skip the gauge, their counter reading is not
// trustworthy.
func (r *Reporter) ObserveDecision(d models.HealingDecision) {
	r.decisions.WithLabelValues(string(d.Verdict)).Inc()
	if d.Sample.Complete {
		r.restartCount.WithLabelValues(d.Workload.Namespace, d.Workload.Name).Set(float64(d.Sample.RestartCount))
	}
}

// ObserveRemediation records the outcome of one executed remediation
func (r *Reporter) ObserveRemediation(rec models.RemediationRecord) {
	r.remediations.WithLabelValues(string(rec.Result)).Inc()
	if rec.Result == models.ResultFailed {
		r.errorsTotal.WithLabelValues("remediation").Inc()
	}
}

// ObserveCycle records cycle-level gauges
func (r *Reporter) ObserveCycle(summary models.CycleSummary) {
	r.cycleSeconds.Set(summary.Duration().Seconds())
	r.unhealthy.Set(float64(summary.WorkloadsUnhealthy))
	for range summary.FailedNamespaces {
		r.errorsTotal.WithLabelValues("namespace_read").Inc()
	}
}

// ObserveError counts an error by type
func (r *Reporter) ObserveError(errType string) {
	r.errorsTotal.WithLabelValues(errType).Inc()
}

// Push sends the registry to the pushgateway. Failures are logged and
// swallowed.
func (r *Reporter) Push(ctx context.Context) {
	if r.gateway == "" {
		return
	}
	logger := log.WithComponent("reporter")
	err := push.New(r.gateway, jobName).
		Gatherer(r.registry).
		PushContext(ctx)
	if err != nil {
		logger.Warn().
			Str("gateway", r.gateway).
			Err(err).
			Msg("failed to push metrics")
		return
	}
	logger.Debug().Str("gateway", r.gateway).Msg("metrics pushed")
}

// Handler serves the registry for scraping, used by watch mode
func (r *Reporter) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
