package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/opscart/k8s-auto-healer/pkg/aggregator"
	"github.com/opscart/k8s-auto-healer/pkg/cluster"
	"github.com/opscart/k8s-auto-healer/pkg/config"
	"github.com/opscart/k8s-auto-healer/pkg/datasource"
	"github.com/opscart/k8s-auto-healer/pkg/episode"
	"github.com/opscart/k8s-auto-healer/pkg/log"
	"github.com/opscart/k8s-auto-healer/pkg/models"
	"github.com/spf13/cobra"
)

var trendLookback time.Duration

// workloadStatus is one watched workload as the status command shows it: the
// health sample plus the policy and episode context an operator needs to
// predict what the next cycle would do.
type workloadStatus struct {
	Sample models.WorkloadHealthSample

	Threshold      int32
	AboveThreshold bool
	Disabled       bool

	LastRemediation   *time.Time
	CooldownRemaining string

	CPUMillicores int64
	MemoryBytes   int64

	// RestartTrend is the increase in restarts over the lookback window,
	// from Prometheus; nil when no datasource answered.
	RestartTrend *float64
}

func runStatus(cmd *cobra.Command, args []string) {
	checkOutputFormat()

	var err error
	cfg, err = buildConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log.Init(logConfig(cfg))
	ctx := context.Background()

	client, err := cluster.New(cfg.APITimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := resolveScope(ctx, client); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	reader := cluster.NewReader(client, cluster.ReaderOptions{
		Selector:     cfg.LabelSelector,
		Workers:      cfg.ReaderWorkers,
		CollectUsage: true,
	})
	snap := reader.Snapshot(ctx, cfg.Namespaces)

	if snap.FatalFailure() || len(snap.Failures) == len(cfg.Namespaces) {
		for _, f := range snap.Failures {
			fmt.Fprintf(os.Stderr, "Error: namespace %s: %v\n", f.Namespace, f.Err)
		}
		os.Exit(2)
	}

	summaries := aggregator.Summarize(snap)
	samples := aggregator.Aggregate(snap, cfg.LabelSelector == "")
	trends := collectTrends(ctx, cfg)
	statuses := buildStatuses(snap, samples, trends)

	switch outputFormat {
	case "json":
		statusJSON(summaries, statuses, snap)
	default:
		statusText(summaries, statuses, snap)
	}
}

// collectTrends fetches per-pod restart deltas from Prometheus when a
// datasource is configured. Best effort: any failure just drops the column.
func collectTrends(ctx context.Context, c *config.Config) map[string]map[string]float64 {
	if c.PrometheusURL == "" {
		return nil
	}
	logger := log.WithComponent("status")

	source, err := datasource.NewPrometheusSource(c.PrometheusURL)
	if err != nil {
		logger.Warn().Err(err).Msg("prometheus source unavailable")
		return nil
	}
	if !source.IsAvailable(ctx) {
		logger.Warn().Str("url", c.PrometheusURL).Msg("prometheus not reachable")
		return nil
	}

	trends := make(map[string]map[string]float64, len(c.Namespaces))
	for _, namespace := range c.Namespaces {
		trend, err := source.RestartTrend(ctx, namespace, trendLookback)
		if err != nil {
			logger.Warn().Err(err).Str("namespace", namespace).Msg("restart trend query failed")
			continue
		}
		trends[namespace] = trend
	}
	return trends
}

func buildStatuses(snap *cluster.Snapshot, samples []models.WorkloadHealthSample, trends map[string]map[string]float64) []workloadStatus {
	annotations := make(map[models.WorkloadRef]map[string]string)
	usage := make(map[string]cluster.PodUsage)
	for i := range snap.Namespaces {
		ns := &snap.Namespaces[i]
		for j := range ns.Workloads {
			annotations[ns.Workloads[j].Ref()] = ns.Workloads[j].Annotations()
		}
		for pod, u := range ns.Usage {
			usage[ns.Namespace+"/"+pod] = u
		}
	}

	now := time.Now()
	statuses := make([]workloadStatus, 0, len(samples))
	for _, sample := range samples {
		rule := cfg.RuleFor(sample.Workload.Namespace)
		ann := annotations[sample.Workload]
		state := episode.FromAnnotations(ann)

		ws := workloadStatus{
			Sample:         sample,
			Threshold:      rule.Threshold,
			AboveThreshold: sample.Complete && sample.RestartCount >= rule.Threshold,
			Disabled:       rule.Disabled || episode.IsDisabled(ann),
		}

		if state.Remediated() {
			ws.LastRemediation = state.LastRemediation
			// Cooldown only binds while the remediated pod is still the
			// one failing; a replacement pod starts a fresh episode.
			if sample.PodUID == state.PodUID {
				if remaining := rule.Cooldown - now.Sub(*state.LastRemediation); remaining > 0 {
					ws.CooldownRemaining = remaining.Round(time.Second).String()
				}
			}
		}

		if u, ok := usage[sample.Workload.Namespace+"/"+sample.PodName]; ok {
			ws.CPUMillicores = u.CPUMillicores
			ws.MemoryBytes = u.MemoryBytes
		}
		if trend, ok := trends[sample.Workload.Namespace]; ok {
			if delta, ok := trend[sample.PodName]; ok {
				d := delta
				ws.RestartTrend = &d
			}
		}

		statuses = append(statuses, ws)
	}
	return statuses
}

func statusText(summaries []models.NamespaceSummary, statuses []workloadStatus, snap *cluster.Snapshot) {
	fmt.Println("=== Namespace Health ===")
	fmt.Println()
	for _, s := range summaries {
		fmt.Printf("%s: %d pod(s), %d unhealthy; %d/%d workload(s) ready\n",
			s.Namespace, s.PodsTotal, s.PodsUnhealthy, s.WorkloadsReady, s.WorkloadsTotal)
		if len(s.PodsByPhase) > 0 {
			fmt.Printf("   Phases: %s\n", formatPhases(s.PodsByPhase))
		}
	}
	for _, f := range snap.Failures {
		fmt.Printf("[WARN] %s: unreadable (%v)\n", f.Namespace, f.Err)
	}
	fmt.Println()

	if len(statuses) == 0 {
		fmt.Println("[INFO] No workloads in scope")
		return
	}

	fmt.Println("=== Watched Workloads ===")
	fmt.Println()
	for i, ws := range statuses {
		ref := ws.Sample.Workload
		fmt.Printf("%d. %s/%s [%s]", i+1, ref.Namespace, ref.Name, ref.Kind)
		switch {
		case ws.Disabled:
			fmt.Print(" [DISABLED]")
		case ws.AboveThreshold:
			fmt.Print(" [UNHEALTHY]")
		}
		fmt.Println()

		if !ws.Sample.Complete {
			fmt.Println("   Restarts: unknown (no pod data)")
		} else {
			fmt.Printf("   Restarts: %d (threshold %d, pod %s)\n", ws.Sample.RestartCount, ws.Threshold, ws.Sample.PodName)
		}
		if ws.Sample.RestartReason != "" {
			fmt.Printf("   Last exit: %s\n", ws.Sample.RestartReason)
		}
		if ws.LastRemediation != nil {
			fmt.Printf("   Last healed: %s\n", ws.LastRemediation.Format("2006-01-02 15:04:05"))
		}
		if ws.CooldownRemaining != "" {
			fmt.Printf("   Cooldown: %s remaining\n", ws.CooldownRemaining)
		}
		if ws.CPUMillicores > 0 || ws.MemoryBytes > 0 {
			fmt.Printf("   Usage: CPU=%dm Memory=%dMi\n", ws.CPUMillicores, ws.MemoryBytes/(1024*1024))
		}
		if ws.RestartTrend != nil {
			fmt.Printf("   Trend: %+.1f restarts over %s\n", *ws.RestartTrend, trendLookback)
		}
		fmt.Println()
	}
}

func statusJSON(summaries []models.NamespaceSummary, statuses []workloadStatus, snap *cluster.Snapshot) {
	output := map[string]interface{}{
		"namespaces": summaries,
		"workloads":  statuses,
		"timestamp":  time.Now().Format(time.RFC3339),
	}
	if failed := snap.FailedNamespaces(); len(failed) > 0 {
		output["failed_namespaces"] = failed
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

func formatPhases(phases map[string]int) string {
	keys := make([]string, 0, len(phases))
	for k := range phases {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, phases[k]))
	}
	return strings.Join(parts, " ")
}
