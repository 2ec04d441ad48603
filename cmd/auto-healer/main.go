package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/opscart/k8s-auto-healer/pkg/cluster"
	"github.com/opscart/k8s-auto-healer/pkg/config"
	"github.com/opscart/k8s-auto-healer/pkg/log"
	"github.com/opscart/k8s-auto-healer/pkg/models"
	"github.com/opscart/k8s-auto-healer/pkg/reporter"
	"github.com/opscart/k8s-auto-healer/pkg/runner"
	"github.com/opscart/k8s-auto-healer/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Scope flags
	namespaces    string
	allNamespaces bool
	labelSelector string

	// Policy flags
	dryRun     bool
	threshold  int
	cooldown   time.Duration
	policyFile string

	// Watch flags
	interval      time.Duration
	metricsListen string

	// Output flags
	outputFormat string

	// History command vars
	historyLimit    int
	historyWorkload string
	cyclesLimit     int

	// Global config
	cfg   *config.Config
	store storage.Store
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "auto-healer",
		Short: "Kubernetes workload auto-healer",
		Long: `Detect workloads stuck in restart loops and heal them with a rollout restart.
Running without a subcommand executes a single evaluation cycle; use "watch"
to run continuously on an interval.`,
		Run: runHeal,
	}

	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json")
	rootCmd.PersistentFlags().StringVar(&policyFile, "policy-file", "", "YAML file with per-namespace policy overrides")

	addScopeFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVarP(&namespaces, "namespaces", "n", "", "Comma-separated namespaces to watch")
		cmd.Flags().BoolVarP(&allNamespaces, "all-namespaces", "A", false, "Watch every namespace in the cluster")
		cmd.Flags().StringVarP(&labelSelector, "selector", "l", "", "Label selector narrowing the watched pods")
	}
	addPolicyFlags := func(cmd *cobra.Command) {
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Decide but do not restart anything")
		cmd.Flags().IntVar(&threshold, "threshold", 3, "Restart count at which a workload is healed")
		cmd.Flags().DurationVar(&cooldown, "cooldown", 10*time.Minute, "Minimum wait between restarts of the same workload")
	}

	addScopeFlags(rootCmd)
	addPolicyFlags(rootCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run evaluation cycles continuously",
		Run:   runWatch,
	}
	addScopeFlags(watchCmd)
	addPolicyFlags(watchCmd)
	watchCmd.Flags().DurationVar(&interval, "interval", 60*time.Second, "Time between evaluation cycles")
	watchCmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Serve /metrics on this address (e.g. :8080)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show restart health of the watched scope without acting",
		Run:   runStatus,
	}
	addScopeFlags(statusCmd)
	statusCmd.Flags().DurationVar(&trendLookback, "lookback", time.Hour, "Prometheus restart trend window")

	historyCmd := &cobra.Command{
		Use:   "history [namespace]",
		Short: "View past remediations",
		Args:  cobra.MaximumNArgs(1),
		Run:   runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of remediations to show")
	historyCmd.Flags().StringVar(&historyWorkload, "workload", "", "Only this workload (requires a namespace argument)")

	cyclesCmd := &cobra.Command{
		Use:   "cycles",
		Short: "View past evaluation cycles",
		Run:   runCycles,
	}
	cyclesCmd.Flags().IntVar(&cyclesLimit, "limit", 10, "Number of cycles to show")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(cyclesCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildConfig loads configuration from the environment, then lets explicitly
// set command-line flags override it.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	c, err := config.Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("namespaces") {
		c.Namespaces = splitList(namespaces)
	}
	if flags.Changed("selector") {
		c.LabelSelector = labelSelector
	}
	if flags.Changed("dry-run") {
		c.DryRun = dryRun
	}
	if flags.Changed("threshold") {
		c.RestartThreshold = int32(threshold)
	}
	if flags.Changed("cooldown") {
		c.CooldownDuration = cooldown
	}
	if flags.Changed("interval") {
		c.CheckInterval = interval
	}
	if flags.Changed("metrics-listen") {
		c.MetricsListen = metricsListen
	}
	if flags.Changed("policy-file") {
		c.PolicyFile = policyFile
	}
	if flags.Changed("policy-file") || (c.PolicyFile != "" && c.Policy == nil) {
		c.Policy, err = config.LoadPolicy(c.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy file: %w", err)
		}
	}
	return c, nil
}

func logConfig(c *config.Config) log.Config {
	return log.Config{
		Level:      log.Level(c.LogLevel),
		JSONOutput: c.LogFormat == "json",
	}
}

func checkOutputFormat() {
	if outputFormat != "text" && outputFormat != "json" {
		fmt.Fprintln(os.Stderr, "Error: output must be text or json")
		os.Exit(1)
	}
}

// resolveScope replaces the configured namespace list with every namespace in
// the cluster when --all-namespaces is set.
func resolveScope(ctx context.Context, client *cluster.Client) error {
	if !allNamespaces {
		return nil
	}
	names, err := client.ListNamespaces(ctx)
	if err != nil {
		return fmt.Errorf("failed to list namespaces: %w", err)
	}
	cfg.Namespaces = names
	return nil
}

func initStorage() error {
	var err error
	store, err = storage.New(storage.Config{
		Type: cfg.StorageType,
		Path: cfg.DatabasePath,
		URL:  cfg.DatabaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	return nil
}

func initStorageForced() error {
	if cfg.StorageType == "" {
		return fmt.Errorf("storage is not configured: set STORAGE_TYPE to sqlite or postgres")
	}
	return initStorage()
}

func runHeal(cmd *cobra.Command, args []string) {
	checkOutputFormat()

	var err error
	cfg, err = buildConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log.Init(logConfig(cfg))
	ctx := context.Background()

	// No cluster access means nothing can be evaluated: that is a fatal
	// cycle, not a usage error.
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
	if err := initStorage(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
	}

	if outputFormat != "json" {
		fmt.Println("[INFO] K8s Auto-Healer - starting evaluation cycle")
		if cfg.DryRun {
			fmt.Println("[INFO] Dry-run mode: no workload will be restarted")
		}
		if version, err := client.ServerVersion(); err == nil {
			fmt.Printf("[INFO] Connected to cluster (version: %s)\n", version)
		}
		fmt.Printf("[INFO] Watching namespaces: %s\n", strings.Join(cfg.Namespaces, ", "))
		if cfg.LabelSelector != "" {
			fmt.Printf("[INFO] Pod selector: %s\n", cfg.LabelSelector)
		}
	}

	rep := reporter.New(cfg.PushgatewayURL)
	result := runner.New(client, cfg, rep, store).Run(ctx)

	switch outputFormat {
	case "json":
		outputJSON(result)
	default:
		outputText(result)
	}

	if result.Summary.Status == models.StatusFatal {
		os.Exit(2)
	}
}

func outputText(result *runner.CycleResult) {
	summary := result.Summary

	records := make(map[models.WorkloadRef]models.RemediationRecord, len(result.Records))
	for _, rec := range result.Records {
		records[rec.Workload] = rec
	}

	// NO_ACTION is the normal state of a healthy cluster; only decisions
	// where something was wrong (or suppressed) are worth a block.
	var flagged []models.HealingDecision
	for _, d := range result.Decisions {
		if d.Verdict != models.VerdictNoAction {
			flagged = append(flagged, d)
		}
	}

	if summary.Status == models.StatusFatal {
		fmt.Println("[ERROR] Configured scope is unreadable, nothing was evaluated")
	} else if len(flagged) == 0 {
		fmt.Println("[INFO] No workloads need healing")
	} else {
		fmt.Printf("[INFO] Found %d workload(s) needing attention\n\n", len(flagged))
		fmt.Println("=== Healing Decisions ===")
		fmt.Println()

		for i, d := range flagged {
			fmt.Printf("%d. %s/%s [%s]\n", i+1, d.Workload.Namespace, d.Workload.Name, d.Workload.Kind)
			if d.Sample.PodName != "" {
				fmt.Printf("   Restarts: %d (pod %s)\n", d.Sample.RestartCount, d.Sample.PodName)
			} else {
				fmt.Printf("   Restarts: %d\n", d.Sample.RestartCount)
			}
			if d.Sample.RestartReason != "" {
				fmt.Printf("   Last exit: %s\n", d.Sample.RestartReason)
			}
			fmt.Printf("   Verdict: %s\n", d.Verdict)
			fmt.Printf("   Reason: %s\n", d.Reason)
			if rec, ok := records[d.Workload]; ok {
				if rec.Error != "" {
					fmt.Printf("   Result: %s (%s)\n", rec.Result, rec.Error)
				} else {
					fmt.Printf("   Result: %s\n", rec.Result)
				}
			}
			fmt.Println()
		}
	}

	fmt.Printf("Cycle status: %s\n", summary.Status)
	fmt.Printf("Workloads observed: %d (%d unhealthy)\n", summary.WorkloadsObserved, summary.WorkloadsUnhealthy)
	fmt.Printf("Decisions: %s\n", formatVerdicts(summary.Decisions))
	if len(summary.Remediations) > 0 {
		fmt.Printf("Remediations: %s\n", formatResults(summary.Remediations))
	}
	if len(summary.FailedNamespaces) > 0 {
		fmt.Printf("[WARN] Skipped namespaces: %s\n", strings.Join(summary.FailedNamespaces, ", "))
	}
	fmt.Printf("Duration: %s\n", summary.Duration().Round(time.Millisecond))
}

func outputJSON(result *runner.CycleResult) {
	output := map[string]interface{}{
		"summary":   result.Summary,
		"decisions": result.Decisions,
		"records":   result.Records,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

func formatVerdicts(counts map[models.Verdict]int) string {
	order := []models.Verdict{models.VerdictRemediate, models.VerdictNoAction, models.VerdictSkip}
	parts := make([]string, 0, len(order))
	for _, v := range order {
		if counts[v] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", v, counts[v]))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func formatResults(counts map[models.RemediationResult]int) string {
	order := []models.RemediationResult{models.ResultApplied, models.ResultDryRun, models.ResultSuperseded, models.ResultFailed}
	parts := make([]string, 0, len(order))
	for _, r := range order {
		if counts[r] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", r, counts[r]))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
