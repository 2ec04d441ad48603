package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/opscart/k8s-auto-healer/pkg/datasource"
)

// Manual check of the Prometheus datasource against a live server.
// Needs kube-state-metrics scraped so restart counters exist.
func main() {
	prometheusURL := "http://localhost:9090"
	if url := os.Getenv("PROMETHEUS_URL"); url != "" {
		prometheusURL = url
	}
	namespace := "default"
	if ns := os.Getenv("NAMESPACE"); ns != "" {
		namespace = ns
	}
	lookback := time.Hour
	if v := os.Getenv("LOOKBACK"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Printf("[ERROR] Invalid LOOKBACK: %v\n", err)
			os.Exit(1)
		}
		lookback = d
	}

	fmt.Println("[INFO] Connecting to Prometheus:", prometheusURL)

	source, err := datasource.NewPrometheusSource(prometheusURL)
	if err != nil {
		fmt.Printf("[ERROR] Failed to create Prometheus source: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if !source.IsAvailable(ctx) {
		fmt.Println("[ERROR] Prometheus is not available")
		os.Exit(1)
	}
	fmt.Println("[INFO] Prometheus is available")

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("Restart trend for namespace %q over %s\n", namespace, lookback)
	fmt.Println(strings.Repeat("=", 80) + "\n")

	trend, err := source.RestartTrend(ctx, namespace, lookback)
	if err != nil {
		fmt.Printf("[ERROR] Query failed: %v\n", err)
		os.Exit(1)
	}

	if len(trend) == 0 {
		fmt.Println("No restart data returned (is kube-state-metrics being scraped?)")
	}

	pods := make([]string, 0, len(trend))
	for pod := range trend {
		pods = append(pods, pod)
	}
	sort.Strings(pods)

	for _, pod := range pods {
		marker := ""
		if trend[pod] > 0 {
			marker = "  <- restarting"
		}
		fmt.Printf("  %-60s %+6.1f%s\n", pod, trend[pod], marker)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("[INFO] Test complete!")
}
