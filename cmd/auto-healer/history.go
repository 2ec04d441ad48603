package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/opscart/k8s-auto-healer/pkg/log"
	"github.com/opscart/k8s-auto-healer/pkg/models"
	"github.com/spf13/cobra"
)

func runHistory(cmd *cobra.Command, args []string) {
	checkOutputFormat()

	var err error
	cfg, err = buildConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Init(logConfig(cfg))

	namespace := ""
	if len(args) > 0 {
		namespace = args[0]
	}
	if historyWorkload != "" && namespace == "" {
		fmt.Fprintln(os.Stderr, "Error: --workload requires a namespace argument")
		os.Exit(1)
	}

	if err := initStorageForced(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	var records []*models.RemediationRecord
	if historyWorkload != "" {
		records, err = store.WorkloadHistory(ctx, namespace, historyWorkload, historyLimit)
	} else {
		records, err = store.ListRemediations(ctx, namespace, historyLimit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if outputFormat == "json" {
		output := map[string]interface{}{
			"remediations": records,
			"count":        len(records),
			"timestamp":    time.Now().Format(time.RFC3339),
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(output); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(records) == 0 {
		if namespace == "" {
			fmt.Println("No remediations recorded")
		} else {
			fmt.Printf("No remediations recorded for namespace: %s\n", namespace)
		}
		return
	}

	switch {
	case historyWorkload != "":
		fmt.Printf("Recent remediations for %s/%s:\n\n", namespace, historyWorkload)
	case namespace != "":
		fmt.Printf("Recent remediations for namespace '%s':\n\n", namespace)
	default:
		fmt.Println("Recent remediations:")
		fmt.Println()
	}

	for i, rec := range records {
		fmt.Printf("%d. %s/%s [%s]\n", i+1, rec.Workload.Namespace, rec.Workload.Name, rec.Workload.Kind)
		fmt.Printf("   Result: %s\n", rec.Result)
		if rec.Attempts > 0 {
			fmt.Printf("   Attempts: %d\n", rec.Attempts)
		}
		if rec.Error != "" {
			fmt.Printf("   Error: %s\n", rec.Error)
		}
		fmt.Printf("   When: %s (ID: %s)\n", rec.Timestamp.Format("2006-01-02 15:04:05"), rec.ID)
		fmt.Println()
	}
}

func runCycles(cmd *cobra.Command, args []string) {
	checkOutputFormat()

	var err error
	cfg, err = buildConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Init(logConfig(cfg))

	if err := initStorageForced(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	cycles, err := store.ListCycles(ctx, cyclesLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if outputFormat == "json" {
		output := map[string]interface{}{
			"cycles":    cycles,
			"count":     len(cycles),
			"timestamp": time.Now().Format(time.RFC3339),
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(output); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(cycles) == 0 {
		fmt.Println("No cycles recorded")
		return
	}

	fmt.Println("Recent evaluation cycles:")
	fmt.Println()
	for i, c := range cycles {
		fmt.Printf("%d. %s  %s\n", i+1, c.StartedAt.Format("2006-01-02 15:04:05"), c.Status)
		fmt.Printf("   Observed: %d workload(s), %d unhealthy\n", c.WorkloadsObserved, c.WorkloadsUnhealthy)
		fmt.Printf("   Decisions: %s\n", formatVerdicts(c.Decisions))
		if results := formatResults(c.Remediations); results != "none" {
			fmt.Printf("   Remediations: %s\n", results)
		}
		if len(c.FailedNamespaces) > 0 {
			fmt.Printf("   Skipped namespaces: %s\n", strings.Join(c.FailedNamespaces, ", "))
		}
		if c.DryRun {
			fmt.Println("   Dry-run")
		}
		fmt.Printf("   Duration: %s (ID: %s)\n", c.Duration().Round(time.Millisecond), c.ID)
		fmt.Println()
	}
}
