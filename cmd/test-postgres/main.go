package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/opscart/k8s-auto-healer/pkg/models"
	"github.com/opscart/k8s-auto-healer/pkg/storage"
)

// Manual round-trip check of the PostgreSQL store against a live database.
func main() {
	dsn := "host=localhost port=5432 user=healer password=devpassword dbname=autohealer sslmode=disable"
	if envDSN := os.Getenv("DATABASE_URL"); envDSN != "" {
		dsn = envDSN
	}

	fmt.Println("[INFO] Connecting to PostgreSQL...")
	store, err := storage.NewPostgresStore(dsn)
	if err != nil {
		fmt.Printf("[ERROR] Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		fmt.Printf("[ERROR] Ping failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("[SUCCESS] Connected to PostgreSQL")

	// Test 1: Save a remediation record
	fmt.Println("\n[TEST 1] Saving remediation record...")
	rec := &models.RemediationRecord{
		Workload: models.WorkloadRef{
			Kind:      models.KindDeployment,
			Namespace: "healer-test",
			Name:      "crashing-app",
		},
		Result:   models.ResultApplied,
		Attempts: 1,
		PodUID:   "00000000-0000-0000-0000-000000000001",
	}
	if err := store.SaveRemediation(ctx, rec); err != nil {
		fmt.Printf("[ERROR] Save failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[SUCCESS] Saved remediation: %s\n", rec.ID)

	// Test 2: List it back
	fmt.Println("\n[TEST 2] Listing remediations...")
	records, err := store.ListRemediations(ctx, "healer-test", 10)
	if err != nil {
		fmt.Printf("[ERROR] List failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[SUCCESS] Found %d record(s)\n", len(records))
	for _, r := range records {
		fmt.Printf("  - %s %s/%s result=%s at %s\n",
			r.ID, r.Workload.Namespace, r.Workload.Name, r.Result, r.Timestamp.Format(time.RFC3339))
	}

	// Test 3: Per-workload history
	fmt.Println("\n[TEST 3] Workload history...")
	history, err := store.WorkloadHistory(ctx, "healer-test", "crashing-app", 10)
	if err != nil {
		fmt.Printf("[ERROR] History failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[SUCCESS] %d record(s) for healer-test/crashing-app\n", len(history))

	// Test 4: Cycle summary round-trip
	fmt.Println("\n[TEST 4] Saving cycle summary...")
	now := time.Now().UTC()
	cycle := &models.CycleSummary{
		StartedAt:          now.Add(-2 * time.Second),
		FinishedAt:         now,
		Status:             models.StatusSuccess,
		WorkloadsObserved:  5,
		WorkloadsUnhealthy: 1,
		Decisions: map[models.Verdict]int{
			models.VerdictRemediate: 1,
			models.VerdictNoAction:  4,
		},
		Remediations: map[models.RemediationResult]int{
			models.ResultApplied: 1,
		},
		Threshold: 3,
		Cooldown:  10 * time.Minute,
	}
	if err := store.SaveCycle(ctx, cycle); err != nil {
		fmt.Printf("[ERROR] Save cycle failed: %v\n", err)
		os.Exit(1)
	}
	cycles, err := store.ListCycles(ctx, 5)
	if err != nil {
		fmt.Printf("[ERROR] List cycles failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[SUCCESS] Saved cycle %s, %d cycle(s) stored\n", cycle.ID, len(cycles))

	fmt.Println("\n[INFO] All tests passed!")
}
