// Command ledger_report prints what the run ledger recorded for one run: the run
// header followed by the final state of each style task.
//
// Usage:
//
//	go run ./cmd/tools/ledger_report <run-id>
//
// Requires DATABASE_URL environment variable to be set.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonathan/style-forge/internal/db"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: ledger_report <run-id>")
		os.Exit(2)
	}
	runID := os.Args[1]

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "ERROR: DATABASE_URL environment variable not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	run, err := database.GetRun(ctx, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	if run == nil {
		fmt.Fprintf(os.Stderr, "ERROR: run %s not found\n", runID)
		os.Exit(1)
	}

	tasks, err := database.ListTasks(ctx, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Run %s ===\n", run.ID)
	fmt.Printf("Item:     %s\n", run.ItemDescription)
	fmt.Printf("Source:   %s, %d bytes\n", run.SourceMIMEType, run.SourceBytes)
	fmt.Printf("Status:   %s\n", run.Status)
	fmt.Printf("Started:  %s\n", run.CreatedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Printf("Finished: %s (%s)\n", run.CompletedAt.Format(time.RFC3339), run.CompletedAt.Sub(run.CreatedAt).Round(time.Millisecond))
	}
	fmt.Println()

	for _, t := range tasks {
		switch t.Status {
		case "succeeded":
			fmt.Printf("  ✓ %-11s %d bytes\n", t.Style, t.ResultBytes)
		case "failed":
			fmt.Printf("  ✗ %-11s %s\n", t.Style, t.Error)
		default:
			fmt.Printf("  … %-11s %s\n", t.Style, t.Status)
		}
	}
	fmt.Printf("\n%d of %d tasks recorded\n", len(tasks), run.TaskCount)
}
