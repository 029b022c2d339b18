package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/style-forge/internal/db"
	"github.com/jonathan/style-forge/internal/observability"
	"github.com/jonathan/style-forge/internal/orchestrator"
	"github.com/jonathan/style-forge/internal/types"
)

var generateCommand = &cobra.Command{
	Use:   "generate",
	Short: "Analyze an item photo and generate one outfit image per style",
	Long: `Analyzes the clothing item in --image, then generates a flat-lay outfit for every
selected style concurrently. Each finished image is written to --out as
style-forge-<style>.png. A failed style does not stop the others.`,
	RunE: runGenerate,
}

var (
	generateFlags  commonFlags
	generateImage  string
	generateOutDir string
)

func init() {
	generateFlags.register(generateCommand)
	generateFlags.registerStyles(generateCommand)
	generateCommand.Flags().StringVarP(&generateImage, "image", "i", "", "Path or URL of the clothing item photo (product pages are followed to their image)")
	generateCommand.Flags().StringVarP(&generateOutDir, "out", "o", "", "Output directory (default \"outfits\")")
	_ = generateCommand.MarkFlagRequired("image")

	rootCmd.AddCommand(generateCommand)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := generateFlags.loadSettings(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("out") {
		cfg.OutputDir = generateOutDir
	}

	source, err := readArtifact(ctx, generateImage)
	if err != nil {
		return err
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ledger, closeLedger, err := openLedger(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}
	defer closeLedger()

	logger := log.New(io.Discard, "", 0)
	if cfg.Verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	gen := orchestrator.WithRetry(client, cfg.GenerationRetries+1, cfg.RetryBackoff.Std())
	orch := orchestrator.New(gen,
		orchestrator.WithTaskTimeout(cfg.TaskTimeout.Std()),
		orchestrator.WithMaxConcurrency(cfg.MaxConcurrency),
		orchestrator.WithLogger(logger),
	)

	job := generateJob{
		analyzer: client,
		orch:     orch,
		ledger:   ledger,
		styles:   cfg.StyleSet(),
		outDir:   cfg.OutputDir,
		out:      cmd.OutOrStdout(),
		verbose:  cfg.Verbose,
	}
	return job.run(ctx, source)
}

// generateJob is one CLI generation: analyze, fan out, write every success to disk.
type generateJob struct {
	analyzer types.Analyzer
	orch     *orchestrator.Orchestrator
	ledger   db.Ledger
	styles   []types.Style
	outDir   string
	out      io.Writer
	verbose  bool
}

//nolint:errcheck // progress output to stdout
func (j *generateJob) run(ctx context.Context, source types.Artifact) error {
	printer := observability.NewPrinter(j.out)

	fmt.Fprintf(j.out, "Analyzing item (%d bytes, %s)...\n", source.Size(), source.MIMEType)
	analysis, err := j.analyzer.Analyze(ctx, source)
	if err != nil {
		return err
	}
	if j.verbose {
		printer.PrintAnalysis(analysis)
	} else {
		fmt.Fprintf(j.out, "Item: %s\n", analysis.ItemDescription)
	}

	run, err := j.orch.StartRun(ctx, source, analysis.Requests(j.styles))
	if err != nil {
		return err
	}
	j.record(ctx, func(ctx context.Context) error {
		return j.ledger.RecordRun(ctx, db.RunInput{
			RunID:           run.ID,
			SourceMIMEType:  source.MIMEType,
			SourceBytes:     source.Size(),
			ItemDescription: analysis.ItemDescription,
			TaskCount:       run.Len(),
		})
	})

	fmt.Fprintf(j.out, "Generating %d styles...\n", run.Len())
	var writeErrs []error
	for u := range run.Updates() {
		j.record(ctx, func(ctx context.Context) error { return j.ledger.RecordTask(ctx, run.ID, u.Task) })

		task := u.Task
		switch task.Status {
		case types.StatusInFlight:
			if j.verbose {
				fmt.Fprintf(j.out, "  … %s\n", task.Style.Label())
			}
		case types.StatusFailed:
			fmt.Fprintf(j.out, "  ✗ %s: %s\n", task.Style.Label(), task.Error)
		case types.StatusSucceeded:
			path := outputPath(j.outDir, task.Style, *task.Result)
			if err := writeArtifact(path, *task.Result); err != nil {
				writeErrs = append(writeErrs, err)
				fmt.Fprintf(j.out, "  ✗ %s: %v\n", task.Style.Label(), err)
				continue
			}
			fmt.Fprintf(j.out, "  ✓ %s → %s\n", task.Style.Label(), path)
		}
	}

	tasks := run.Snapshot()
	counts := run.Counts()
	j.record(ctx, func(ctx context.Context) error {
		return j.ledger.CompleteRun(ctx, run.ID, db.RunStatus(counts.Succeeded, counts.Failed, run.Cancelled()))
	})

	if j.verbose {
		printer.PrintTasks(tasks)
		printer.PrintFailures(tasks)
	}
	fmt.Fprintf(j.out, "Done: %s\n", run.Summary())

	if len(writeErrs) > 0 {
		return writeErrs[0]
	}
	if counts.Succeeded == 0 && run.Len() > 0 {
		return fmt.Errorf("every style failed")
	}
	return nil
}

func (j *generateJob) record(ctx context.Context, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		log.Printf("[ledger] %v", err)
	}
}
