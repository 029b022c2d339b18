package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/jonathan/style-forge/internal/orchestrator"
	"github.com/jonathan/style-forge/internal/server"
)

var (
	serveFlags commonFlags
	servePort  int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Start an HTTP server that exposes endpoints for analyzing an item, streaming outfit generation and editing results.`,
	RunE:  runServe,
}

func init() {
	serveFlags.register(serveCmd)
	serveFlags.registerStyles(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := serveFlags.loadSettings(cmd)
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
	if cfg.DatabaseURL != "" {
		log.Printf("Recording runs to PostgreSQL ledger")
	}

	srv, err := server.New(server.Config{
		Port:           servePort,
		Analyzer:       client,
		Generator:      orchestrator.WithRetry(client, cfg.GenerationRetries+1, cfg.RetryBackoff.Std()),
		Editor:         client,
		Ledger:         ledger,
		Styles:         cfg.StyleSet(),
		TaskTimeout:    cfg.TaskTimeout.Std(),
		EditTimeout:    cfg.EditTimeout.Std(),
		SessionTTL:     cfg.SessionTTL.Std(),
		MaxConcurrency: cfg.MaxConcurrency,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}
