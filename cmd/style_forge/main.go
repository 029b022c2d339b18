// Package main provides the style_forge command line: generate styled outfits from a
// single clothing photo, edit them, or serve the same workflow over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "style_forge",
	Short: "Style Forge outfit generator",
	Long:  "Style Forge analyzes a photo of one clothing item, generates a flat-lay outfit image for each style concurrently, and lets you refine any result with prompt-driven edits and undo/redo.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
