// Package main provides the entry point for the web2pdf HTTP API server and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "web2pdf",
	Short: "Webpage to PDF conversion server",
	Long: `web2pdf renders a webpage and, optionally, a bounded set of its same-host subpages
into a single annotated and compressed PDF. It runs as a REST API server or as a one-shot CLI.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML or JSON config file (environment variables override it)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
