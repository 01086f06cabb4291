// visctl is the operator CLI for the visibility engine HTTP API.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var apiURL string

var rootCmd = &cobra.Command{
	Use:   "visctl",
	Short: "Operate the dealership visibility engine",
	Long:  "Submits bulk analysis jobs, tracks their progress, and inspects the tiered cache over the engine's HTTP API.",
}

func init() {
	defaultURL := os.Getenv("DEALEREDGE_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "base URL of the engine API")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
