package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var postgresURL string

var rootCmd = &cobra.Command{
	Use:           "stepsctl",
	Short:         "Ingest health exports and inspect step trends",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&postgresURL, "postgres-url", "", "Postgres connection string (defaults to POSTGRES_URL)")
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(trendsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
