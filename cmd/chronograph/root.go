package main

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "chronograph",
		Short: "Chronograph: temporal knowledge graph service",
		Long: `Chronograph builds temporally-aware knowledge graphs from episodic input.

Episodes are processed asynchronously through LLM entity and fact extraction,
deduplicated against the existing graph, and persisted with bi-temporal edge
intervals. Retrieval fuses vector and lexical candidates by reciprocal rank
and traces every result back to its source episodes.`,
		SilenceUsage: true,
	}
)

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}
