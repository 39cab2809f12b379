// Package main implements the ragkit CLI: load documents into a vector
// store, query them with metadata filters and build RAG prompts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// version information, set via -ldflags
	version = "dev"
	commit  = "none"

	configPath     string
	collectionName string
	logLevel       string
	metricsFile    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ragkit",
	Short: "Retrieval toolkit for local document collections",
	Long: `ragkit stores documents with their embeddings and answers similarity
queries with optional exact-match metadata filters. It can assemble the
retrieved documents into a RAG prompt for a language model.

Documents are embedded locally with FastEmbed by default and persisted in an
embedded chromem-go store. Qdrant, TEI and OpenAI are available through the
config file or RAGKIT_* environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.config/ragkit/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&collectionName, "collection", "", "collection name (default from config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ragkit %s (commit %s)\n", version, commit)
	},
}
