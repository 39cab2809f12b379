package main

import (
	"context"

	"github.com/fyrsmithlabs/ragkit/internal/demo"
	"github.com/spf13/cobra"
)

var demoReset bool

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.AddCommand(demoBasicCmd)
	demoCmd.AddCommand(demoAdvancedCmd)

	demoCmd.PersistentFlags().BoolVar(&demoReset, "reset", false, "delete the demo collection before loading it")
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the retrieval walkthroughs",
	Long: `Run one of the built-in walkthroughs against the configured store.

Each demo creates its own collection (real_docs or advanced_docs). Running a
demo twice against the same store fails because the collection already
exists; pass --reset to start over.`,
}

var demoBasicCmd = &cobra.Command{
	Use:   "basic",
	Short: "Add three documents and retrieve the closest one",
	Long: `Add three example documents to "real_docs" and print the document
closest to "What should I do today?" with its distance.

Examples:
  ragkit demo basic
  ragkit demo basic --reset`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return demo.Basic(ctx, a.store, cmd.OutOrStdout(), demo.Options{
				Reset:  demoReset,
				Logger: a.logger.Component("demo").Scoped(ctx),
			})
		})
	},
}

var demoAdvancedCmd = &cobra.Command{
	Use:   "advanced",
	Short: "Metadata filtering, prompt construction and metadata update",
	Long: `Add five documents tagged with topic and category to "advanced_docs", then:

  1. query with a topic=quantum filter
  2. build a RAG prompt from the three closest documents
  3. query before and after reclassifying doc3 as science

Examples:
  ragkit demo advanced --reset`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return demo.Advanced(ctx, a.store, cmd.OutOrStdout(), demo.Options{
				Reset:  demoReset,
				Logger: a.logger.Component("demo").Scoped(ctx),
			})
		})
	},
}
