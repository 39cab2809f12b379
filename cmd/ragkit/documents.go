package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/ragkit/internal/corpus"
	"github.com/fyrsmithlabs/ragkit/internal/logging"
	"github.com/fyrsmithlabs/ragkit/internal/rag"
	"github.com/fyrsmithlabs/ragkit/internal/vectorstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	addCorpus  string
	addBuiltin string

	queryN     int
	queryWhere []string
	queryJSON  bool

	getJSON bool

	updateMeta []string

	promptN     int
	promptWhere []string
)

func init() {
	rootCmd.AddCommand(addCmd, queryCmd, getCmd, updateCmd, promptCmd)

	addCmd.Flags().StringVar(&addCorpus, "corpus", "", "TOML corpus file to add")
	addCmd.Flags().StringVar(&addBuiltin, "builtin", "", "embedded corpus to add: basic or advanced")
	addCmd.MarkFlagsOneRequired("corpus", "builtin")
	addCmd.MarkFlagsMutuallyExclusive("corpus", "builtin")

	queryCmd.Flags().IntVarP(&queryN, "n-results", "n", rag.DefaultNResults, "number of results per query")
	queryCmd.Flags().StringArrayVarP(&queryWhere, "where", "w", nil, "metadata filter key=value (repeatable, all must match)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the raw result as JSON")

	getCmd.Flags().BoolVar(&getJSON, "json", false, "print documents as JSON")

	updateCmd.Flags().StringArrayVarP(&updateMeta, "meta", "m", nil, "metadata key=value (repeatable); replaces all existing metadata")
	_ = updateCmd.MarkFlagRequired("meta")

	promptCmd.Flags().IntVarP(&promptN, "n-results", "n", rag.DefaultNResults, "number of context documents")
	promptCmd.Flags().StringArrayVarP(&promptWhere, "where", "w", nil, "metadata filter key=value (repeatable, all must match)")
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add documents from a TOML corpus",
	Long: `Add the documents of a corpus file to a collection, creating the
collection when missing. The corpus names its collection; --collection
overrides it.

Corpus format:
  collection = "notes"

  [[documents]]
  id = "doc1"
  text = "The sky is blue."
  [documents.metadata]
  source = "example"

Examples:
  ragkit add --corpus notes.toml
  ragkit add --builtin advanced --collection scratch`,
	Args: cobra.NoArgs,
	RunE: runAdd,
}

func runAdd(cmd *cobra.Command, _ []string) error {
	var (
		c   *corpus.Corpus
		err error
	)
	if addBuiltin != "" {
		c, err = corpus.Builtin(addBuiltin)
	} else {
		c, err = corpus.LoadFile(addCorpus)
	}
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		name := c.Collection
		if collectionName != "" {
			name = collectionName
		}
		ctx = logging.WithCollection(ctx, name)

		col, err := a.store.GetOrCreateCollection(ctx, name)
		if err != nil {
			return err
		}
		ids, texts, metas := c.Columns()
		if err := col.Add(ctx, ids, texts, metas); err != nil {
			return err
		}

		a.logger.Info(ctx, "added documents", zap.Int("count", len(ids)))
		fmt.Fprintf(cmd.OutOrStdout(), "Added %d documents to %s\n", len(ids), name)
		return nil
	})
}

var queryCmd = &cobra.Command{
	Use:   "query <text>...",
	Short: "Find the documents closest to each query text",
	Long: `Embed each query text and print the closest documents by ascending
distance. --where restricts candidates to documents whose metadata has every
given key with exactly the given value.

Examples:
  ragkit query "What are the recent developments in quantum physics?" -n 2 --where topic=quantum
  ragkit query "climate" --where category=science --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	where, err := parseKV(queryWhere)
	if err != nil {
		return fmt.Errorf("--where: %w", err)
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		col, err := a.store.GetCollection(ctx, a.collection())
		if err != nil {
			return err
		}
		res, err := col.Query(ctx, vectorstore.QueryRequest{
			Texts:    args,
			Where:    where,
			NResults: queryN,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if queryJSON {
			return writeJSON(out, res)
		}
		for i, text := range args {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, "Query:", text)
			matches := res.Matches(i)
			if len(matches) == 0 {
				fmt.Fprintln(out, "  (no matches)")
			}
			for rank, m := range matches {
				fmt.Fprintf(out, "%2d. [%s] %s (distance: %.4f) %s\n",
					rank+1, m.ID, m.Text, m.Distance, formatMetadata(m.Metadata))
			}
		}
		return nil
	})
}

var getCmd = &cobra.Command{
	Use:   "get <id>...",
	Short: "Print documents by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			col, err := a.store.GetCollection(ctx, a.collection())
			if err != nil {
				return err
			}
			docs, err := col.Get(ctx, args...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if getJSON {
				return writeJSON(out, docs)
			}
			for _, d := range docs {
				fmt.Fprintf(out, "%s\t%s\t%s\n", d.ID, d.Text, formatMetadata(d.Metadata))
			}
			return nil
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Replace a document's metadata",
	Long: `Replace the metadata of an existing document. Text and embedding are
left unchanged. Keys not given are removed.

Examples:
  ragkit update doc3 --meta topic=climate --meta category=science`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := parseKV(updateMeta)
		if err != nil {
			return fmt.Errorf("--meta: %w", err)
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			col, err := a.store.GetCollection(ctx, a.collection())
			if err != nil {
				return err
			}
			if err := col.Update(ctx, args, []map[string]string{meta}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s %s\n", args[0], formatMetadata(meta))
			return nil
		})
	},
}

var promptCmd = &cobra.Command{
	Use:   "prompt <question>",
	Short: "Build a RAG prompt from the closest documents",
	Long: `Retrieve the documents closest to the question and print a prompt of
the form:

  Question: <question>

  Context 1: <closest document>

  Context 2: <next document>

  Answer:

Examples:
  ragkit prompt "What are the recent developments in quantum physics?" -n 3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		where, err := parseKV(promptWhere)
		if err != nil {
			return fmt.Errorf("--where: %w", err)
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			col, err := a.store.GetCollection(ctx, a.collection())
			if err != nil {
				return err
			}
			o, err := rag.NewOrchestrator(col, a.logger.Component("rag").Scoped(ctx))
			if err != nil {
				return err
			}
			prompt, matches, err := o.Prompt(ctx, args[0], where, promptN)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				a.logger.Warn(ctx, "no context retrieved", zap.String("collection", col.Name()))
			}
			fmt.Fprintln(cmd.OutOrStdout(), prompt)
			return nil
		})
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}
