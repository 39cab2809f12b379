package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(collectionsCmd)
	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(collectionsDeleteCmd)
}

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List and delete collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections with their document counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			names, err := a.store.ListCollections(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "No collections.")
				return nil
			}
			for _, name := range names {
				col, err := a.store.GetCollection(ctx, name)
				if err != nil {
					return err
				}
				count, err := col.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%d\n", name, count)
			}
			return nil
		})
	},
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection and all its documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.store.DeleteCollection(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted collection %s\n", args[0])
			return nil
		})
	},
}
