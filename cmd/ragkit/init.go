//go:build cgo

package main

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/ragkit/internal/embeddings"
	"github.com/spf13/cobra"
)

var forceDownload bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&forceDownload, "force", "f", false, "Force re-download even if ONNX runtime exists")
}

// initCmd installs the ONNX runtime used by the fastembed provider.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Download the ONNX runtime for local embeddings",
	Long: `Download the ONNX runtime library required for local embeddings with
FastEmbed. The library is installed to:
  ~/.cache/ragkit/lib/

If the ONNX_PATH environment variable is set, that path takes precedence.
Commands that embed text run this automatically on first use.

Examples:
  ragkit init
  ragkit init --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if !forceDownload {
		if path := embeddings.GetONNXLibraryPath(); path != "" {
			fmt.Fprintf(out, "ONNX runtime already installed at: %s\n", path)
			fmt.Fprintln(out, "Use --force to re-download.")
			return nil
		}
	}

	fmt.Fprintf(out, "Downloading ONNX runtime v%s...\n", embeddings.DefaultONNXRuntimeVersion)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := embeddings.DownloadONNXRuntime(ctx, ""); err != nil {
		return fmt.Errorf("failed to download ONNX runtime: %w", err)
	}

	path := embeddings.GetONNXLibraryPath()
	if path == "" {
		return fmt.Errorf("download completed but library not found")
	}
	fmt.Fprintf(out, "Installed ONNX runtime to: %s\n", path)
	return nil
}
