package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/hyperengineering/librarian/internal/snapshot"
	"github.com/spf13/cobra"
)

var dropForce bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect and manage the vector index",
}

var indexInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the active generation of the collection",
	Args:  cobra.NoArgs,
	RunE:  runIndexInfo,
}

var indexDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete the collection and all of its documents",
	Args:  cobra.NoArgs,
	RunE:  runIndexDrop,
}

var indexURLCmd = &cobra.Command{
	Use:   "url",
	Short: "Print a presigned download URL for the latest published snapshot",
	Args:  cobra.NoArgs,
	RunE:  runIndexURL,
}

func init() {
	indexDropCmd.Flags().BoolVar(&dropForce, "force", false,
		"Skip confirmation prompt")

	indexCmd.AddCommand(indexInfoCmd, indexDropCmd, indexURLCmd)
	rootCmd.AddCommand(indexCmd)
}

func runIndexInfo(cmd *cobra.Command, args []string) error {
	a := newApp(cfg)
	defer a.Close()

	idx, err := a.openIndex()
	if err != nil {
		return err
	}
	info, err := idx.Info(cmd.Context(), cfg.Index.Collection)
	if err != nil {
		return err
	}
	schemaVersion, err := idx.SchemaVersion()
	if err != nil {
		return err
	}

	var sizeBytes int64
	if st, statErr := os.Stat(idx.Path()); statErr == nil {
		sizeBytes = st.Size()
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"collection":     info.Collection,
			"metric":         info.Metric,
			"generation":     info.Generation,
			"documents":      info.Count,
			"ids":            info.IDs,
			"updated_at":     info.UpdatedAt,
			"schema_version": schemaVersion,
			"size_bytes":     sizeBytes,
			"path":           idx.Path(),
		})
	}

	fmt.Fprintf(out, "Collection: %s\n", info.Collection)
	fmt.Fprintf(out, "Metric:     %s\n", info.Metric)
	fmt.Fprintf(out, "Generation: %s\n", info.Generation)
	fmt.Fprintf(out, "Documents:  %d\n", info.Count)
	fmt.Fprintf(out, "Updated:    %s\n", info.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "Size:       %s\n", formatSize(sizeBytes))
	fmt.Fprintf(out, "Schema:     v%d\n", schemaVersion)
	fmt.Fprintf(out, "Path:       %s\n", idx.Path())
	return nil
}

func runIndexDrop(cmd *cobra.Command, args []string) error {
	collection := cfg.Index.Collection

	// Interactive confirmation unless --force
	if !dropForce {
		errOut := cmd.ErrOrStderr()
		fmt.Fprintf(errOut, "WARNING: This will permanently delete collection %q.\n", collection)
		fmt.Fprint(errOut, "Type the collection name to confirm: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}

		if strings.TrimSpace(input) != collection {
			fmt.Fprintln(errOut, "Aborted. Collection name did not match.")
			return nil
		}
	}

	a := newApp(cfg)
	defer a.Close()

	idx, err := a.openIndex()
	if err != nil {
		return err
	}
	if err := idx.Drop(cmd.Context(), collection); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"collection": collection,
			"dropped":    true,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Dropped collection %q\n", collection)
	return nil
}

func runIndexURL(cmd *cobra.Command, args []string) error {
	uploader, err := snapshot.NewUploader(cfg.Snapshot)
	if err != nil {
		return err
	}

	url, expires, err := uploader.PresignedURL(cmd.Context(), cfg.Index.Collection)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"url":        url,
			"expires_at": expires,
		})
	}

	fmt.Fprintln(out, url)
	return nil
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
