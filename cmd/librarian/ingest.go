package main

import (
	"fmt"
	"strings"

	"github.com/hyperengineering/librarian/internal/corpus"
	"github.com/hyperengineering/librarian/internal/retrieval"
	"github.com/hyperengineering/librarian/internal/snapshot"
	"github.com/spf13/cobra"
)

var (
	ingestCorpusPath string
	ingestLenient    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Rebuild the vector index from the corpus",
	Long: `Normalizes every corpus record, embeds it and atomically replaces the
index collection. When snapshot storage is configured the new index is
uploaded afterwards.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCorpusPath, "corpus", "",
		"Corpus JSON file (default: corpus.path from config)")
	ingestCmd.Flags().BoolVar(&ingestLenient, "lenient", false,
		"Keep the last title when several titles share a slug instead of failing")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path := cfg.Corpus.Path
	if ingestCorpusPath != "" {
		path = ingestCorpusPath
	}
	records, err := corpus.Load(path)
	if err != nil {
		return err
	}

	a := newApp(cfg)
	defer a.Close()

	embedder, err := a.loadEmbedder()
	if err != nil {
		return err
	}
	idx, err := a.openIndex()
	if err != nil {
		return err
	}

	report, err := retrieval.Ingest(ctx, embedder, idx, records, retrieval.IngestOptions{
		Collection:  cfg.Index.Collection,
		StrictSlugs: cfg.Ingest.StrictSlugs && !ingestLenient,
	})
	if err != nil {
		return err
	}

	uploader, err := snapshot.NewUploader(cfg.Snapshot)
	if err != nil {
		return err
	}
	key, err := snapshot.Publish(ctx, idx, uploader, report.Collection, report.Generation)
	if err != nil {
		return fmt.Errorf("index rebuilt but snapshot upload failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"collection":   report.Collection,
			"generation":   report.Generation,
			"documents":    report.Documents,
			"collisions":   len(report.Collisions),
			"model":        embedder.ModelName(),
			"snapshot_key": key,
		})
	}

	fmt.Fprintf(out, "Collection: %s\n", report.Collection)
	fmt.Fprintf(out, "Generation: %s\n", report.Generation)
	fmt.Fprintf(out, "Documents:  %d\n", report.Documents)
	fmt.Fprintf(out, "Model:      %s\n", embedder.ModelName())
	for _, c := range report.Collisions {
		fmt.Fprintf(out, "Collision:  %s (%s)\n", c.ID, strings.Join(c.Titles, " | "))
	}
	if key != "" {
		fmt.Fprintf(out, "Snapshot:   %s\n", key)
	}
	return nil
}
