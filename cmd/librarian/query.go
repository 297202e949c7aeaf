package main

import (
	"fmt"
	"strings"

	"github.com/hyperengineering/librarian/internal/librarian"
	"github.com/spf13/cobra"
)

var (
	queryTopK   int
	speakTarget string
	speakVoice  string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "List the corpus books closest to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var recommendCmd = &cobra.Command{
	Use:   "recommend <query>",
	Short: "Recommend one book for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecommend,
}

var summaryCmd = &cobra.Command{
	Use:   "summary <title>",
	Short: "Print the full corpus summary of a title",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSummary,
}

var moderateCmd = &cobra.Command{
	Use:   "moderate <text>",
	Short: "Run text through the moderation gate",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runModerate,
}

func init() {
	searchCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0,
		"Maximum candidates (default: retrieval.top_k from config)")
	recommendCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0,
		"Maximum candidates (default: retrieval.top_k from config)")
	recommendCmd.Flags().StringVar(&speakTarget, "speak", "",
		"Also synthesize audio: recommendation or summary")
	recommendCmd.Flags().StringVar(&speakVoice, "voice", "",
		"Voice used with --speak (default: speech.voice from config)")

	rootCmd.AddCommand(searchCmd, recommendCmd, summaryCmd, moderateCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	a := newApp(cfg)
	defer a.Close()

	r, err := a.retriever()
	if err != nil {
		return err
	}
	results, err := r.Search(cmd.Context(), query, queryTopK)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"query":        query,
			"max_distance": r.MaxDistance(),
			"results":      results,
		})
	}

	if len(results) == 0 {
		fmt.Fprintln(out, librarian.MessageNoMatch)
		return nil
	}

	tw := newTabWriter(out)
	fmt.Fprintln(tw, "RANK\tDISTANCE\tID\tTITLE")
	for i, res := range results {
		fmt.Fprintf(tw, "%d\t%.4f\t%s\t%s\n", i+1, res.Distance, res.ID, res.Title)
	}
	return tw.Flush()
}

func runRecommend(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	a := newApp(cfg)
	defer a.Close()

	resolver, err := a.resolver()
	if err != nil {
		return err
	}
	gate, err := a.gate()
	if err != nil {
		return err
	}
	synth, err := a.synthesizer()
	if err != nil {
		return err
	}
	lib, err := a.newLibrarian(gate, resolver, synth)
	if err != nil {
		return err
	}

	outcome, err := lib.Turn(cmd.Context(), query, librarian.Options{
		TopK:  queryTopK,
		Speak: speakTarget,
		Voice: speakVoice,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, outcome)
	}

	fmt.Fprintln(out, outcome.Message())
	if outcome.AudioPath != "" {
		fmt.Fprintf(out, "\nAudio: %s\n", outcome.AudioPath)
	}
	if outcome.AudioError != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "audio unavailable: %s\n", outcome.AudioError)
	}
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	title := strings.Join(args, " ")

	resolver, err := newApp(cfg).resolver()
	if err != nil {
		return err
	}

	text, ok := resolver.Resolve(title)
	if !ok {
		return fmt.Errorf("no summary for %q", title)
	}
	canonical, _ := resolver.Canonical(title)

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"requested_title": title,
			"title":           canonical,
			"summary":         text,
		})
	}

	fmt.Fprintf(out, "%s\n\n%s\n", canonical, text)
	return nil
}

func runModerate(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

	gate, err := newApp(cfg).gate()
	if err != nil {
		return err
	}
	result := gate.Check(cmd.Context(), text)

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, result)
	}

	verdict := "allowed"
	if result.Flagged {
		verdict = "flagged"
	}
	fmt.Fprintf(out, "Verdict:    %s\n", verdict)
	fmt.Fprintf(out, "Provider:   %s\n", result.Provider)
	if len(result.Categories) > 0 {
		fmt.Fprintf(out, "Categories: %s\n", strings.Join(result.Categories, ", "))
	}
	if result.Error != "" {
		fmt.Fprintf(out, "Error:      %s\n", result.Error)
	}
	return nil
}
