package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rdscope/rdscope-go/internal/criteria"
	"github.com/rdscope/rdscope-go/internal/embed"
)

var criteriaTopK int

var criteriaCmd = &cobra.Command{
	Use:   "criteria [query]",
	Short: "Inspect the HMRC criteria corpus, or query it for relevant passages",
	Long: `Without arguments, lists every passage in the corpus. With a query,
embeds it and prints the most similar passages with their scores.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCriteria,
}

func init() {
	criteriaCmd.Flags().IntVarP(&criteriaTopK, "top", "k", 5, "passages to retrieve for a query")
}

func runCriteria(cmd *cobra.Command, args []string) error {
	corpus, err := criteria.LoadCorpus(cfg.Criteria.CorpusPath)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if len(args) == 0 {
		fmt.Fprintln(w, "ID\tCATEGORY\tSECTION")
		for _, p := range corpus {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Category, p.Section)
		}
		return nil
	}

	embedder, err := embed.NewOpenAIEmbedder(cfg.API.OpenAIKey, cfg.API.EmbeddingModel)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := criteria.Build(ctx, embedder, corpus, cfg.Criteria.CachePath)
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := store.Query(ctx, args[0], criteriaTopK)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "SCORE\tID\tCATEGORY\tTEXT")
	for _, r := range results {
		text := r.Passage.Text
		if len(text) > 80 {
			text = text[:77] + "..."
		}
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n", r.Score, r.Passage.ID, r.Passage.Category, strings.ReplaceAll(text, "\n", " "))
	}
	return nil
}
