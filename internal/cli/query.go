package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"priorart/internal/domain"
)

var (
	queryText     string
	queryTopK     int
	queryJSON     bool
	querySections []string
	queryClass    string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search ingested patents",
	Long: `Search for relevant patent passages using fused BM25 and embedding retrieval.

Examples:
  priorart query -q "liquid cooled battery module"
  priorart query -q "slew drive" --section claims --class H02S -k 10 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	addQueryFlags(queryCmd, &queryText, &queryTopK, &querySections, &queryClass)
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
}

func addQueryFlags(cmd *cobra.Command, text *string, topK *int, sections *[]string, class *string) {
	cmd.Flags().StringVarP(text, "query", "q", "", "search query (required)")
	cmd.Flags().IntVarP(topK, "top-k", "k", 0, "number of results (default from config)")
	cmd.Flags().StringSliceVar(sections, "section", nil, "restrict to sections (repeatable)")
	cmd.Flags().StringVar(class, "class", "", "restrict to a CPC class")
	cmd.MarkFlagRequired("query")
}

func buildQuery(text string, topK int, sections []string, class string) domain.Query {
	k := GetConfig().Retrieve.TopK
	if topK > 0 {
		k = topK
	}
	return domain.Query{
		Text:    text,
		K:       k,
		Filters: domain.Filters{Sections: sections, Class: class},
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := openEngine(ctx, GetRootDir(), GetConfig(), logger)
	if err != nil {
		return err
	}
	defer e.Close()

	q := buildQuery(queryText, queryTopK, querySections, queryClass)
	results, err := e.retriever.Retrieve(ctx, q)
	if err != nil {
		return fmt.Errorf("search failed [%s]: %w", domain.Classify(err), err)
	}

	if queryJSON {
		output, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(results), queryText)
	for i, r := range results {
		fmt.Printf("--- [%d] %s %s [%d:%d] (score: %.3f) ---\n", i+1, r.DocumentID, r.Section, r.Start, r.End, r.Score)
		if r.Title != "" {
			fmt.Println(r.Title)
		}
		// Truncate long text for display
		text := []rune(r.Text)
		if len(text) > 500 {
			text = append(text[:500], []rune("...")...)
		}
		fmt.Println(string(text))
		fmt.Println()
	}
	return nil
}
