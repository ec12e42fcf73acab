package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"priorart/internal/adapter/fs"
	"priorart/internal/domain"
	"priorart/internal/usecase"
)

var (
	evalCorpus string
	evalTopK   int
	evalJSON   bool
)

var evalCmd = &cobra.Command{
	Use:   "eval <cases.yaml>",
	Short: "Measure retrieval quality on labelled queries",
	Long: `Run each labelled query and report precision, recall, MRR, nDCG and latency.
The cases file is a YAML list:

  - query: "liquid cooled battery module"
    relevant: [US1]
    filters: {sections: [claims]}

Examples:
  priorart eval cases.yaml
  priorart eval cases.yaml --corpus ./patents --json`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().StringVar(&evalCorpus, "corpus", "", "ingest this directory before evaluating")
	evalCmd.Flags().IntVarP(&evalTopK, "top-k", "k", 0, "default k for cases without one (default from config)")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "output as JSON")
}

func loadEvalCases(path string) ([]usecase.EvalCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cases []usecase.EvalCase
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cases, nil
}

func runEval(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	cases, err := loadEvalCases(args[0])
	if err != nil {
		return err
	}

	e, err := openEngine(ctx, GetRootDir(), cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	if evalCorpus != "" {
		walker, err := fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes)
		if err != nil {
			return err
		}
		docs, loadErrors, err := loadDocuments(ctx, walker, fs.NewLoader(), evalCorpus)
		if err != nil {
			return err
		}
		for _, le := range loadErrors {
			logger.Warn().Err(le).Msg("skipping document")
		}
		if _, err := e.ingest.Ingest(ctx, docs); err != nil && !errors.Is(err, domain.ErrPartialIngestion) {
			return fmt.Errorf("ingestion failed: %w", err)
		}
	}

	k := cfg.Retrieve.TopK
	if evalTopK > 0 {
		k = evalTopK
	}
	report, err := usecase.NewEvalUseCase(e.retriever, k, logger).Evaluate(ctx, cases)
	if err != nil {
		return err
	}

	if evalJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	for _, c := range report.Cases {
		if c.Err != "" {
			fmt.Printf("FAIL  %-40q %s\n", c.Query, c.Err)
			continue
		}
		fmt.Printf("      %-40q P=%.2f R=%.2f RR=%.2f nDCG=%.2f %s\n",
			c.Query, c.Precision, c.Recall, c.ReciprocalRank, c.NDCG, c.Latency)
	}
	fmt.Printf("\nCases:     %d (%d failed)\n", len(report.Cases), report.Failed)
	fmt.Printf("Precision: %.3f\n", report.Precision)
	fmt.Printf("Recall:    %.3f\n", report.Recall)
	fmt.Printf("MRR:       %.3f\n", report.MRR)
	fmt.Printf("nDCG:      %.3f\n", report.NDCG)
	fmt.Printf("Latency:   mean %s, p95 %s\n", report.MeanLatency, report.P95Latency)
	return nil
}
