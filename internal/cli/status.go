package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"priorart/internal/adapter/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index contents and configuration",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	e, err := openEngine(ctx, GetRootDir(), cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Storage:        %s\n", cfg.Storage.Backend)
	if bs, ok := e.store.(*store.BoltStore); ok {
		if info, err := bs.Schema(); err == nil {
			fmt.Printf("Schema:         v%d (config %s)\n", info.Version, info.ConfigHash)
		}
	}
	fmt.Printf("Documents:      %d\n", len(docs))
	fmt.Printf("Lexical chunks: %d (%d shards)\n", e.lexical.Len(), cfg.Index.Shards)
	if e.vector != nil {
		fmt.Printf("Vectors:        %d (%s, %s %s, dim %d)\n",
			e.vector.Len(), e.vector.Metric(), cfg.Storage.Vector, e.embedder.ModelName(), e.embedder.Dimension())
	} else {
		fmt.Printf("Vectors:        disabled\n")
	}
	if e.reranker != nil {
		fmt.Printf("Reranker:       %s\n", e.reranker.ModelName())
	}
	fmt.Printf("Fusion:         %s (alpha %.2f)\n", cfg.Retrieve.Fusion, cfg.Retrieve.Alpha)
	return nil
}
