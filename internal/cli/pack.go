package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"priorart/internal/usecase"
)

var (
	packQuery    string
	packTopK     int
	packSections []string
	packClass    string
	packWindow   int
	packOutput   string
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Pack retrieved passages for a generation step",
	Long: `Retrieve passages, widen each by neighbouring chunks of the same section,
merge overlapping spans and emit a JSON context pack with citations.

Examples:
  priorart pack -q "torque tube tracker"
  priorart pack -q "spar cap" -w 2 -o context.json`,
	RunE: runPack,
}

func init() {
	rootCmd.AddCommand(packCmd)
	addQueryFlags(packCmd, &packQuery, &packTopK, &packSections, &packClass)
	packCmd.Flags().IntVarP(&packWindow, "window", "w", -1, "neighbouring chunks per side (default from config)")
	packCmd.Flags().StringVarP(&packOutput, "output", "o", "", "output file (default from config, else stdout)")
}

func runPack(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	e, err := openEngine(ctx, GetRootDir(), cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	window := cfg.Pack.WindowSize
	if packWindow >= 0 {
		window = packWindow
	}
	packUC, err := usecase.NewPackUseCase(e.retriever, e.store, window, logger)
	if err != nil {
		return err
	}

	packed, err := packUC.Pack(ctx, buildQuery(packQuery, packTopK, packSections, packClass))
	if err != nil {
		return fmt.Errorf("packing failed: %w", err)
	}

	outPath := cfg.Pack.Output
	if packOutput != "" {
		outPath = packOutput
	}

	output, err := json.MarshalIndent(packed, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, output, 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Printf("Context packed to: %s\n", outPath)
		fmt.Printf("  Passages: %d (from %d chunks)\n", len(packed.Passages), packed.TotalChunks)
		fmt.Printf("  Took:     %.1fms\n", packed.RetrievalTimeMS)
	} else {
		fmt.Println(string(output))
	}
	return nil
}
