package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"priorart/config"
	"priorart/internal/logging"
)

var (
	cfgFile  string
	cfg      *config.Config
	rootDir  string
	logLevel string
	logger   zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "priorart",
	Short: "Hybrid prior-art retrieval over a local patent corpus",
	Long: `priorart ingests patent documents, indexes their sections lexically (BM25)
and by embedding, and answers queries with fused, citation-ready passages.

Example usage:
  priorart ingest ./patents                      # Ingest a directory of JSON/YAML patents
  priorart query -q "liquid cooled battery"      # Search for passages
  priorart pack -q "slew drive" -o context.json  # Build a context pack
  priorart eval cases.yaml                       # Measure retrieval quality`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir = "."
		}
		if rootDir, err = filepath.Abs(rootDir); err != nil {
			return fmt.Errorf("invalid corpus directory: %w", err)
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(os.Stderr, cfg.Logging)
		return err
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./priorart.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "corpus directory holding .priorart/ (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
