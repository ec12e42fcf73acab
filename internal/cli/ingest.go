package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"priorart/internal/adapter/fs"
	"priorart/internal/domain"
	"priorart/internal/port"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest patent documents for retrieval",
	Long: `Ingest JSON or YAML patent documents found under the given directory.
Documents already in the index are replaced. Storage lives in .priorart/
within the corpus directory (see --dir).

Examples:
  priorart ingest ./patents            # Ingest a directory
  priorart ingest -d /data/corpus .    # Store the index under /data/corpus`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	walker, err := fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes)
	if err != nil {
		return err
	}
	docs, loadErrors, err := loadDocuments(ctx, walker, fs.NewLoader(), path)
	if err != nil {
		return err
	}
	fmt.Printf("Found %d documents in %s\n", len(docs), path)

	e, err := openEngine(ctx, GetRootDir(), cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	bar := progressbar.NewOptions(len(docs),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)

	var (
		barMu     sync.Mutex
		processed int
		startTime = time.Now()
	)
	e.ingest.SetOnDocument(func(domain.IngestStatus) {
		barMu.Lock()
		defer barMu.Unlock()

		processed++
		bar.Set(processed)

		elapsed := time.Since(startTime)
		rate := float64(processed) / elapsed.Seconds()
		if remaining := len(docs) - processed; rate > 0 && remaining > 0 {
			eta := time.Duration(float64(remaining)/rate) * time.Second
			bar.Describe(fmt.Sprintf("[cyan]Ingesting[reset] ETA: %s", formatDuration(eta)))
		}
	})

	statuses, err := e.ingest.Ingest(ctx, docs)
	if err != nil && !errors.Is(err, domain.ErrPartialIngestion) {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	indexed, chunks := 0, 0
	var failures []domain.IngestStatus
	for _, s := range statuses {
		if s.OK() {
			indexed++
			chunks += s.Chunks
		} else {
			failures = append(failures, s)
		}
	}

	fmt.Printf("\nIngestion complete:\n")
	fmt.Printf("  Documents indexed: %d\n", indexed)
	fmt.Printf("  Documents failed:  %d\n", len(failures))
	fmt.Printf("  Chunks created:    %d\n", chunks)
	fmt.Printf("  Took:              %s\n", formatDuration(time.Since(startTime)))

	if len(loadErrors) > 0 || len(failures) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, le := range loadErrors {
			fmt.Printf("  - %v\n", le)
		}
		for _, s := range failures {
			fmt.Printf("  - %s [%s]: %v\n", s.DocumentID, domain.Classify(s.Err), s.Err)
		}
	}
	return err
}

// loadDocuments reads every matching file under root. Files that fail to
// parse are returned as errors without stopping the scan.
func loadDocuments(ctx context.Context, walker port.FileWalker, loader port.DocumentLoader, root string) ([]domain.Document, []error, error) {
	files, err := walker.Walk(root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	docs := make([]domain.Document, 0, len(files))
	var loadErrors []error
	for _, f := range files {
		doc, err := loader.Load(ctx, f.Path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			loadErrors = append(loadErrors, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, loadErrors, nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
