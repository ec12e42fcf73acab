package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>...",
	Short: "Remove documents from storage and both indexes",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := openEngine(ctx, GetRootDir(), GetConfig(), logger)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, id := range args {
		if err := e.ingest.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
		fmt.Printf("Deleted %s\n", id)
	}
	return nil
}
