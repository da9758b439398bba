package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-history-backfill/internal/app"
)

var (
	showPath  string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Summarise checkpoint files",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}

		opts := app.ShowOptions{
			Path:  showPath,
			Limit: showLimit,
		}
		return getApp().Show(opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showPath, "path", "", "Checkpoint file or directory (defaults to backfill.checkpoint_dir)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of most recent checkpoints to display (0 for all)")
}
