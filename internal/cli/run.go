package cli

import (
	"github.com/spf13/cobra"
)

var (
	runDays  int
	runShard string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run backfill passes on the configured schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := backfillOptions("", "", runDays, runShard)
		if err != nil {
			return err
		}
		return getApp().Run(cmd.Context(), opts)
	},
}

func init() {
	runCmd.Flags().IntVar(&runDays, "days", 0, "Days to look back on each pass (defaults to config)")
	runCmd.Flags().StringVar(&runShard, "shard", "all", "Catalog shard: all, first-half or second-half")
}
