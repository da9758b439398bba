package cli

import (
	"github.com/spf13/cobra"

	"price-history-backfill/internal/app"
	"price-history-backfill/internal/backfill"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillDays   int
	backfillShard  string
	backfillResume string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fill missing daily prices for every catalog item",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := backfillOptions(backfillFrom, backfillTo, backfillDays, backfillShard)
		if err != nil {
			return err
		}
		opts.ResumePath = backfillResume
		opts.DryRun = backfillDryRun

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func backfillOptions(fromRaw, toRaw string, days int, shardRaw string) (app.BackfillOptions, error) {
	from, err := parseDate("from", fromRaw)
	if err != nil {
		return app.BackfillOptions{}, err
	}
	to, err := parseDate("to", toRaw)
	if err != nil {
		return app.BackfillOptions{}, err
	}
	shard, err := backfill.ParseShard(shardRaw)
	if err != nil {
		return app.BackfillOptions{}, err
	}
	return app.BackfillOptions{From: from, To: to, Days: days, Shard: shard}, nil
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First day to fill (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last day to fill (YYYY-MM-DD, inclusive; defaults to yesterday UTC)")
	backfillCmd.Flags().IntVar(&backfillDays, "days", 0, "Days to look back from yesterday (defaults to config, max 365)")
	backfillCmd.Flags().StringVar(&backfillShard, "shard", "all", "Catalog shard: all, first-half (forward) or second-half (reverse)")
	backfillCmd.Flags().StringVar(&backfillResume, "resume", "", "Checkpoint file to resume from")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Fetch and merge without writing prices or checkpoints")
}
