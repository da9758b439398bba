package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var notifyCheckpoint string

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Resend the run summary recorded in a checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		if notifyCheckpoint == "" {
			return fmt.Errorf("--checkpoint must be provided")
		}
		return getApp().NotifyCheckpoint(cmd.Context(), notifyCheckpoint)
	},
}

func init() {
	notifyCmd.Flags().StringVar(&notifyCheckpoint, "checkpoint", "", "Checkpoint file to summarise")
}
