package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func updateCmd() *cobra.Command {
	var opkLow, opkBatch int
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Rotate an expired signed prekey, top up one-time prekeys, and sweep expired state",
		RunE: func(cmd *cobra.Command, args []string) error {
			algos, err := parseAlgos()
			if err != nil {
				return err
			}
			var updateErr error
			mgr.Update(context.Background(), deviceID, algos, func(err error) { updateErr = err }, opkLow, opkBatch)
			if updateErr != nil {
				return updateErr
			}
			fmt.Println("updated")
			return nil
		},
	}
	cmd.Flags().IntVar(&opkLow, "opk-low", 0, "one-time-prekey server low watermark (0 = default)")
	cmd.Flags().IntVar(&opkBatch, "opk-batch", 0, "one-time-prekey replenishment batch size (0 = default)")
	return cmd
}
