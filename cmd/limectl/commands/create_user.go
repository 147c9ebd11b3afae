package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func createUserCmd() *cobra.Command {
	var initialOPkBatchSize int
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Publish a fresh identity and prekey bundle for --device",
		RunE: func(cmd *cobra.Command, args []string) error {
			algos, err := parseAlgos()
			if err != nil {
				return err
			}
			var createErr error
			mgr.CreateUser(context.Background(), deviceID, algos, serverURL, initialOPkBatchSize, func(err error) {
				createErr = err
			})
			if createErr != nil {
				return createErr
			}
			fmt.Printf("created %s for algos %v\n", deviceID, algos)
			return nil
		},
	}
	cmd.Flags().IntVar(&initialOPkBatchSize, "opk-batch", 0, "initial one-time-prekey batch size (0 = default)")
	return cmd
}
