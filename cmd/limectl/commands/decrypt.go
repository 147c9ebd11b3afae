package commands

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

func decryptCmd() *cobra.Command {
	var from, recipientUserID, drHex, cipherHex string
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a dr_message or cipher_message received from a peer device",
		RunE: func(cmd *cobra.Command, args []string) error {
			algos, err := parseAlgos()
			if err != nil {
				return err
			}
			if from == "" || recipientUserID == "" {
				return fmt.Errorf("--from and --recipient-user are required")
			}
			if drHex == "" && cipherHex == "" {
				return fmt.Errorf("one of --dr-message or --cipher-message is required")
			}

			drMessage, err := hex.DecodeString(drHex)
			if err != nil {
				return fmt.Errorf("--dr-message: %w", err)
			}
			cipherMessage, err := hex.DecodeString(cipherHex)
			if err != nil {
				return fmt.Errorf("--cipher-message: %w", err)
			}

			msg, err := mgr.Decrypt(context.Background(), deviceID, algos, recipientUserID, from, drMessage, cipherMessage)
			if err != nil {
				return err
			}
			fmt.Printf("status=%v\n%s\n", msg.Status, string(msg.Plaintext))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "the sender device id")
	cmd.Flags().StringVar(&recipientUserID, "recipient-user", "", "the user id the message was addressed to")
	cmd.Flags().StringVar(&drHex, "dr-message", "", "hex-encoded dr_message")
	cmd.Flags().StringVar(&cipherHex, "cipher-message", "", "hex-encoded cipher_message")
	return cmd
}
