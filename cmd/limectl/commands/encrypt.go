package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"limepq/internal/domain"
)

func encryptCmd() *cobra.Command {
	var to, recipientUserID, policyName string
	cmd := &cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "Encrypt a message to one or more peer devices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			algos, err := parseAlgos()
			if err != nil {
				return err
			}
			if to == "" || recipientUserID == "" {
				return fmt.Errorf("--to and --recipient-user are required")
			}
			policy, err := parsePolicy(policyName)
			if err != nil {
				return err
			}

			recipients := make([]*domain.RecipientResult, 0)
			for _, id := range strings.Split(to, ",") {
				id = strings.TrimSpace(id)
				if id == "" {
					continue
				}
				recipients = append(recipients, &domain.RecipientResult{DeviceID: id})
			}

			ectx := &domain.EncryptionContext{
				RecipientUserID: recipientUserID,
				Recipients:      recipients,
				Plaintext:       []byte(args[0]),
				Policy:          policy,
			}

			var encErr error
			done := make(chan struct{})
			mgr.Encrypt(context.Background(), deviceID, algos, ectx, func(err error) { encErr = err; close(done) })
			<-done
			if encErr != nil {
				return encErr
			}

			for _, r := range ectx.Recipients {
				fmt.Printf("%s: status=%v\n", r.DeviceID, r.Status)
				if len(r.DRMessage) > 0 {
					fmt.Printf("  dr_message=%s\n", hex.EncodeToString(r.DRMessage))
				}
				if r.Err != nil {
					fmt.Printf("  err=%v\n", r.Err)
				}
			}
			if len(ectx.CipherMessage) > 0 {
				fmt.Printf("cipher_message=%s\n", hex.EncodeToString(ectx.CipherMessage))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "comma-separated recipient device ids")
	cmd.Flags().StringVar(&recipientUserID, "recipient-user", "", "the recipient user id (also the AEAD associated data)")
	cmd.Flags().StringVar(&policyName, "policy", "optimize-upload-size", "one of: optimize-upload-size, dr-message, cipher-message, optimize-global-bandwidth")
	return cmd
}

func parsePolicy(s string) (domain.Policy, error) {
	switch s {
	case "optimize-upload-size", "":
		return domain.PolicyOptimizeUploadSize, nil
	case "dr-message":
		return domain.PolicyDRMessage, nil
	case "cipher-message":
		return domain.PolicyCipherMessage, nil
	case "optimize-global-bandwidth":
		return domain.PolicyOptimizeGlobalBandwidth, nil
	default:
		return 0, fmt.Errorf("unknown --policy %q", s)
	}
}
