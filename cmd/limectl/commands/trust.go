package commands

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"limepq/internal/domain"
)

// trustCmd groups peer-trust operations under one parent command (spec §6
// CLI harness names a single "trust" subcommand; get/set/delete are its
// children, mirroring the Manager's own get/set/delete trio).
func trustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Inspect or change a peer device's trust status",
	}
	cmd.AddCommand(trustGetCmd(), trustSetCmd(), trustDeleteCmd())
	return cmd
}

func singleAlgo() (domain.AlgoID, error) {
	algos, err := parseAlgos()
	if err != nil {
		return 0, err
	}
	if len(algos) != 1 {
		return 0, fmt.Errorf("trust subcommands take exactly one --algo")
	}
	return algos[0], nil
}

func trustGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <peer-device-id>",
		Short: "Print a peer device's current trust status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			algo, err := singleAlgo()
			if err != nil {
				return err
			}
			status, err := mgr.GetPeerDeviceStatus(context.Background(), deviceID, algo, args[0])
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		},
	}
}

func trustSetCmd() *cobra.Command {
	var ikHex string
	cmd := &cobra.Command{
		Use:   "set <peer-device-id> <untrusted|trusted|unsafe>",
		Short: "Set a peer device's trust status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			algo, err := singleAlgo()
			if err != nil {
				return err
			}
			want, err := parseTrustState(args[1])
			if err != nil {
				return err
			}

			ctx := context.Background()
			var got domain.TrustState
			if ikHex != "" {
				ik, err := hex.DecodeString(ikHex)
				if err != nil {
					return fmt.Errorf("--ik: %w", err)
				}
				got, err = mgr.SetPeerDeviceStatus(ctx, deviceID, algo, args[0], ik, want)
				if err != nil {
					return err
				}
			} else {
				got, err = mgr.SetPeerDeviceStatusNoIk(ctx, deviceID, algo, args[0], want)
				if err != nil {
					return err
				}
			}
			fmt.Println(got)
			return nil
		},
	}
	cmd.Flags().StringVar(&ikHex, "ik", "", "hex-encoded expected identity key (omit to trust whatever is on file)")
	return cmd
}

func trustDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <peer-device-id>",
		Short: "Remove a peer device's on-file identity and trust state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			algo, err := singleAlgo()
			if err != nil {
				return err
			}
			return mgr.DeletePeerDevice(context.Background(), deviceID, algo, args[0])
		},
	}
}

func parseTrustState(s string) (domain.TrustState, error) {
	switch s {
	case "untrusted":
		return domain.TrustUntrusted, nil
	case "trusted":
		return domain.TrustTrusted, nil
	case "unsafe":
		return domain.TrustUnsafe, nil
	default:
		return domain.TrustUnknown, fmt.Errorf("unknown trust state %q (use untrusted, trusted, or unsafe)", s)
	}
}
