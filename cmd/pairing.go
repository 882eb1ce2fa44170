package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketbot/relay/internal/config"
	"github.com/marketbot/relay/internal/pairing"
)

// pairingCmd manages DM pairing directly against the local store, so
// approvals work even when the gateway is down.
func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Approve and manage DM pairing",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pairing code a sender received",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPairingStore()
			if err != nil {
				return err
			}
			defer store.Close()

			channel, senderID, err := store.Approve(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("paired %s sender %s\n", channel, senderID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list [channel]",
		Short: "List paired senders, optionally for one channel",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPairingStore()
			if err != nil {
				return err
			}
			defer store.Close()

			channel := ""
			if len(args) == 1 {
				channel = args[0]
			}
			paired, err := store.ListPaired(channel)
			if err != nil {
				return err
			}
			if len(paired) == 0 {
				fmt.Println("no paired senders")
				return nil
			}
			for _, p := range paired {
				fmt.Printf("%-12s %-30s %s\n", p.Channel, p.SenderID, p.PairedAt.Format(time.RFC3339))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <channel> <senderId>",
		Short: "Remove a paired sender",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPairingStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Revoke(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("revoked %s sender %s\n", args[0], args[1])
			return nil
		},
	})

	return cmd
}

func openPairingStore() (*pairing.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	ttl := time.Duration(cfg.Pairing.CodeTTLMin) * time.Minute
	return pairing.Open(pairing.Options{Path: cfg.PairingDBPath(), CodeTTL: ttl})
}
