package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/marketbot/relay/pkg/protocol"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <channel> <to> <message...>",
		Short: "Send a message through a running channel",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodSend, map[string]string{
				"channel": args[0],
				"to":      args[1],
				"message": strings.Join(args[2:], " "),
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodStatus, nil)
		},
	}
}
