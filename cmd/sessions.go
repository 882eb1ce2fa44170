package cmd

import (
	"github.com/spf13/cobra"

	"github.com/marketbot/relay/pkg/protocol"
)

func sessionsCmd() *cobra.Command {
	var agentID string
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage agent sessions",
	}
	cmd.PersistentFlags().StringVar(&agentID, "agent", "", "agent id (default: the default agent)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodSessionsList, map[string]interface{}{
				"agentId": agentID,
			})
		},
	})

	preview := &cobra.Command{
		Use:   "preview <sessionKey>",
		Short: "Show the tail of a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodSessionsPreview, map[string]interface{}{
				"agentId":    agentID,
				"sessionKey": args[0],
				"limit":      limit,
			})
		},
	}
	preview.Flags().IntVar(&limit, "limit", 10, "max entries to show")
	cmd.AddCommand(preview)

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <sessionKey>",
		Short: "Clear a session transcript, keeping the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodSessionsReset, map[string]interface{}{
				"agentId":    agentID,
				"sessionKey": args[0],
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <sessionKey>",
		Short: "Delete a session and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodSessionsDelete, map[string]interface{}{
				"agentId":    agentID,
				"sessionKey": args[0],
			})
		},
	})

	return cmd
}
