package cmd

import (
	"github.com/spf13/cobra"

	"github.com/marketbot/relay/pkg/protocol"
)

func channelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Inspect running channels",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodChannelsList, nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show per-channel running state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodChannelsStatus, nil)
		},
	})

	return cmd
}

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect and trigger scheduled jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured cron jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodCronList, nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <jobId>",
		Short: "Fire a cron job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(protocol.MethodCronRun, map[string]string{
				"jobId": args[0],
			})
		},
	})

	return cmd
}
