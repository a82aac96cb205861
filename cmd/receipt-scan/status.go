package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"receipt-scan-service/internal/client"
)

func statusCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "status <jobId>",
		Short: "Show the status of a scan job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := newAPI()
			if !follow {
				snap, err := api.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			bar := newProgressBar(cmd.ErrOrStderr())
			poller := newPoller(api, client.WithProgress(func(p client.Progress) {
				bar.Describe(p.Step)
				_ = bar.Set(p.Percent)
			}))
			res, err := poller.Poll(cmd.Context(), args[0])
			_ = bar.Exit()
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return scanError(err, args[0])
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "wait for the job to finish and print its result")
	return cmd
}
