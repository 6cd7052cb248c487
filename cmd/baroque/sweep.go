package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fetch usage for every registered developer once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.orch.Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d snapshots written, %d failed\n", res.Outcome, res.Written, res.Failed)
			return resultError(res)
		},
	}
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <api_key_id>",
		Short: "Fetch usage for one API key, registered or not",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.orch.FetchForIdentity(cmd.Context(), args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d snapshots written, %d failed\n", res.Outcome, res.Written, res.Failed)
			return resultError(res)
		},
	}
}
