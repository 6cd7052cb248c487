package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/baroque-dev/baroque/internal/leaderboard"
)

func newLeaderboardCmd() *cobra.Command {
	var (
		period string
		model  string
		self   string
	)

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the leaderboard for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := leaderboard.ParsePeriod(period)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			board, err := a.engine.Compute(cmd.Context(), p, self, model)
			if err != nil {
				return err
			}
			return renderBoard(cmd.OutOrStdout(), board)
		},
	}

	cmd.Flags().StringVarP(&period, "period", "p", string(leaderboard.DefaultPeriod), "Period: day, week or month")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Only count usage of this model")
	cmd.Flags().StringVar(&self, "self", "", "Your API key ID, shown unmasked")
	return cmd
}

func renderBoard(out io.Writer, board *leaderboard.Board) error {
	title := "LEADERBOARD  " + string(board.Period)
	if board.Model != "" {
		title += "  " + board.Model
	}
	fmt.Fprintf(out, "\n  %s\n", title)

	for _, cat := range leaderboard.Categories {
		fmt.Fprintf(out, "\n  %s\n", cat)

		entries := board.Categories[cat]
		if len(entries) == 0 {
			fmt.Fprintln(out, "    No usage in this period.")
			continue
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "    #\tDEVELOPER\tVALUE\t")
		for _, e := range entries {
			name := e.DisplayName
			if e.IsSelf {
				name += " (you)"
			}
			fmt.Fprintf(w, "    %d\t%s\t%s\t\n", e.Rank, name, formatValue(cat, e.Value))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func formatValue(cat leaderboard.Category, v float64) string {
	switch cat {
	case leaderboard.EfficientUser, leaderboard.CacheChampion:
		return strconv.FormatFloat(v, 'f', 2, 64) + "%"
	default:
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models with usage data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			models, err := a.engine.DistinctModels(cmd.Context())
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No usage data yet.")
				return nil
			}
			for _, m := range models {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}
