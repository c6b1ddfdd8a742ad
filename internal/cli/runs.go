package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"postbot/internal/app"
	"postbot/internal/storage"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs from storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := app.New(cmd.Context(), cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Store() == nil {
			return storage.ErrDisabled
		}
		runs, err := a.Store().RecentRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFINISHED\tOK\tFINAL URL")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", r.ID, r.FinishedAt.Local().Format("2006-01-02 15:04"), r.Success, r.FinalURL)
		}
		return w.Flush()
	},
}

func init() {
	runsCmd.Flags().IntP("limit", "n", 20, "number of runs")
}
