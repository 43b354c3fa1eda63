package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List and inspect extraction runs for a search",
}

var runsListCmd = &cobra.Command{
	Use:   "list <search_id>",
	Short: "List every run recorded for a search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := newAPIClient().ListRuns(rootCtx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(runs)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN_ID\tINDEX\tTRIGGER\tSTATUS\tENGINE\tACTIVE")
		for _, run := range runs {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%v\n",
				run.ID, run.RunIndex, run.Trigger, run.Status, run.Engine, run.IsActive)
		}
		return tw.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <search_id> <run_id>",
	Short: "Show one run, including its evidence table if it is the active run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		detail, err := newAPIClient().GetRun(rootCtx, args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(detail)
		}
		fmt.Printf("run:      %s (index %d, %s)\n", detail.Run.ID, detail.Run.RunIndex, detail.Run.Status)
		fmt.Printf("trigger:  %s\n", detail.Run.Trigger)
		fmt.Printf("engine:   %s\n", detail.Run.Engine)
		if len(detail.Rows) == 0 {
			fmt.Println("(no evidence rows: this run is not the report's active run)")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tPAPER_ID\tPROPOSITION\tQ_TOTAL")
		for _, row := range detail.Rows {
			fmt.Fprintf(tw, "%v\t%v\t%v\t%v\n", row["rank"], row["paper_id"], row["proposition_label"], row["q_total"])
		}
		return tw.Flush()
	},
}

func init() {
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}
