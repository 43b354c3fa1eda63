package main

import (
	"fmt"
	"strings"

	"charm.land/glamour/v2"
	"github.com/spf13/cobra"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a completed report",
}

var reportShowCmd = &cobra.Command{
	Use:   "show <search_id>",
	Short: "Render a report's brief and evidence table as markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := newAPIClient().GetSearch(rootCtx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(rep)
		}

		md := renderReportMarkdown(rep)
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err != nil {
			// Rendering is a presentation nicety; fall back to plain
			// markdown rather than failing the command outright.
			fmt.Println(md)
			return nil
		}
		out, err := renderer.Render(md)
		if err != nil {
			fmt.Println(md)
			return nil
		}
		fmt.Println(out)
		return nil
	},
}

func renderReportMarkdown(rep *types.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", rep.Question)
	fmt.Fprintf(&b, "_status: %s · %d candidates · %d evidence rows_\n\n", rep.Status, rep.Stats.CandidatesTotal, len(rep.EvidenceTable))

	if len(rep.Brief) > 0 {
		b.WriteString("## Brief\n\n")
		for _, claim := range rep.Brief {
			fmt.Fprintf(&b, "- **[%s]** %s", claim.Stance, claim.Text)
			if len(claim.Citations) > 0 {
				ids := make([]string, 0, len(claim.Citations))
				for _, c := range claim.Citations {
					ids = append(ids, c.PaperID)
				}
				fmt.Fprintf(&b, " (%s)", strings.Join(ids, ", "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(rep.EvidenceTable) > 0 {
		b.WriteString("## Evidence\n\n")
		b.WriteString("| Rank | Paper | Proposition | Q |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, row := range rep.EvidenceTable {
			fmt.Fprintf(&b, "| %d | %s | %s | %.2f |\n", row.Rank, row.PaperID, row.PropositionLabel, row.Quality.QTotal)
		}
		b.WriteString("\n")
	}

	if rep.Coverage.Degraded {
		fmt.Fprintf(&b, "> Coverage degraded: providers failed = %v\n\n", rep.Coverage.ProvidersFailed)
	}
	if rep.Error != "" {
		fmt.Fprintf(&b, "> Error: %s\n", rep.Error)
	}

	return b.String()
}

func init() {
	reportCmd.AddCommand(reportShowCmd)
}
