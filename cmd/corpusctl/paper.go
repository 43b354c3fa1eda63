package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var paperCmd = &cobra.Command{
	Use:   "paper",
	Short: "Inspect a canonical paper record",
}

var paperShowCmd = &cobra.Command{
	Use:   "show <paper_id>",
	Short: "Show a canonical paper by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paper, err := newAPIClient().GetPaper(rootCtx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(paper)
		}
		fmt.Printf("%s (%d)\n", paper.Title, paper.Year)
		fmt.Printf("authors:    %v\n", paper.Authors)
		fmt.Printf("venue:      %s\n", paper.Venue)
		if paper.DOI != "" {
			fmt.Printf("doi:        %s\n", paper.DOI)
		}
		fmt.Printf("preprint:   %v   retracted: %v\n", paper.IsPreprint, paper.IsRetracted)
		fmt.Printf("quality:    q_total=%.3f   relevance=%.3f   citations=%d\n",
			paper.Quality.QTotal, paper.RelevanceScore, paper.CitationCount)
		if paper.Abstract != "" {
			fmt.Printf("\n%s\n", paper.Abstract)
		}
		return nil
	},
}

func init() {
	paperCmd.AddCommand(paperShowCmd)
}
