package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Create and inspect searches",
}

var (
	searchDomain        string
	searchFromYear      int
	searchToYear         int
	searchMaxCandidates int
	searchExcludePre    bool
)

var searchCreateCmd = &cobra.Command{
	Use:   "create <query>",
	Short: "Start a new search and print its search_id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := types.SearchRequest{
			Query:            args[0],
			Domain:           searchDomain,
			FromYear:         searchFromYear,
			ToYear:           searchToYear,
			MaxCandidates:    searchMaxCandidates,
			ExcludePreprints: searchExcludePre,
		}
		resp, err := newAPIClient().CreateSearch(rootCtx, req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(resp)
		}
		fmt.Printf("%s\t%s\n", resp.SearchID, resp.Status)
		return nil
	},
}

var searchStatusCmd = &cobra.Command{
	Use:   "status <search_id>",
	Short: "Show a search's current status and stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := newAPIClient().GetSearch(rootCtx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(rep)
		}
		fmt.Printf("id:          %s\n", rep.ID)
		fmt.Printf("question:    %s\n", rep.Question)
		fmt.Printf("status:      %s\n", rep.Status)
		fmt.Printf("run:         %d (active %s)\n", rep.RunCount, rep.ActiveRunID)
		fmt.Printf("candidates:  %d total, %d retrieved, %d quality-kept\n",
			rep.Stats.CandidatesTotal, rep.Stats.RetrievedTotal, rep.Stats.QualityKeptTotal)
		fmt.Printf("coverage:    providers=%v failed=%v degraded=%v\n",
			rep.Coverage.ProvidersQueried, rep.Coverage.ProvidersFailed, rep.Coverage.Degraded)
		if rep.Error != "" {
			fmt.Printf("error:       %s\n", rep.Error)
		}
		return nil
	},
}

func init() {
	searchCreateCmd.Flags().StringVar(&searchDomain, "domain", "", "restrict to a research domain")
	searchCreateCmd.Flags().IntVar(&searchFromYear, "from-year", 0, "earliest publication year to include")
	searchCreateCmd.Flags().IntVar(&searchToYear, "to-year", 0, "latest publication year to include")
	searchCreateCmd.Flags().IntVar(&searchMaxCandidates, "max-candidates", 0, "cap on candidate papers (0 = server default)")
	searchCreateCmd.Flags().BoolVar(&searchExcludePre, "exclude-preprints", false, "drop preprint-status papers")

	searchCmd.AddCommand(searchCreateCmd)
	searchCmd.AddCommand(searchStatusCmd)
}
