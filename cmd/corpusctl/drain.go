package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Drive the job queue from outside a standing worker pool",
}

var (
	drainWorkerID     string
	drainBatchSize    int
	drainLeaseSeconds int
)

var jobsDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Claim and run a batch of jobs via POST /jobs/drain",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newAPIClient().Drain(rootCtx, drainRequest{
			WorkerID:     drainWorkerID,
			BatchSize:    drainBatchSize,
			LeaseSeconds: drainLeaseSeconds,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(resp)
		}
		fmt.Printf("claimed=%d completed=%d retried=%d dead=%d\n",
			resp.Claimed, resp.Completed, resp.Retried, resp.Dead)
		for _, f := range resp.Failures {
			fmt.Printf("  failure: %s\n", f)
		}
		return nil
	},
}

func init() {
	jobsDrainCmd.Flags().StringVar(&drainWorkerID, "worker-id", "corpusctl", "worker identity recorded on claimed jobs")
	jobsDrainCmd.Flags().IntVar(&drainBatchSize, "batch-size", 0, "max jobs to claim (0 = server default)")
	jobsDrainCmd.Flags().IntVar(&drainLeaseSeconds, "lease-seconds", 0, "claim lease duration (0 = server default)")

	jobsCmd.AddCommand(jobsDrainCmd)
}
