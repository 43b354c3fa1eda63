// Command corpusctl is the command-line client for a corpusd instance: it
// speaks the same HTTP API a browser or script would, wrapped in a
// cobra command tree with JSON and rendered-markdown output modes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	addr       string
	drainToken string
	jsonOutput bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "corpusctl",
	Short: "corpusctl - client for the research pipeline daemon",
	Long:  `corpusctl drives a running corpusd instance: start searches, inspect runs and papers, and drain jobs.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	},
}

func newAPIClient() *client {
	return newClient(addr, drainToken)
}

// printJSON is the fallback renderer for any command when --json is set
// or no richer rendering applies.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "corpusd base URL")
	rootCmd.PersistentFlags().StringVar(&drainToken, "token", "", "bearer token for drain-protected endpoints (falls back to CORPUSPIPE_WORKER_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON instead of a rendered view")

	if drainToken == "" {
		drainToken = os.Getenv("CORPUSPIPE_WORKER_TOKEN")
	}

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(paperCmd)
	rootCmd.AddCommand(jobsCmd)
}

func main() {
	defer func() {
		if rootCancel != nil {
			rootCancel()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
