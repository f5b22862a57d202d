package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath  string
	metricsAddr string
	verbose     bool
}

func main() {
	// Load env
	_ = godotenv.Load(".env")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "overseer: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "overseer",
		Short: "Autonomous action orchestrator for a community platform",
		Long: `overseer plans platform actions with a language model, executes the low-risk
ones immediately and parks high-risk ones for human approval.

Running 'overseer' without a subcommand starts the autopilot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutopilot(cmd.Context(), opts, 0)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "overseer.yaml", "Path to the YAML config file (missing file means defaults)")
	root.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr instead of the debug log and show plan messages")

	root.AddCommand(
		newAutopilotCmd(opts),
		newCycleCmd(opts),
		newApprovalsCmd(opts),
		newAuditCmd(opts),
		newCouncilCmd(opts),
		newAskCmd(opts),
	)
	return root
}
