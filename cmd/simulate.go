package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Compare node-selection policies over the pending queue",
	Long: `Runs the pending queue of a cluster snapshot once per policy scenario
(base, least-loaded, prefer-alloc, serial-at-end) and ranks the scenarios by
placement rate, CPU utilization, fragmentation and switch locality.`,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.StringSlice("scenarios", nil, "scenarios to run (default: all)")
	f.Int("parallelism", 0, "concurrent scenarios (default: number of CPUs)")
	f.String("output", "table", "output format: table, json, markdown")
	f.String("output-file", "", "write output to file")
	f.Int("top", 5, "number of scenarios to show")
	f.Bool("metrics", false, "dump placement metrics after the run")

	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	fl := cmd.Flags()
	if sc, _ := fl.GetStringSlice("scenarios"); len(sc) > 0 {
		cfg.Simulation.Scenarios = sc
	}
	if p, _ := fl.GetInt("parallelism"); fl.Changed("parallelism") {
		cfg.Simulation.Parallelism = p
	}
	if f, _ := fl.GetString("output"); fl.Changed("output") {
		cfg.Output.Format = f
	}
	if n, _ := fl.GetInt("top"); fl.Changed("top") {
		cfg.Output.TopN = n
	}
	if v, _ := fl.GetBool("metrics"); fl.Changed("metrics") {
		cfg.Metrics.Enabled = v
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	outFile, _ := fl.GetString("output-file")
	w, done, err := openOutput(outFile)
	if err != nil {
		return err
	}
	defer done()

	orch, err := newOrchestrator(w)
	if err != nil {
		return err
	}
	if _, err := orch.Simulate(ctx); err != nil {
		return err
	}
	return flushMetrics(orch)
}
