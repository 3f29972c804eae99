package cmd

import (
	"fmt"
	"io"

	"github.com/sarchlab/pmap/workload"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [scenario...]",
	Short: "Run built-in workloads and print their results.",
	Long: "`run` runs the named scenarios, or all of them when none is " +
		"named, each on a fresh machine. It fails if any scenario fails.",
	RunE: func(c *cobra.Command, args []string) error {
		cfg, err := configFromCommand(c)
		if err != nil {
			return err
		}

		return runScenarios(c.OutOrStdout(), cfg, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runScenarios(out io.Writer, cfg config, names []string) error {
	if len(names) == 0 {
		names = workload.Names()
	}

	scenarios := make([]workload.Scenario, 0, len(names))
	for _, n := range names {
		s, err := workload.ByName(n)
		if err != nil {
			return err
		}

		scenarios = append(scenarios, s)
	}

	tracers, err := cfg.newTracers()
	if err != nil {
		return err
	}

	failed := 0

	for i, s := range scenarios {
		env := cfg.buildEnv(fmt.Sprintf("PMap%d", i))
		attachTracers(env, tracers)

		res := s(env)
		if !res.Passed {
			failed++
		}

		fmt.Fprintln(out, res)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(scenarios))
	}

	return nil
}
