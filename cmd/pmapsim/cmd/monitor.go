package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/browser"
	"github.com/sarchlab/pmap/monitoring"
	"github.com/sarchlab/pmap/workload"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run a stress workload while serving the monitoring view.",
	Long: "`monitor` serves the monitoring API and web page, runs the " +
		"stress workload, and keeps serving until interrupted.",
	RunE: func(c *cobra.Command, _ []string) error {
		cfg, err := configFromCommand(c)
		if err != nil {
			return err
		}

		goroutines, _ := c.Flags().GetInt("goroutines")
		iterations, _ := c.Flags().GetInt("iterations")
		open, _ := c.Flags().GetBool("open")

		tracers, err := cfg.newTracers()
		if err != nil {
			return err
		}

		env := cfg.buildEnv("PMap")
		attachTracers(env, tracers)

		m := monitoring.NewMonitor().WithPortNumber(cfg.MonitorPort)
		m.RegisterManager(env.Manager)
		port := m.StartServer()

		if open {
			err := browser.OpenURL(fmt.Sprintf("http://localhost:%d", port))
			if err != nil {
				fmt.Fprintf(os.Stderr, "cannot open a browser: %v\n", err)
			}
		}

		bar := m.CreateProgressBar("stress",
			uint64(goroutines)*uint64(iterations))
		env.Progress = bar

		res := workload.Stress(env, goroutines, iterations)
		fmt.Fprintln(c.OutOrStdout(), res)

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		<-interrupt

		if !res.Passed {
			return fmt.Errorf("stress workload failed")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Int("port", 0, "port of the monitoring server")
	monitorCmd.Flags().Bool("open", false, "open the monitoring page in a browser")
	monitorCmd.Flags().Int("goroutines", 8, "concurrent address spaces")
	monitorCmd.Flags().Int("iterations", 10000, "iterations per address space")
}
