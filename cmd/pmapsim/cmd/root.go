// Package cmd provides the command-line interface of pmapsim.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pmapsim",
	Short: "pmapsim drives the physical map layer with scripted workloads.",
	Long: `pmapsim drives the physical map layer with scripted workloads. ` +
		`It can run the built-in scenarios, serve a monitoring view of ` +
		`the address spaces while a workload runs, and list the platform ` +
		`descriptions. Settings are read from the environment and from a ` +
		`.env file in the working directory; flags take precedence.`,
	SilenceUsage: true,
}

func init() {
	addConfigFlags(rootCmd.PersistentFlags())
}

func addConfigFlags(f *pflag.FlagSet) {
	f.String("platform", "", "platform preset: arm64, x86_64, or host")
	f.Int("cpus", 0, "number of processors")
	f.Int("pages", 0, "number of managed physical pages")
	f.String("trace-db", "", "record traced tasks into this sqlite database")
	f.String("log", "", "log finished tasks to this file, or - for stderr")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
