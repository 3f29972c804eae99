package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sarchlab/pmap/vm/platform"
	"github.com/spf13/cobra"
)

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List the platform descriptions.",
	Run: func(c *cobra.Command, _ []string) {
		listPlatforms(c.OutOrStdout(), platform.Presets())
	},
}

func init() {
	rootCmd.AddCommand(platformsCmd)
}

var capabilities = []platform.Capability{
	platform.RangeRefMod,
	platform.BatchCacheAttributes,
	platform.NestedFork,
	platform.CodeSigningMonitor,
	platform.IOFilterProtectedWrite,
	platform.HardwareRefMod,
	platform.Exotic,
	platform.TPRO,
}

func listPlatforms(out io.Writer, presets []platform.Description) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPAGE\tMIN PAGE\tNEST\tMAX ADDRESS\tCAPABILITIES")

	for _, d := range presets {
		var caps []string

		for _, c := range capabilities {
			if d.Supports(c) {
				caps = append(caps, c.String())
			}
		}

		fmt.Fprintf(w, "%s\t%d\t%d\t%#x\t%#x\t%s\n",
			d.Name, d.PageSize, d.MinPageSize, d.NestGranularity,
			d.MaxAddress64, strings.Join(caps, ","))
	}

	_ = w.Flush()
}
