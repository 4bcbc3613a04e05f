package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root ns-capture command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ns-capture",
		Short: "Flow aggregation for passive network monitoring",
		Long: `ns-capture reads packets from interfaces, capture files or remote probes,
aggregates them into per-interval flow tables and exports every flushed table.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newRunCmd(),
		newAnalyzeCmd(),
		newGenerateCmd(),
		newInspectCmd(),
	)

	return root
}
