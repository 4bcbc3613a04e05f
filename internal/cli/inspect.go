package cli

import (
	"errors"
	"fmt"
	"io"

	"NetSpectra/internal/export"
	"NetSpectra/pkg/pcap"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the contents of capture files and gob snapshots",
	}

	var limit int
	pcapCmd := &cobra.Command{
		Use:     "pcap <file>",
		Short:   "Print the parsed 5-tuples of a pcap/pcapng file",
		Example: `  ns-capture inspect pcap trace.pcap -n 20`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := pcap.NewFileSource(args[0], zap.NewNop())
			if err := src.Start(); err != nil {
				return err
			}
			defer src.Stop()

			out := cmd.OutOrStdout()
			printed := 0
			for limit <= 0 || printed < limit {
				want := 256
				if limit > 0 && limit-printed < want {
					want = limit - printed
				}
				batch, err := src.Next(want)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				for _, p := range batch {
					ft := p.FiveTuple
					fmt.Fprintf(out, "[%s] %s:%d -> %s:%d proto=%d len=%d\n",
						p.Timestamp.Format("15:04:05.000"),
						ft.SrcIP, ft.SrcPort, ft.DstIP, ft.DstPort, ft.Protocol, p.Length)
				}
				printed += len(batch)
			}
			if n := src.Skipped(); n > 0 {
				fmt.Fprintf(out, "%d non-IP frames skipped\n", n)
			}
			return nil
		},
	}
	pcapCmd.Flags().IntVarP(&limit, "count", "n", 0, "stop after this many packets (0 = all)")

	gobCmd := &cobra.Command{
		Use:     "gob <part.dat>",
		Short:   "Print the flows of a gob snapshot part",
		Example: `  ns-capture inspect gob snapshots/2024-01-01_00-00-00/five_tuple/part_0.dat`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := export.ReadPart(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range flows {
				fmt.Fprintln(out, export.FormatFlow(f))
			}
			fmt.Fprintf(out, "%d flows\n", len(flows))
			return nil
		},
	}

	cmd.AddCommand(pcapCmd, gobCmd)
	return cmd
}
