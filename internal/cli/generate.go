package cli

import (
	"fmt"
	"os"
	"time"

	"NetSpectra/pkg/pcap"

	"github.com/spf13/cobra"
)

func newGenerateCmd() *cobra.Command {
	var (
		output string
		count  int
		flows  int
		step   time.Duration
		seed   int64
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic pcap file",
		Long: `Writes random TCP and UDP packets drawn from a fixed set of flows.
Timestamps start now and advance by --step per packet.`,
		Example: `  ns-capture generate --output test.pcap --count 100000 --flows 500
  ns-capture generate -o burst.pcap -c 5000 --step 10us`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("count must be positive, got %d", count)
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating file: %w", err)
			}
			defer f.Close()

			n, err := pcap.Generate(f, pcap.GenerateOptions{
				Packets: count,
				Flows:   flows,
				Start:   time.Now(),
				Step:    step,
				Seed:    seed,
			})
			if err != nil {
				return fmt.Errorf("writing packets: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing file: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Generated %d packets to %s\n", n, output)
			fmt.Fprintf(cmd.OutOrStdout(), "  Flows: %d\n", flows)
			fmt.Fprintf(cmd.OutOrStdout(), "  Span:  %s\n", time.Duration(n)*step)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "test.pcap", "output file path")
	cmd.Flags().IntVarP(&count, "count", "c", 10000, "number of packets to generate")
	cmd.Flags().IntVar(&flows, "flows", 100, "number of distinct flows")
	cmd.Flags().DurationVar(&step, "step", time.Millisecond, "timestamp gap between packets")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	return cmd
}
