package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"NetSpectra/internal/engine/manager"
	"NetSpectra/internal/export"
	"NetSpectra/internal/model"
	"NetSpectra/pkg/pcap"

	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		configPath string
		outDir     string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <pcap>...",
		Short: "Aggregate capture files and exit once every table is exported",
		Long: `Replays one or more pcap/pcapng files through the configured classifiers.
Without --config a 5-tuple flow counter and a traffic counter are used.
The configured sources are ignored and the status server is not started.`,
		Example: `  ns-capture analyze trace.pcap --out ./snapshots
  ns-capture analyze a.pcapng b.pcap --config configs/config.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			sources := make([]model.PacketSource, len(args))
			for i, path := range args {
				sources[i] = pcap.NewFileSource(path, logger)
			}

			opts := []manager.Option{manager.WithoutAPI()}
			if outDir != "" {
				opts = append(opts, manager.WithWriters(export.NewTextWriter(outDir, logger)))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, err := manager.NewManager(ctx, cfg, sources, logger, opts...)
			if err != nil {
				return err
			}
			if err := m.Run(ctx); err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), m)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file path (default: built-in classifiers)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "also write flows as text under this directory")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	return cmd
}

func printReport(w io.Writer, m *manager.Manager) {
	s := m.Stats()
	e := m.ExportStats()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Packets:\t%d\n", s.Packets.Load())
	fmt.Fprintf(tw, "Tables flushed:\t%d interval, %d pressure, %d final\n",
		s.IntervalFlushes.Load(), s.PressureFlushes.Load(), s.FinalFlushes.Load())
	fmt.Fprintf(tw, "Hand-offs:\t%d\n", s.HandOffs.Load())
	fmt.Fprintf(tw, "Flows exported:\t%d\n", e.Flows.Load())
	fmt.Fprintf(tw, "Peak memory:\t%d bytes\n", m.Arena().Peak())
	if n := s.SourceErrors.Load(); n > 0 {
		fmt.Fprintf(tw, "Source errors:\t%d\n", n)
	}
	tw.Flush()
}
