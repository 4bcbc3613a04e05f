package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"NetSpectra/internal/config"
	"NetSpectra/internal/logging"
	"NetSpectra/internal/probe"
	"NetSpectra/internal/probe/persistent"

	"github.com/google/gopacket/pcap"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	defaultSubject       = "ns.frames.raw"
	promiscuous          = true
	readTimeout          = 250 * time.Millisecond
	progressEveryPackets = 100000
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type probeFlags struct {
	natsURL   string
	subject   string
	iface     string
	snaplen   int32
	bpf       string
	recordDir string
	verbose   bool
}

func newRootCmd() *cobra.Command {
	var f probeFlags
	root := &cobra.Command{
		Use:          "ns-probe",
		Short:        "Capture frames on an interface and publish them to NATS",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&f.natsURL, "nats-url", nats.DefaultURL, "NATS server URL")
	root.PersistentFlags().StringVar(&f.subject, "subject", defaultSubject, "NATS subject carrying frames")
	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "log at debug level")

	pub := &cobra.Command{
		Use:   "pub",
		Short: "Capture and publish",
		Example: `  ns-probe pub --iface eth0 --bpf "tcp or udp"
  ns-probe pub --iface eth0 --record-dir ./captures`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(f)
		},
	}
	pub.Flags().StringVar(&f.iface, "iface", "", "interface to capture packets from")
	pub.Flags().Int32Var(&f.snaplen, "snaplen", 1600, "bytes captured per frame")
	pub.Flags().StringVar(&f.bpf, "bpf", "", "BPF filter expression")
	pub.Flags().StringVar(&f.recordDir, "record-dir", "", "also keep a local pcap copy in this directory")
	pub.MarkFlagRequired("iface")

	sub := &cobra.Command{
		Use:   "sub",
		Short: "Subscribe and print decoded frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscriber(cmd, f)
		},
	}

	root.AddCommand(pub, sub)
	return root
}

func newLogger(verbose bool) (*zap.Logger, error) {
	level := "info"
	if verbose {
		level = "debug"
	}
	return logging.New(config.LogConfig{Level: level})
}

// runProbe contains the logic for capturing frames and publishing them to NATS.
func runProbe(f probeFlags) error {
	logger, err := newLogger(f.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pub, err := probe.NewPublisher(f.natsURL, f.subject, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer pub.Close()

	handle, err := pcap.OpenLive(f.iface, f.snaplen, promiscuous, readTimeout)
	if err != nil {
		return fmt.Errorf("error opening device %s: %w", f.iface, err)
	}
	defer handle.Close()
	if f.bpf != "" {
		if err := handle.SetBPFFilter(f.bpf); err != nil {
			return fmt.Errorf("invalid BPF filter %q: %w", f.bpf, err)
		}
	}
	link := handle.LinkType()

	var rec *persistent.Recorder
	if f.recordDir != "" {
		rec, err = persistent.NewRecorder(f.recordDir, link, uint32(f.snaplen), 0, logger)
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info("Capture started, publishing frames", zap.String("iface", f.iface), zap.String("subject", f.subject))

	published := 0
	for ctx.Err() == nil {
		data, ci, err := handle.ReadPacketData()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to read from %s: %w", f.iface, err)
		}
		if rec != nil {
			rec.Record(data, ci)
		}
		if err := pub.Publish(data, ci, link); err != nil {
			logger.Warn("Failed to publish frame", zap.Error(err))
			continue
		}
		published++
		if published%progressEveryPackets == 0 {
			logger.Info("Frames published", zap.Int("count", published))
		}
	}

	logger.Info("Shutdown signal received, cleaning up...", zap.Int("published", published))
	if rec != nil && rec.Dropped() > 0 {
		logger.Warn("Recorder dropped frames", zap.Uint64("dropped", rec.Dropped()), zap.String("path", rec.Path()))
	}
	return nil
}

// runSubscriber prints every frame received on the subject.
func runSubscriber(cmd *cobra.Command, f probeFlags) error {
	logger, err := newLogger(f.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sub := probe.NewSubscriber(f.natsURL, f.subject, logger)
	if err := sub.Start(); err != nil {
		return err
	}
	defer sub.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	for ctx.Err() == nil {
		batch, err := sub.Next(256)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		for _, p := range batch {
			ft := p.FiveTuple
			fmt.Fprintf(out, "%s %s:%d -> %s:%d proto=%d len=%d\n",
				p.Timestamp.Format(time.RFC3339Nano), ft.SrcIP, ft.SrcPort, ft.DstIP, ft.DstPort, ft.Protocol, p.Length)
		}
	}
	return nil
}
