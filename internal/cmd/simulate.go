package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/halozone/internal/coordinator"
	"github.com/rudransh-shrivastava/halozone/internal/sim"
)

var (
	simDevices   int
	simMessage   string
	simTransport string
	simSpacing   float64
	simTimeout   time.Duration
	simDBDir     string
	simTick      time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "run several devices in one process",
	Long: `simulate places devices in a line on a plane, lets them discover each other and exchange
discovery tokens, then has the first device send a message to every other device`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		if simDevices < 2 {
			return fmt.Errorf("need at least 2 devices, got %d", simDevices)
		}
		if cfg.MaxPeers < simDevices-1 {
			cfg.MaxPeers = simDevices - 1
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		n, err := sim.New(sim.Options{
			Count:     simDevices,
			Transport: simTransport,
			Config:    cfg,
			Logger:    log,
			DBDir:     simDBDir,
		})
		if err != nil {
			return err
		}
		defer n.Close()

		devices := n.Devices()
		for i, dev := range devices {
			n.Place(dev.ID, float64(i)*simSpacing, 0)
		}
		n.Start(ctx)
		go n.Space.Run(ctx, simTick)

		bar := progressbar.NewOptions(len(devices)-1,
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("exchanging"),
			progressbar.OptionShowCount(),
		)

		sender := devices[0]
		for _, peer := range devices[1:] {
			if err := exchange(ctx, n, sender, peer.ID); err != nil {
				return err
			}
			_ = bar.Add(1)
		}
		_ = bar.Finish()
		fmt.Fprintln(cmd.ErrOrStderr())

		return report(ctx, cmd, n)
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simDevices, "devices", 2, "number of simulated devices")
	simulateCmd.Flags().StringVar(&simMessage, "message", "hello", "message the first device sends")
	simulateCmd.Flags().StringVar(&simTransport, "transport", sim.TransportMemory, "transport: memory or webrtc")
	simulateCmd.Flags().Float64Var(&simSpacing, "spacing", 1.0, "distance in meters between neighbouring devices")
	simulateCmd.Flags().DurationVar(&simTimeout, "timeout", 30*time.Second, "time allowed for each exchange")
	simulateCmd.Flags().DurationVar(&simTick, "tick", 200*time.Millisecond, "ranging measurement interval")
	simulateCmd.Flags().StringVar(&simDBDir, "db-dir", "", "directory for per-device sqlite files (in-memory when empty)")
}

// exchange waits until sender ranges with peerID, sends the message and
// waits for the pairing to complete.
func exchange(ctx context.Context, n *sim.Network, sender *sim.Device, peerID string) error {
	ctx, cancel := context.WithTimeout(ctx, simTimeout)
	defer cancel()

	if err := n.WaitFor(ctx, func() bool {
		return n.Knows(sender.ID, peerID, coordinator.StateTokenExchanged, coordinator.StateRanging)
	}); err != nil {
		return fmt.Errorf("%s never exchanged tokens with %s: %w", sender.ID, peerID, err)
	}

	if err := sender.Coordinator.Send(ctx, simMessage, peerID); err != nil {
		return fmt.Errorf("sending to %s: %w", peerID, err)
	}

	if err := n.WaitFor(ctx, func() bool { return !n.Knows(sender.ID, peerID) }); err != nil {
		return fmt.Errorf("exchange with %s did not complete: %w", peerID, err)
	}
	return nil
}

func report(ctx context.Context, cmd *cobra.Command, n *sim.Network) error {
	out := cmd.OutOrStdout()
	for _, dev := range n.Devices() {
		fmt.Fprintf(out, "device %s\n", dev.ID)

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, p := range dev.Coordinator.Peers() {
			dist := "-"
			if p.Distance != nil {
				dist = fmt.Sprintf("%.2fm", *p.Distance)
			}
			fmt.Fprintf(w, "  peer\t%s\t%s\t%s\n", p.ID, p.State, dist)
		}
		for _, id := range dev.Coordinator.Blocked() {
			fmt.Fprintf(w, "  blocked\t%s\n", id)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		msgs, err := dev.Store.GetMessageLog(ctx)
		if err != nil {
			return err
		}
		if err := printLog(cmd, msgs); err != nil {
			return err
		}
	}
	return nil
}
