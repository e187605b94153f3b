package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/halozone/internal/identity"
	"github.com/rudransh-shrivastava/halozone/internal/store"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "print the persisted message log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		msgs, err := st.GetMessageLog(cmd.Context())
		if err != nil {
			return err
		}
		return printLog(cmd, msgs)
	},
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "list blocked peers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ids, err := st.GetBlockedPeers(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var regenerateIdentity bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "clear the blocked set and the message log",
	Long:  `clear the blocked set and the message log. The device identity is kept unless --identity is given`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ClearAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cleared blocked peers and message log")

		if regenerateIdentity {
			id := identity.New(st, log).Regenerate()
			fmt.Fprintf(cmd.OutOrStdout(), "new identity %s\n", id)
		}
		return nil
	},
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "print this device's identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		fmt.Fprintln(cmd.OutOrStdout(), identity.New(st, log).Identity())
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&regenerateIdentity, "identity", false, "also generate a new device identity")
}

func printLog(cmd *cobra.Command, msgs []store.Message) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%q\n", m.CreatedAt.Format(time.DateTime), m.Direction, m.PeerID, m.Text)
	}
	return w.Flush()
}
