package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the ledger daemon is reachable and running",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := st.consoleLogger(cmd.ErrOrStderr())
			client := newLedgerClient(st.cfg, log)

			s, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("ledger daemon at %s: %w", st.cfg.LedgerURL, err)
			}
			if !s.IsRunning {
				warn(cmd.OutOrStdout(), "ledger daemon at %s is starting up (is_running=false)", st.cfg.LedgerURL)
				return fmt.Errorf("ledger daemon is not running")
			}
			ok(cmd.OutOrStdout(), "ledger daemon at %s is running", st.cfg.LedgerURL)

			owned, err := client.ChannelListMine(cmd.Context())
			if err != nil {
				warn(cmd.OutOrStdout(), "could not list owned groups: %v", err)
				return nil
			}
			for _, ch := range owned {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s (%s)\n", ch.Name, ch.ClaimID)
			}
			return nil
		},
	}
}
