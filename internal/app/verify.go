package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitoshi/mediasync/internal/pipeline"
)

func newVerifyCmd(st *cliState) *cobra.Command {
	var collectionID string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every published item still resolves to its claim",
		Long: `Resolve the claim name of every ledger entry of a collection on the ledger
daemon and report whether the recorded claim is still the winning one.

Nothing is written to the record store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if collectionID == "" {
				return fmt.Errorf("--collection is required")
			}
			log := st.consoleLogger(cmd.ErrOrStderr())

			store, _, err := openStore(st.cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			verifier := pipeline.NewVerifier(store, newLedgerClient(st.cfg, log), log)
			report, err := verifier.Verify(cmd.Context(), collectionID)
			if report != nil {
				printVerifyReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&collectionID, "collection", "", "Collection (channel) id to verify (required)")
	return cmd
}
