package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-triage/state"
)

// NewLedgerCommand inspects the processed-message ledger in defaultStateDir
// or --state-dir.
func NewLedgerCommand(defaultStateDir string) *cobra.Command {
	var stateDir string

	open := func() (*state.FileLedger, error) {
		ledger, err := state.NewFileLedger(stateDir, nil)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		return ledger, nil
	}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the processed-message ledger",
	}
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", defaultStateDir, "Directory holding the ledger")

	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of processed messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, err := open()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d processed messages in %s\n", ledger.Len(), ledger.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every processed message ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, err := open()
			if err != nil {
				return err
			}
			for _, id := range ledger.IDs() {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check [message id]...",
		Short: "Report whether message IDs were processed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := open()
			if err != nil {
				return err
			}
			for _, id := range args {
				status := "not processed"
				if ledger.IsProcessed(id) {
					status = "processed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, status)
			}
			return nil
		},
	})

	return cmd
}
