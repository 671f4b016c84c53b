package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/b0ase/bsv20-treasury/paymail"
	"github.com/b0ase/bsv20-treasury/transfer"
)

var errDrift = errors.New("ledger and chain disagree")

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type transferCmdOptions struct {
	HolderID string
}

func newTransferCommand(opts *rootOptions) *cobra.Command {
	cmdOpts := &transferCmdOptions{}

	cmd := &cobra.Command{
		Use:     "transfer <address|paymail> <amount>",
		Short:   "Send tokens from the treasury",
		Args:    cobra.ExactArgs(2),
		Example: `treasuryd transfer alice@handcash.io 1000 --holder 5f0c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil || amount == 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[1])
			}
			req := transfer.Request{Amount: amount, HolderID: cmdOpts.HolderID}
			if paymail.IsPaymail(args[0]) {
				req.Paymail = args[0]
			} else {
				req.Address = args[0]
			}

			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.transfer.Transfer(cmd.Context(), req)
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cmdOpts.HolderID, "holder", "", "ledger holder to debit after broadcast")
	return cmd
}

type reconcileCmdOptions struct {
	FailOnDrift bool
}

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	cmdOpts := &reconcileCmdOptions{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare ledger balances with the chain indexer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.treasury.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if cmdOpts.FailOnDrift && !report.InSync {
				return fmt.Errorf("%w: %d discrepancies", errDrift, len(report.Discrepancies))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cmdOpts.FailOnDrift, "fail-on-drift", false, "exit non-zero when discrepancies are found")
	return cmd
}

func newBalanceCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the on-chain treasury balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return writeJSON(cmd.OutOrStdout(), a.treasury.OnChainTreasuryBalance(cmd.Context()))
		},
	}
}
