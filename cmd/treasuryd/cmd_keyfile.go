package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/b0ase/bsv20-treasury/keystore"
	"github.com/b0ase/bsv20-treasury/tx"
)

type keyfileCmdOptions struct {
	Out        string
	Passphrase string
}

func newKeyfileCommand(opts *rootOptions) *cobra.Command {
	cmdOpts := &keyfileCmdOptions{}

	cmd := &cobra.Command{
		Use:   "keyfile",
		Short: "Manage the encrypted treasury key file",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt TREASURY_PRIVATE_KEY into a key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			out := cmdOpts.Out
			if out == "" {
				out = cfg.Treasury.KeyFile
			}
			if out == "" {
				return errors.New("--out or treasury.key_file is required")
			}
			pass := cmdOpts.Passphrase
			if pass == "" {
				pass = cfg.Treasury.KeyPassphrase
			}
			if pass == "" {
				return errors.New("--passphrase or treasury.key_passphrase is required")
			}
			if _, err := keystore.ParseWIF(cfg.Treasury.PrivateKey); err != nil {
				return err
			}
			if err := keystore.WriteKeyFile(out, cfg.Treasury.PrivateKey, pass); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "wrote", out)
			return err
		},
	}
	encrypt.Flags().StringVar(&cmdOpts.Out, "out", "", "key file path (default treasury.key_file)")
	encrypt.Flags().StringVar(&cmdOpts.Passphrase, "passphrase", "", "encryption passphrase (default treasury.key_passphrase)")

	address := &cobra.Command{
		Use:   "address",
		Short: "Print the address of the configured signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := newKeySource(opts.cfg).PrivateKey(cmd.Context())
			if err != nil {
				return err
			}
			addr, err := tx.AddressFromKey(key)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), addr.AddressString)
			return err
		},
	}

	cmd.AddCommand(encrypt, address)
	return cmd
}
