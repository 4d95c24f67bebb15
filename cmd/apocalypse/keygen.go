package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// newKeygenCmd prints a fresh signing key, for wallets and for session keys.
func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key and print it with its address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return eris.Wrap(err, "failed to generate key")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "address: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
			fmt.Fprintf(out, "private key: %s\n", hexutil.Encode(crypto.FromECDSA(key)))
			return nil
		},
	}
}
