package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/podgate/podgate/internal/dpop"
	"github.com/podgate/podgate/internal/keys"
)

func newProofCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof <method> <uri>",
		Short: "Print a DPoP proof for a request, signed with a throwaway key",
		Args:  cobra.ExactArgs(2),
		RunE:  runProof,
	}

	cmd.Flags().Bool("decode", false, "print the decoded header and claims instead of the token")

	return cmd
}

// proofOutput is the JSON schema for `proof --decode`.
type proofOutput struct {
	Header map[string]any `json:"header"`
	Claims map[string]any `json:"claims"`
}

func runProof(cmd *cobra.Command, args []string) error {
	decode, _ := cmd.Flags().GetBool("decode")
	logger := buildLogger()

	builder := dpop.NewBuilder(keys.NewManager(logger), nil, logger)

	proof, err := builder.Build(args[0], args[1])
	if err != nil {
		return err
	}

	if !decode {
		fmt.Fprintln(cmd.OutOrStdout(), proof)
		return nil
	}

	p, err := dpop.Decode(proof)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), proofOutput{
		Header: map[string]any{"typ": p.Header.Type, "alg": p.Header.Algorithm, "jwk": p.Header.JWK},
		Claims: p.Raw,
	})
}
