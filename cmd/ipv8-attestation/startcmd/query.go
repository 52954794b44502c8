/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	attestationclient "github.com/discipl/ipv8-attestation/pkg/client/attestation"
	"github.com/discipl/ipv8-attestation/pkg/client/trustchain"
)

const (
	apiURLFlagName  = "url"
	apiURLEnvKey    = "IPV8_URL"
	apiURLFlagUsage = "API root of the peer, such as http://localhost:8086." + envHint + apiURLEnvKey

	queryMidFlagName  = "mid"
	queryMidFlagUsage = "Base64 mid of the attester, for attributes."

	publicKeyFlagName  = "public-key"
	publicKeyFlagUsage = "Hex public key whose blocks to list, for blocks."

	hashFlagName  = "hash"
	hashFlagUsage = "Hash of the block to fetch, for block."
)

var errMissingArgument = errors.New("missing argument")

type queryArgs struct {
	apiURL, mid, publicKey, hash string
}

type queryFunc func(ctx context.Context, args queryArgs) (interface{}, error)

// nolint:gochecknoglobals
var queries = map[string]queryFunc{
	"peers": func(ctx context.Context, args queryArgs) (interface{}, error) {
		return attestationclient.New(args.apiURL).GetPeers(ctx)
	},
	"outstanding": func(ctx context.Context, args queryArgs) (interface{}, error) {
		return attestationclient.New(args.apiURL).GetOutstanding(ctx)
	},
	"outstanding-verify": func(ctx context.Context, args queryArgs) (interface{}, error) {
		return attestationclient.New(args.apiURL).GetOutstandingVerify(ctx)
	},
	"attributes": func(ctx context.Context, args queryArgs) (interface{}, error) {
		return attestationclient.New(args.apiURL).GetAttributes(ctx, args.mid)
	},
	"verification-output": func(ctx context.Context, args queryArgs) (interface{}, error) {
		return attestationclient.New(args.apiURL).GetVerificationOutput(ctx)
	},
	"blocks": func(ctx context.Context, args queryArgs) (interface{}, error) {
		if args.publicKey == "" {
			return nil, fmt.Errorf("%w: --%s", errMissingArgument, publicKeyFlagName)
		}

		return trustchain.New(args.apiURL).GetBlocksForUser(ctx, args.publicKey)
	},
	"block": func(ctx context.Context, args queryArgs) (interface{}, error) {
		if args.hash == "" {
			return nil, fmt.Errorf("%w: --%s", errMissingArgument, hashFlagName)
		}

		return trustchain.New(args.apiURL).GetBlock(ctx, args.hash)
	},
}

// QueryCmd returns the command that prints the answer of one read query as JSON.
func QueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <peers|outstanding|outstanding-verify|attributes|verification-output|blocks|block>",
		Short: "Query a running peer",
		Long:  "Send one read query to a running peer and print the decoded answer as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyLogLevel(cmd); err != nil {
				return err
			}

			query, ok := queries[args[0]]
			if !ok {
				return fmt.Errorf("unknown query %q", args[0])
			}

			apiURL, err := getUserSetVar(cmd, apiURLFlagName, apiURLEnvKey, false)
			if err != nil {
				return err
			}

			qa := queryArgs{apiURL: apiURL}

			for name, dst := range map[string]*string{
				queryMidFlagName:  &qa.mid,
				publicKeyFlagName: &qa.publicKey,
				hashFlagName:      &qa.hash,
			} {
				if *dst, err = cmd.Flags().GetString(name); err != nil {
					return err
				}
			}

			result, err := query(cmd.Context(), qa)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	createCommonFlags(cmd)
	cmd.Flags().StringP(apiURLFlagName, "u", "", apiURLFlagUsage)
	cmd.Flags().StringP(queryMidFlagName, "", "", queryMidFlagUsage)
	cmd.Flags().StringP(publicKeyFlagName, "", "", publicKeyFlagUsage)
	cmd.Flags().StringP(hashFlagName, "", "", hashFlagUsage)

	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
