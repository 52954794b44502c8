/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"github.com/spf13/cobra"

	"github.com/discipl/ipv8-attestation/pkg/healthcheck"
)

const (
	endpointFlagName  = "endpoint"
	endpointEnvKey    = "IPV8_HEALTHCHECK_ENDPOINT"
	endpointFlagUsage = "Attestation control endpoint to check." + envHint + endpointEnvKey

	expectedPeersFlagName  = "expected-peers"
	expectedPeersEnvKey    = "IPV8_HEALTHCHECK_PEERS"
	expectedPeersFlagUsage = "Base64 mids that must be connected, comma separated." + envHint + expectedPeersEnvKey

	attributePathFlagName  = "attribute-path"
	attributePathEnvKey    = "IPV8_HEALTHCHECK_ATTRIBUTE_PATH"
	attributePathFlagUsage = "JSONPath into the attributes answer." + envHint + attributePathEnvKey

	expectedAttributeFlagName  = "expected-attribute"
	expectedAttributeEnvKey    = "IPV8_HEALTHCHECK_ATTRIBUTE"
	expectedAttributeFlagUsage = "Value the attribute path must yield." + envHint + expectedAttributeEnvKey
)

// HealthcheckCmd returns the command that checks a running peer once.
func HealthcheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check a running peer",
		Long:  "Check that a peer answers, knows the expected peers and holds the expected attribute.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyLogLevel(cmd); err != nil {
				return err
			}

			cfg, err := healthcheckConfig(cmd)
			if err != nil {
				return err
			}

			return healthcheck.New(cfg).Check(cmd.Context())
		},
	}

	createCommonFlags(cmd)
	cmd.Flags().StringP(endpointFlagName, "e", "", endpointFlagUsage)
	cmd.Flags().StringSliceP(expectedPeersFlagName, "", []string{}, expectedPeersFlagUsage)
	cmd.Flags().StringP(attributePathFlagName, "", "", attributePathFlagUsage)
	cmd.Flags().StringP(expectedAttributeFlagName, "", "", expectedAttributeFlagUsage)

	return cmd
}

func healthcheckConfig(cmd *cobra.Command) (healthcheck.Config, error) {
	cfg := healthcheck.DefaultConfig()

	for _, o := range []struct {
		flagName, envKey string
		dst              *string
	}{
		{endpointFlagName, endpointEnvKey, &cfg.Endpoint},
		{attributePathFlagName, attributePathEnvKey, &cfg.AttributePath},
		{expectedAttributeFlagName, expectedAttributeEnvKey, &cfg.ExpectedAttribute},
	} {
		value, err := getUserSetVar(cmd, o.flagName, o.envKey, true)
		if err != nil {
			return cfg, err
		}

		if value != "" {
			*o.dst = value
		}
	}

	peers, err := getUserSetVars(cmd, expectedPeersFlagName, expectedPeersEnvKey, true)
	if err != nil {
		return cfg, err
	}

	if len(peers) > 0 {
		cfg.ExpectedPeers = peers
	}

	return cfg, nil
}
