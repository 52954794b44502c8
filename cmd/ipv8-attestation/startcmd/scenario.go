/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/discipl/ipv8-attestation/pkg/client/rest"
	"github.com/discipl/ipv8-attestation/pkg/deploy"
	"github.com/discipl/ipv8-attestation/pkg/peer"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
	"github.com/discipl/ipv8-attestation/pkg/scenario"
)

const (
	ownerURLFlagName    = "idowner-url"
	ownerURLEnvKey      = "IPV8_IDOWNER_URL"
	attesterURLFlagName = "attester-url"
	attesterURLEnvKey   = "IPV8_ATTESTER_URL"
	verifierURLFlagName = "verifier-url"
	verifierURLEnvKey   = "IPV8_VERIFIER_URL"
	urlFlagUsage        = "API root of the %s, such as http://localhost:8086." + envHint + "%s"

	ownerMidFlagName    = "idowner-mid"
	ownerMidEnvKey      = "IPV8_IDOWNER_MID"
	attesterMidFlagName = "attester-mid"
	attesterMidEnvKey   = "IPV8_ATTESTER_MID"
	verifierMidFlagName = "verifier-mid"
	verifierMidEnvKey   = "IPV8_VERIFIER_MID"
	midFlagUsage        = "Base64 mid of the %s. Worked out from the peer lists when not set." + envHint + "%s"
)

type roleFlags struct {
	role                   peer.Role
	urlFlagName, urlEnvKey string
	midFlagName, midEnvKey string
}

func scenarioRoleFlags() []roleFlags {
	return []roleFlags{
		{peer.Owner, ownerURLFlagName, ownerURLEnvKey, ownerMidFlagName, ownerMidEnvKey},
		{peer.Attester, attesterURLFlagName, attesterURLEnvKey, attesterMidFlagName, attesterMidEnvKey},
		{peer.Verifier, verifierURLFlagName, verifierURLEnvKey, verifierMidFlagName, verifierMidEnvKey},
	}
}

// ScenarioCmd returns the command that runs the attestation scenario against peers started elsewhere.
func ScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run the attestation scenario against running peers",
		Long:  "Run the attestation scenario against an identity owner, attester and verifier that are already up.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyLogLevel(cmd); err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			d, err := remoteDeployment(cmd)
			if err != nil {
				return err
			}

			for _, p := range d.Peers() {
				if p.Mid.Empty() {
					err = deploy.ResolveIdentities(cmd.Context(), d, cfg.Poll.Poller(nil), rest.New())
					if err != nil {
						return scenario.Report(logger, nil, err)
					}

					break
				}
			}

			driver, err := scenario.New(d.Owner, d.Attester, d.Verifier, scenarioOptions(cfg)...)
			if err != nil {
				return err
			}

			res, err := driver.Run(cmd.Context())

			return scenario.Report(logger, res, err)
		},
	}

	createCommonFlags(cmd)
	createRunFlags(cmd)

	for _, f := range scenarioRoleFlags() {
		cmd.Flags().StringP(f.urlFlagName, "", "", fmt.Sprintf(urlFlagUsage, f.role, f.urlEnvKey))
		cmd.Flags().StringP(f.midFlagName, "", "", fmt.Sprintf(midFlagUsage, f.role, f.midEnvKey))
	}

	return cmd
}

func remoteDeployment(cmd *cobra.Command) (*deploy.Deployment, error) {
	peers := make([]*peer.Peer, 0, len(peer.Roles()))

	for _, f := range scenarioRoleFlags() {
		apiURL, err := getUserSetVar(cmd, f.urlFlagName, f.urlEnvKey, false)
		if err != nil {
			return nil, err
		}

		midValue, err := getUserSetVar(cmd, f.midFlagName, f.midEnvKey, true)
		if err != nil {
			return nil, err
		}

		mid, err := parseMid(midValue)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.midFlagName, err)
		}

		peers = append(peers, peer.Remote(f.role, attestation.Endpoint(apiURL), mid))
	}

	return &deploy.Deployment{Owner: peers[0], Attester: peers[1], Verifier: peers[2]}, nil
}
