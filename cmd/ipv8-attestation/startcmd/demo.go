/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/discipl/ipv8-attestation/pkg/client/rest"
	"github.com/discipl/ipv8-attestation/pkg/deploy"
	"github.com/discipl/ipv8-attestation/pkg/scenario"
)

const (
	onceFlagName  = "once"
	onceEnvKey    = "IPV8_ONCE"
	onceFlagUsage = "Stop the peers as soon as the run is over instead of waiting for an interrupt (true/false)." +
		envHint + onceEnvKey
)

// DemoCmd returns the command that starts three peers and runs the attestation scenario on them.
func DemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the attestation demo",
		Long: "Start an identity owner, an attester and a verifier, let the attester attest an attribute of " +
			"the owner and have the verifier check it. The peers keep running until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyLogLevel(cmd); err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			onceValue, err := getUserSetVar(cmd, onceFlagName, onceEnvKey, true)
			if err != nil {
				return err
			}

			var once bool
			if onceValue != "" {
				if err = setBool(&once)(onceValue); err != nil {
					return err
				}
			}

			launcher, err := newLauncher(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := deploy.Deploy(ctx, launcher, deploy.Config{
				BasePort: cfg.BasePort,
				WorkRoot: cfg.WorkRoot,
				Overlay:  cfg.Overlay,
			})
			if err != nil {
				return err
			}

			defer func() {
				if err := d.Stop(context.Background()); err != nil {
					logger.Warnf("stopping peers: %s", err)
				}
			}()

			if err = deploy.ResolveIdentities(ctx, d, cfg.Poll.Poller(nil), rest.New()); err != nil {
				return scenario.Report(logger, nil, err)
			}

			driver, err := scenario.New(d.Owner, d.Attester, d.Verifier, scenarioOptions(cfg)...)
			if err != nil {
				return err
			}

			res, err := driver.Run(ctx)
			if err = scenario.Report(logger, res, err); err != nil {
				return err
			}

			if !once {
				logger.Infof("peers keep running, interrupt to stop them")
				<-ctx.Done()
			}

			return nil
		},
	}

	createCommonFlags(cmd)
	createRunFlags(cmd)
	createDeployFlags(cmd)
	cmd.Flags().StringP(onceFlagName, "", "", onceFlagUsage)

	return cmd
}
