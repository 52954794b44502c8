/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/phayes/freeport"
	"github.com/spf13/cobra"

	"github.com/discipl/ipv8-attestation/pkg/config"
	"github.com/discipl/ipv8-attestation/pkg/peer"
)

const (
	roleFlagName  = "role"
	roleEnvKey    = "IPV8_ROLE"
	roleFlagUsage = "Roles to serve, comma separated: idowner, attester, verifier." + envHint + roleEnvKey

	portFlagName  = "port"
	portEnvKey    = "IPV8_PORT"
	portFlagUsage = "API port of the first role; later roles take the following ports. 0 picks free ports." +
		envHint + portEnvKey

	workDirFlagName  = "work-dir"
	workDirEnvKey    = "IPV8_WORK_DIR"
	workDirFlagUsage = "Directory holding one working directory per role. Without it state stays in memory." +
		envHint + workDirEnvKey

	autoAllowFlagName  = "auto-allow-verify"
	autoAllowEnvKey    = "IPV8_AUTO_ALLOW_VERIFY"
	autoAllowFlagUsage = "Answer verification requests without waiting for allow_verify (true/false)." +
		envHint + autoAllowEnvKey
)

var errNoRole = errors.New("no role to serve")

// PeerCmd returns the command that serves loopback peers until interrupted.
func PeerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Serve in-process peers",
		Long: "Serve the attestation control endpoint of one or more in-process peers sharing one overlay, " +
			"until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyLogLevel(cmd); err != nil {
				return err
			}

			roleValues, err := getUserSetVars(cmd, roleFlagName, roleEnvKey, false)
			if err != nil {
				return err
			}

			roles := make([]peer.Role, 0, len(roleValues))

			for _, v := range roleValues {
				role, err := parseRole(v)
				if err != nil {
					return err
				}

				roles = append(roles, role)
			}

			if len(roles) == 0 {
				return errNoRole
			}

			ports, err := peerPorts(cmd, len(roles))
			if err != nil {
				return err
			}

			workDir, err := getUserSetVar(cmd, workDirFlagName, workDirEnvKey, true)
			if err != nil {
				return err
			}

			lcfg := config.Default().Loopback

			autoAllow, err := getUserSetVar(cmd, autoAllowFlagName, autoAllowEnvKey, true)
			if err != nil {
				return err
			}

			if autoAllow != "" {
				if err = setBool(&lcfg.AutoAllowVerify)(autoAllow); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return servePeers(ctx, lcfg, roles, ports, workDir)
		},
	}

	createCommonFlags(cmd)
	cmd.Flags().StringSliceP(roleFlagName, "r", []string{}, roleFlagUsage)
	cmd.Flags().StringP(portFlagName, "p", "", portFlagUsage)
	cmd.Flags().StringP(workDirFlagName, "w", "", workDirFlagUsage)
	cmd.Flags().StringP(autoAllowFlagName, "", "", autoAllowFlagUsage)

	return cmd
}

func peerPorts(cmd *cobra.Command, n int) ([]int, error) {
	portValue, err := getUserSetVar(cmd, portFlagName, portEnvKey, true)
	if err != nil {
		return nil, err
	}

	base := peer.DefaultBasePort
	if portValue != "" {
		if err = setInt(&base)(portValue); err != nil {
			return nil, err
		}
	}

	if base == 0 {
		return freeport.GetFreePorts(n)
	}

	ports := make([]int, n)
	for i := range ports {
		ports[i] = base + i
	}

	return ports, nil
}

func servePeers(ctx context.Context, cfg config.LoopbackConfig, roles []peer.Role, ports []int, workDir string) error {
	launcher := newLoopbackLauncher(cfg)

	var started []*peer.Peer

	defer func() {
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(context.Background()); err != nil {
				logger.Warnf("stopping %s: %s", started[i], err)
			}
		}
	}()

	for i, role := range roles {
		spec := peer.Spec{Role: role, Port: ports[i]}
		if workDir != "" {
			spec.WorkDir = filepath.Join(workDir, string(role))
		}

		p, err := launcher.Launch(ctx, spec)
		if err != nil {
			return err
		}

		started = append(started, p)

		logger.Infof("REST api available at %s for mid: %s", p.Endpoint, p.Mid.Transport())
	}

	<-ctx.Done()

	return nil
}
