/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package startcmd holds the subcommands of ipv8-attestation. Every flag can also be set through an
// IPV8_ prefixed environment variable.
package startcmd

import "github.com/spf13/cobra"

// Cmds returns every subcommand.
func Cmds() []*cobra.Command {
	return []*cobra.Command{DemoCmd(), ScenarioCmd(), PeerCmd(), HealthcheckCmd(), QueryCmd()}
}
