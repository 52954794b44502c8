/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package main is the ipv8-attestation command: it runs the three-party attestation demo on overlay peers,
// serves in-process peers and queries or checks running ones.
package main

import (
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/spf13/cobra"

	"github.com/discipl/ipv8-attestation/cmd/ipv8-attestation/startcmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use: "ipv8-attestation",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	logger := log.New("ipv8-attestation")

	rootCmd.AddCommand(startcmd.Cmds()...)

	if err := rootCmd.Execute(); err != nil {
		logger.Fatalf("Failed to run ipv8-attestation: %s", err)
	}
}
