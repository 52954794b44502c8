/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package main checks the integration test peer once and exits 0 when it is healthy, 1 otherwise.
package main

import (
	"context"
	"os"
	"time"

	"github.com/discipl/ipv8-attestation/pkg/healthcheck"
)

const checkTimeout = 30 * time.Second

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	err := healthcheck.New(healthcheck.DefaultConfig()).Check(ctx)

	cancel()
	os.Exit(healthcheck.ExitCode(err))
}
