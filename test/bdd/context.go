/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package bdd

import (
	"context"
	"time"

	"github.com/discipl/ipv8-attestation/pkg/deploy"
	"github.com/discipl/ipv8-attestation/pkg/peer/loopback"
	"github.com/discipl/ipv8-attestation/pkg/poll"
	"github.com/discipl/ipv8-attestation/pkg/scenario"
)

// Context is shared by the steps of one scenario.
type Context struct {
	Launcher   *loopback.Launcher
	Deployment *deploy.Deployment
	WorkRoot   string
	Result     *scenario.Result
	RunErr     error
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{}
}

// Poller returns the poller the steps wait with.
func (b *Context) Poller() *poll.Poller {
	return poll.New(poll.WithInterval(20*time.Millisecond), poll.WithMaxAttempts(250))
}

// BeforeScenario resets the state left by the previous scenario.
func (b *Context) BeforeScenario(interface{}) {
	b.Launcher = nil
	b.Deployment = nil
	b.Result = nil
	b.RunErr = nil
}

// AfterScenario stops the peers the scenario started.
func (b *Context) AfterScenario(interface{}, error) {
	if b.Deployment == nil {
		return
	}

	if err := b.Deployment.Stop(context.Background()); err != nil {
		logger.Warnf("stopping peers: %s", err)
	}
}
