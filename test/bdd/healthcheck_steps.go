/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package bdd

import (
	"context"
	"errors"

	"github.com/cucumber/godog"

	"github.com/discipl/ipv8-attestation/pkg/healthcheck"
)

// HealthcheckSteps check the peers started by the attestation steps.
type HealthcheckSteps struct {
	bddContext *Context
}

// NewHealthcheckSteps creates the healthcheck steps.
func NewHealthcheckSteps(ctx *Context) *HealthcheckSteps {
	return &HealthcheckSteps{bddContext: ctx}
}

// RegisterSteps registers the healthcheck steps.
func (h *HealthcheckSteps) RegisterSteps(s *godog.Suite) {
	s.Step(`^the healthcheck of the identity owner passes for attribute "([^"]*)"$`, h.checkPasses)
	s.Step(`^the healthcheck of the identity owner fails when it also expects peer "([^"]*)"$`, h.checkFails)
}

func (h *HealthcheckSteps) ownerConfig(attribute string) healthcheck.Config {
	d := h.bddContext.Deployment

	cfg := healthcheck.DefaultConfig()
	cfg.Endpoint = d.Owner.Endpoint
	cfg.ExpectedPeers = []string{d.Attester.Mid.String(), d.Verifier.Mid.String()}
	cfg.ExpectedAttribute = attribute

	return cfg
}

func (h *HealthcheckSteps) checkPasses(attribute string) error {
	if h.bddContext.RunErr != nil {
		return h.bddContext.RunErr
	}

	return healthcheck.New(h.ownerConfig(attribute)).Check(context.Background())
}

func (h *HealthcheckSteps) checkFails(mid string) error {
	cfg := h.ownerConfig(healthcheck.DefaultConfig().ExpectedAttribute)
	cfg.ExpectedPeers = append(cfg.ExpectedPeers, mid)

	err := healthcheck.New(cfg).Check(context.Background())
	if healthcheck.ExitCode(err) != 1 {
		return errors.New("healthcheck passed with a peer that is not connected")
	}

	return nil
}
