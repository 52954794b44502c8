/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package bdd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	attestationclient "github.com/discipl/ipv8-attestation/pkg/client/attestation"
	"github.com/discipl/ipv8-attestation/pkg/client/rest"
	"github.com/discipl/ipv8-attestation/pkg/client/trustchain"
	"github.com/discipl/ipv8-attestation/pkg/common/failure"
	"github.com/discipl/ipv8-attestation/pkg/deploy"
	"github.com/discipl/ipv8-attestation/pkg/identity"
	"github.com/discipl/ipv8-attestation/pkg/peer"
	"github.com/discipl/ipv8-attestation/pkg/peer/loopback"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
	"github.com/discipl/ipv8-attestation/pkg/scenario"
)

var logger = log.New("ipv8-attestation/bdd")

// AttestationSteps drives peers through the attestation flow.
type AttestationSteps struct {
	bddContext *Context
}

// NewAttestationSteps creates the attestation steps.
func NewAttestationSteps(ctx *Context) *AttestationSteps {
	return &AttestationSteps{bddContext: ctx}
}

// RegisterSteps registers the attestation steps.
func (a *AttestationSteps) RegisterSteps(s *godog.Suite) {
	s.Step(`^an identity owner, an attester and a verifier are running$`, a.startPeers(true))
	s.Step(`^an identity owner, an attester and a verifier that ask for consent are running$`, a.startPeers(false))
	s.Step(`^every peer has worked out the mids of the others$`, a.resolveIdentities)
	s.Step(`^the attestation scenario runs for attribute "([^"]*)" with value "([^"]*)"$`, a.runScenario)
	s.Step(`^the attestation scenario runs with consent for attribute "([^"]*)" with value "([^"]*)"$`,
		a.runScenarioWithConsent)
	s.Step(`^the attestation scenario runs with an unknown attester$`, a.runWithUnknownAttester)
	s.Step(`^the attribute is verified with a match above ([\d.]+)$`, a.checkVerified)
	s.Step(`^the identity owner lists attribute "([^"]*)" attested by the attester$`, a.checkAttribute)
	s.Step(`^the trustchain of the identity owner holds a block for attribute "([^"]*)"$`, a.checkBlock)
	s.Step(`^the run fails at step "([^"]*)" with a "([^"]*)" failure$`, a.checkFailure)
	s.Step(`^the attester still answers with no outstanding requests$`, a.checkNoOutstanding)
}

func (a *AttestationSteps) startPeers(autoAllow bool) func() error {
	return func() error {
		workRoot := filepath.Join(a.bddContext.WorkRoot, uuid.New().String())

		a.bddContext.Launcher = loopback.NewLauncher(loopback.WithAutoAllowVerify(autoAllow))

		d, err := deploy.Deploy(context.Background(), a.bddContext.Launcher, deploy.Config{WorkRoot: workRoot})
		if err != nil {
			return err
		}

		a.bddContext.Deployment = d

		return nil
	}
}

func (a *AttestationSteps) resolveIdentities() error {
	d := a.bddContext.Deployment

	want := make([]identity.Mid, 0, len(d.Peers()))
	for _, p := range d.Peers() {
		want = append(want, p.Mid)
	}

	// forget the mids the launcher reported and work them out from the peer lists
	unresolved := &deploy.Deployment{
		Owner:    peer.Remote(peer.Owner, d.Owner.Endpoint, nil),
		Attester: peer.Remote(peer.Attester, d.Attester.Endpoint, nil),
		Verifier: peer.Remote(peer.Verifier, d.Verifier.Endpoint, nil),
	}

	if err := deploy.ResolveIdentities(context.Background(), unresolved, a.bddContext.Poller(), rest.New()); err != nil {
		return err
	}

	for i, p := range unresolved.Peers() {
		if p.Mid.String() != want[i].String() {
			return fmt.Errorf("%s resolved to %s, launched as %s", p, p.Mid, want[i])
		}
	}

	return nil
}

func (a *AttestationSteps) run(driver *scenario.Driver, err error) error {
	if err != nil {
		return err
	}

	a.bddContext.Result, a.bddContext.RunErr = driver.Run(context.Background())

	return nil
}

func (a *AttestationSteps) driverOptions(name, value string) []scenario.Option {
	return []scenario.Option{
		scenario.WithPoller(a.bddContext.Poller()),
		scenario.WithAttribute(name, value),
	}
}

func (a *AttestationSteps) runScenario(name, value string) error {
	d := a.bddContext.Deployment

	return a.run(scenario.New(d.Owner, d.Attester, d.Verifier, a.driverOptions(name, value)...))
}

func (a *AttestationSteps) runScenarioWithConsent(name, value string) error {
	d := a.bddContext.Deployment

	return a.run(scenario.New(d.Owner, d.Attester, d.Verifier,
		append(a.driverOptions(name, value), scenario.WithConsent())...))
}

func (a *AttestationSteps) runWithUnknownAttester() error {
	d := a.bddContext.Deployment
	bogus := peer.Remote(peer.Attester, d.Attester.Endpoint, identity.MidFromPublicKey([]byte(uuid.New().String())))

	return a.run(scenario.New(d.Owner, bogus, d.Verifier,
		a.driverOptions(scenario.DefaultAttributeName, scenario.DefaultAttributeValue)...))
}

func (a *AttestationSteps) checkVerified(threshold float64) error {
	res, err := a.bddContext.Result, a.bddContext.RunErr
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if !res.Verified || res.Match <= threshold {
		return fmt.Errorf("attribute %s not verified: match %v", res.AttributeHash, res.Match)
	}

	return nil
}

func (a *AttestationSteps) checkAttribute(name string) error {
	d := a.bddContext.Deployment

	attributes, err := attestationclient.New(apiRoot(d.Owner)).GetAttributes(context.Background(), "")
	if err != nil {
		return err
	}

	for _, attr := range attributes {
		if attr.Name == name {
			if attr.Attestor != d.Attester.Mid.String() {
				return fmt.Errorf("attribute %s attested by %s, want %s", name, attr.Attestor, d.Attester.Mid)
			}

			return nil
		}
	}

	return fmt.Errorf("identity owner has no attribute %s", name)
}

func (a *AttestationSteps) checkBlock(name string) error {
	d := a.bddContext.Deployment

	node, ok := a.bddContext.Launcher.Node(d.Owner)
	if !ok {
		return errors.New("identity owner is not a loopback peer")
	}

	blocks, err := trustchain.New(apiRoot(d.Owner)).GetBlocksForUser(context.Background(),
		hex.EncodeToString(node.PublicKey()))
	if err != nil {
		return err
	}

	for _, b := range blocks {
		if b.Transaction.Name == name {
			return nil
		}
	}

	return fmt.Errorf("no block for attribute %s among %d blocks", name, len(blocks))
}

func (a *AttestationSteps) checkFailure(step, kind string) error {
	err := a.bddContext.RunErr
	if err == nil {
		return errors.New("run succeeded")
	}

	var fe *failure.Error
	if !errors.As(err, &fe) {
		return fmt.Errorf("unclassified failure: %w", err)
	}

	if fe.Op != step || fe.Kind.String() != kind {
		return fmt.Errorf("run failed at %q with %s, want %q with %s", fe.Op, fe.Kind, step, kind)
	}

	return nil
}

func (a *AttestationSteps) checkNoOutstanding() error {
	d := a.bddContext.Deployment

	body, err := rest.New().Request(context.Background(), attestation.Outstanding.Method(), d.Attester.Endpoint,
		attestation.NewQuery(attestation.Outstanding).Values()...)
	if err != nil {
		return err
	}

	if !attestation.IsEmpty(body) {
		return fmt.Errorf("attester has outstanding requests: %s", body)
	}

	return nil
}

func apiRoot(p *peer.Peer) string {
	return strings.TrimSuffix(p.Endpoint, attestation.Path)
}

func workRoot() string {
	if dir := os.Getenv("IPV8_BDD_WORK_ROOT"); dir != "" {
		return dir
	}

	return filepath.Join(os.TempDir(), "ipv8-attestation-bdd")
}
