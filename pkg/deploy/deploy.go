/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package deploy brings up the identity owner, attester and verifier peers of an attestation run and works
// out who is who on the overlay.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hyperledger/aries-framework-go/component/log"
	"golang.org/x/exp/slices"

	"github.com/discipl/ipv8-attestation/pkg/common/failure"
	"github.com/discipl/ipv8-attestation/pkg/identity"
	"github.com/discipl/ipv8-attestation/pkg/peer"
	"github.com/discipl/ipv8-attestation/pkg/poll"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
)

const (
	opDeploy  = "deploy"
	opResolve = "resolve identities"

	peersNotReadyMsg = "Not every peer has found the others yet"
)

var logger = log.New("ipv8-attestation/deploy")

// Config tells where the peers of a deployment go.
type Config struct {
	// BasePort is the API port of the identity owner. The attester and verifier take the next two ports.
	// Zero leaves the ports to the launcher.
	BasePort int
	// WorkRoot holds one working directory per role. Empty means the peers get none.
	WorkRoot string
	Overlay  *peer.OverlayConfig
}

// DefaultConfig returns ports from peer.DefaultBasePort and working directories under the current directory.
func DefaultConfig() Config {
	return Config{BasePort: peer.DefaultBasePort, WorkRoot: "."}
}

// Deployment owns the three peers of a run.
type Deployment struct {
	Owner    *peer.Peer
	Attester *peer.Peer
	Verifier *peer.Peer
}

// Peers returns the peers in start order.
func (d *Deployment) Peers() []*peer.Peer {
	return []*peer.Peer{d.Owner, d.Attester, d.Verifier}
}

// Stop stops every peer, in reverse start order.
func (d *Deployment) Stop(ctx context.Context) error {
	var errs []error

	peers := d.Peers()
	for i := len(peers) - 1; i >= 0; i-- {
		if peers[i] == nil {
			continue
		}

		if err := peers[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", peers[i], err))
		}
	}

	return errors.Join(errs...)
}

// Deploy launches the identity owner, attester and verifier in that order. When a launch fails the peers
// already started are stopped again.
func Deploy(ctx context.Context, launcher peer.Launcher, cfg Config) (*Deployment, error) {
	d := &Deployment{}
	slots := []**peer.Peer{&d.Owner, &d.Attester, &d.Verifier}

	for i, role := range peer.Roles() {
		spec := peer.Spec{Role: role, Overlay: cfg.Overlay}
		if cfg.BasePort > 0 {
			spec.Port = cfg.BasePort + i
		}

		if cfg.WorkRoot != "" {
			spec.WorkDir = filepath.Join(cfg.WorkRoot, string(role))
		}

		p, err := launcher.Launch(ctx, spec)
		if err != nil {
			err = fmt.Errorf("launch %s on port %d: %w", role, spec.Port, err)

			return nil, failure.WithOp(opDeploy, errors.Join(err, d.Stop(context.Background())))
		}

		*slots[i] = p

		logger.Infof("REST api available at %s", p.Endpoint)
	}

	return d, nil
}

// ResolveIdentities fills in the mids of peers started without one. It waits until every peer lists the
// other two, then takes the mid of a peer as the one identity the others see and it does not.
func ResolveIdentities(ctx context.Context, d *Deployment, poller *poll.Poller, requester poll.Requester) error {
	peers := d.Peers()
	views := make([][]string, len(peers))

	for i, p := range peers {
		view, err := discover(ctx, poller, requester, p, len(peers)-1)
		if err != nil {
			return failure.WithOp(opResolve, fmt.Errorf("peers of %s: %w", p, err))
		}

		views[i] = view
	}

	for i, p := range peers {
		if !p.Mid.Empty() {
			continue
		}

		candidates := candidateMids(i, views, peers)
		if len(candidates) != 1 {
			return failure.Newf(opResolve, failure.KindAssertion,
				"cannot tell the mid of %s apart: %d candidates %v", p, len(candidates), candidates)
		}

		mid, err := identity.ParseMid(candidates[0])
		if err != nil {
			return failure.New(opResolve, failure.KindMalformedJSON, err)
		}

		p.Mid = mid

		logger.Infof("%s has mid %s", p, mid.Transport())
	}

	return nil
}

// discover polls the peers query of p until it lists at least want peers.
func discover(ctx context.Context, poller *poll.Poller, requester poll.Requester, p *peer.Peer,
	want int) ([]string, error) {
	var view []string

	fetch := poll.Query(requester, p.Endpoint, attestation.NewQuery(attestation.Peers))

	_, err := poller.Until(ctx, peersNotReadyMsg, func(ctx context.Context) (string, error) {
		body, err := fetch(ctx)
		if err != nil {
			return "", err
		}

		if !poll.IsReady(body) {
			return body, nil
		}

		peers, err := attestation.ParsePeers(body)
		if err != nil {
			return "", failure.New(string(attestation.Peers), failure.KindMalformedJSON, err)
		}

		if len(peers) < want {
			return attestation.EmptyResult, nil
		}

		view = peers

		return body, nil
	})
	if err != nil {
		return nil, err
	}

	return view, nil
}

// candidateMids lists the mids seen by the other peers but not by peer i, without the mids already known.
func candidateMids(i int, views [][]string, peers []*peer.Peer) []string {
	var known []string

	for j, p := range peers {
		if j != i && !p.Mid.Empty() {
			known = append(known, p.Mid.String())
		}
	}

	var candidates []string

	for j, view := range views {
		if j == i {
			continue
		}

		for _, mid := range view {
			if slices.Contains(views[i], mid) || slices.Contains(known, mid) || slices.Contains(candidates, mid) {
				continue
			}

			candidates = append(candidates, mid)
		}
	}

	slices.Sort(candidates)

	return candidates
}
