/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package peer describes overlay peers taking part in an attestation run and how they are started.
package peer

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/discipl/ipv8-attestation/pkg/identity"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
)

// DefaultBasePort is the API port of the first peer; later peers take the following ports.
const DefaultBasePort = 8086

// Role is the part a peer plays in the attestation flow. It also names the peer's working directory.
type Role string

// roles of an attestation run.
const (
	Owner    Role = "idowner"
	Attester Role = "attester"
	Verifier Role = "verifier"
)

// Roles lists the roles in the order their peers are started.
func Roles() []Role {
	return []Role{Owner, Attester, Verifier}
}

//go:generate mockgen -destination ../internal/gomocks/peer/mocks.gen.go -package peer github.com/discipl/ipv8-attestation/pkg/peer Launcher

// Launcher starts peers. Launch returns once the peer's control endpoint answers.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (*Peer, error)
}

// Spec is everything a launcher needs to start one peer.
type Spec struct {
	Role    Role
	Port    int
	WorkDir string
	Overlay *OverlayConfig
}

// Peer is a handle on a started peer.
type Peer struct {
	Role     Role
	Port     int
	Endpoint string
	WorkDir  string
	Mid      identity.Mid

	mu   sync.Mutex
	stop func(ctx context.Context) error
}

// New returns a handle for a peer listening on localhost:port. stop may be nil for peers that are not
// owned by this process.
func New(role Role, port int, mid identity.Mid, stop func(ctx context.Context) error) *Peer {
	return &Peer{
		Role:     role,
		Port:     port,
		Endpoint: LocalEndpoint(port),
		Mid:      mid,
		stop:     stop,
	}
}

// Remote returns a handle for a peer started elsewhere, reachable at endpoint.
func Remote(role Role, endpoint string, mid identity.Mid) *Peer {
	return &Peer{Role: role, Endpoint: endpoint, Mid: mid}
}

// LocalEndpoint is the control endpoint of a peer whose API listens on localhost:port.
func LocalEndpoint(port int) string {
	return attestation.Endpoint("http://localhost:" + strconv.Itoa(port))
}

// String identifies the peer in log lines.
func (p *Peer) String() string {
	return fmt.Sprintf("%s@%s", p.Role, p.Endpoint)
}

// Stop shuts the peer down. Stopping twice is a no-op.
func (p *Peer) Stop(ctx context.Context) error {
	p.mu.Lock()
	stop := p.stop
	p.stop = nil
	p.mu.Unlock()

	if stop == nil {
		return nil
	}

	return stop(ctx)
}

// PrepareWorkDir recreates dir as an empty directory.
func PrepareWorkDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove working directory %s: %w", dir, err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil { //nolint:gomnd
		return fmt.Errorf("create working directory %s: %w", dir, err)
	}

	return nil
}
