/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package loopback runs attestation peers inside the current process. The peers speak the attestation
// control protocol over HTTP and exchange their messages through a shared in-process network, which makes
// them a stand-in for overlay peers in tests and offline demos.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storage/leveldb"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/discipl/ipv8-attestation/pkg/internal/cmdutil"
	"github.com/discipl/ipv8-attestation/pkg/peer"
)

const (
	stateDir          = "state"
	stateDBPrefix     = "db"
	listenHost        = "127.0.0.1"
	readHeaderTimeout = 5 * time.Second
)

// Launcher starts loopback peers on one network.
type Launcher struct {
	network  *Network
	cfg      nodeConfig
	inMemory bool

	mu    sync.Mutex
	nodes map[string]*Node
}

// Option configures the launcher.
type Option func(opts *Launcher)

// WithNetwork places the launched peers on network instead of a private one.
func WithNetwork(network *Network) Option {
	return func(opts *Launcher) {
		opts.network = network
	}
}

// WithAutoAllowVerify makes owners answer verification requests without waiting for allow_verify.
func WithAutoAllowVerify(auto bool) Option {
	return func(opts *Launcher) {
		opts.cfg.autoAllowVerify = auto
	}
}

// WithProcessingDelay delays the delivery of every message between peers by d.
func WithProcessingDelay(d time.Duration) Option {
	return func(opts *Launcher) {
		opts.cfg.processingDelay = d
	}
}

// WithRequestTTL drops outstanding requests that were not answered within ttl.
func WithRequestTTL(ttl time.Duration) Option {
	return func(opts *Launcher) {
		opts.cfg.requestTTL = ttl
	}
}

// WithInMemoryStorage keeps peer state in memory even when the peer has a working directory.
func WithInMemoryStorage() Option {
	return func(opts *Launcher) {
		opts.inMemory = true
	}
}

// NewLauncher creates a launcher.
func NewLauncher(opts ...Option) *Launcher {
	l := &Launcher{nodes: map[string]*Node{}}

	for _, opt := range opts {
		opt(l)
	}

	if l.network == nil {
		l.network = NewNetwork()
	}

	return l
}

// Network returns the network the launched peers join.
func (l *Launcher) Network() *Network {
	return l.network
}

// Launch starts a peer serving the control endpoint on spec.Port. A zero port picks a free one.
func (l *Launcher) Launch(ctx context.Context, spec peer.Spec) (*peer.Peer, error) {
	overlay := spec.Overlay
	if overlay == nil {
		overlay = peer.DefaultOverlayConfig()
	}

	for _, class := range []string{peer.AttestationCommunity, peer.IdentityCommunity} {
		if !overlay.HasOverlay(class) {
			return nil, fmt.Errorf("launch %s: overlay configuration lacks %s", spec.Role, class)
		}
	}

	provider, err := l.storageProvider(spec, overlay)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Role, err)
	}

	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", net.JoinHostPort(listenHost, strconv.Itoa(spec.Port)))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("launch %s: listen: %w", spec.Role, err), provider.Close())
	}

	node, err := newNode(spec.Role, l.network, provider, l.cfg)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("launch %s: %w", spec.Role, err), listener.Close(), provider.Close())
	}

	srv := &http.Server{
		Handler:           cmdutil.NewRouter(NewOperation(node).GetRESTHandlers()...),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("%s: serve control endpoint: %v", spec.Role, err)
		}
	}()

	l.mu.Lock()
	l.nodes[node.Mid().String()] = node
	l.mu.Unlock()

	port := listener.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert

	logger.Infof("%s listening on %s:%d", spec.Role, listenHost, port)

	p := peer.New(spec.Role, port, node.Mid(), func(ctx context.Context) error {
		l.mu.Lock()
		delete(l.nodes, node.Mid().String())
		l.mu.Unlock()

		return errors.Join(srv.Shutdown(ctx), node.close())
	})
	p.WorkDir = spec.WorkDir

	return p, nil
}

// Node returns the state of a running peer launched by l.
func (l *Launcher) Node(p *peer.Peer) (*Node, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	node, ok := l.nodes[p.Mid.String()]

	return node, ok
}

// storageProvider prepares the working directory of the peer and opens its state storage there.
func (l *Launcher) storageProvider(spec peer.Spec, overlay *peer.OverlayConfig) (storage.Provider, error) {
	if spec.WorkDir == "" {
		return mem.NewProvider(), nil
	}

	if err := peer.PrepareWorkDir(spec.WorkDir); err != nil {
		return nil, err
	}

	if _, err := overlay.Write(spec.WorkDir); err != nil {
		return nil, err
	}

	if l.inMemory {
		return mem.NewProvider(), nil
	}

	// the provider names each store file <prefix>-<store name>
	dir := filepath.Join(spec.WorkDir, stateDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	return leveldb.NewProvider(filepath.Join(dir, stateDBPrefix)), nil
}
