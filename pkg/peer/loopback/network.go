/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package loopback

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// Network connects the loopback peers of one process. Peers find each other through it and deliver
// their attestation messages by calling into each other directly.
type Network struct {
	mu             sync.RWMutex
	nodes          map[string]*Node
	discoveryDelay time.Duration
	now            func() time.Time
}

// NetworkOption configures a network.
type NetworkOption func(opts *Network)

// WithDiscoveryDelay hides a peer from the others until it has been on the network for d.
func WithDiscoveryDelay(d time.Duration) NetworkOption {
	return func(opts *Network) {
		opts.discoveryDelay = d
	}
}

// NewNetwork creates an empty network.
func NewNetwork(opts ...NetworkOption) *Network {
	n := &Network{nodes: map[string]*Node{}, now: time.Now}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

func (n *Network) join(node *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()

	node.joined = n.now()
	n.nodes[node.Mid().String()] = node
}

func (n *Network) leave(node *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.nodes, node.Mid().String())
}

// lookup returns the discovered peer with the given base64 mid.
func (n *Network) lookup(mid string) (*Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	node, ok := n.nodes[mid]
	if !ok || !n.discovered(node) {
		return nil, false
	}

	return node, true
}

// neighbours lists the base64 mids self can see, sorted. A peer that is itself still undiscovered sees nobody.
func (n *Network) neighbours(self *Node) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	mids := []string{}

	if !n.discovered(self) {
		return mids
	}

	for mid, node := range n.nodes {
		if node == self || !n.discovered(node) {
			continue
		}

		mids = append(mids, mid)
	}

	slices.Sort(mids)

	return mids
}

func (n *Network) discovered(node *Node) bool {
	return n.now().Sub(node.joined) >= n.discoveryDelay
}
