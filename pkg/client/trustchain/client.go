/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package trustchain is a client of the trustchain API of an overlay peer.
package trustchain

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/discipl/ipv8-attestation/pkg/client/rest"
	"github.com/discipl/ipv8-attestation/pkg/common/failure"
	"github.com/discipl/ipv8-attestation/pkg/restapi/trustchain"
)

const (
	opBlocksForUser = "blocks for user"
	opBlock         = "block"
)

// Doer sends one HTTP request and returns the full answer.
type Doer interface {
	Do(ctx context.Context, method, endpoint string, params ...rest.Param) (*rest.Response, error)
}

// Client reads blocks from one peer.
type Client struct {
	root string
	doer Doer
}

// Option configures the client.
type Option func(opts *Client)

// WithDoer sets the HTTP client used for the queries.
func WithDoer(doer Doer) Option {
	return func(opts *Client) {
		opts.doer = doer
	}
}

// New creates a client for the peer API rooted at apiURL.
func New(apiURL string, opts ...Option) *Client {
	c := &Client{root: apiURL}

	for _, opt := range opts {
		opt(c)
	}

	if c.doer == nil {
		c.doer = rest.New()
	}

	return c
}

// GetBlocksForUser lists the blocks created by the hex encoded public key or linked to it.
func (c *Client) GetBlocksForUser(ctx context.Context, publicKey string) ([]*trustchain.Block, error) {
	resp := trustchain.BlocksResponse{}

	if err := c.get(ctx, opBlocksForUser, trustchain.UserBlocksURL(c.root, publicKey), &resp); err != nil {
		return nil, err
	}

	return resp.Blocks, nil
}

// GetBlock returns the block with the given hash.
func (c *Client) GetBlock(ctx context.Context, hash string) (*trustchain.Block, error) {
	resp := trustchain.BlockResponse{}

	if err := c.get(ctx, opBlock, trustchain.BlockURL(c.root, hash), &resp); err != nil {
		return nil, err
	}

	return resp.Block, nil
}

func (c *Client) get(ctx context.Context, op, url string, v interface{}) error {
	resp, err := c.doer.Do(ctx, http.MethodGet, url)
	if err != nil {
		return failure.WithOp(op, err)
	}

	if resp.StatusCode != http.StatusOK {
		return failure.Newf(op, failure.KindStatus, "error when sending request to IPv8: %s", resp.Body)
	}

	if err := json.Unmarshal([]byte(resp.Body), v); err != nil {
		return failure.New(op, failure.KindMalformedJSON, err)
	}

	return nil
}
