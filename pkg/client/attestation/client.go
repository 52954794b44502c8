/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package attestation is a typed client of the attestation control endpoint of an overlay peer.
package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/discipl/ipv8-attestation/pkg/client/rest"
	"github.com/discipl/ipv8-attestation/pkg/common/failure"
	"github.com/discipl/ipv8-attestation/pkg/identity"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
)

const (
	defaultFindRetries  = 5
	defaultFindInterval = 200 * time.Millisecond
)

var errNotFound = errors.New("outstanding request not found")

// Doer sends one HTTP request and returns the full answer.
type Doer interface {
	Do(ctx context.Context, method, endpoint string, params ...rest.Param) (*rest.Response, error)
}

// Client talks to the attestation endpoint of one peer.
type Client struct {
	endpoint     string
	doer         Doer
	findRetries  uint64
	findInterval time.Duration
}

// Option configures the client.
type Option func(opts *Client)

// WithDoer sets the HTTP client used for the queries.
func WithDoer(doer Doer) Option {
	return func(opts *Client) {
		opts.doer = doer
	}
}

// WithFindRetry sets how often and how fast FindOutstanding looks again for a missing request.
func WithFindRetry(retries uint64, interval time.Duration) Option {
	return func(opts *Client) {
		opts.findRetries = retries
		opts.findInterval = interval
	}
}

// New creates a client for the peer API rooted at apiURL, such as http://localhost:8086.
func New(apiURL string, opts ...Option) *Client {
	c := &Client{
		endpoint:     attestation.Endpoint(apiURL),
		findRetries:  defaultFindRetries,
		findInterval: defaultFindInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.doer == nil {
		c.doer = rest.New()
	}

	return c
}

// Endpoint returns the control endpoint the client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// GetPeers lists the base64 mids of the peers visible to the peer.
func (c *Client) GetPeers(ctx context.Context) ([]string, error) {
	var peers []string

	return peers, c.get(ctx, attestation.NewQuery(attestation.Peers), &peers)
}

// GetOutstanding lists the attestation requests waiting at the peer.
func (c *Client) GetOutstanding(ctx context.Context) ([]attestation.OutstandingRequest, error) {
	var requests []attestation.OutstandingRequest

	return requests, c.get(ctx, attestation.NewQuery(attestation.Outstanding), &requests)
}

// FindOutstanding returns the outstanding request for attribute name. When the request has not arrived
// yet it looks again a few times before giving up with a nil request.
func (c *Client) FindOutstanding(ctx context.Context, name string) (*attestation.OutstandingRequest, error) {
	var found *attestation.OutstandingRequest

	op := func() error {
		requests, err := c.GetOutstanding(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		for i := range requests {
			if requests[i].Name == name {
				found = &requests[i]

				return nil
			}
		}

		return errNotFound
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.findInterval), c.findRetries), ctx)

	err := backoff.Retry(op, b)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}

	if err != nil && ctx.Err() != nil {
		return nil, failure.New("find outstanding", failure.KindCanceled, err)
	}

	if err != nil {
		return nil, failure.WithOp("find outstanding", err)
	}

	return found, nil
}

// GetAttributes lists the attributes of the peer, or with a non-empty mid, those of that peer known here.
func (c *Client) GetAttributes(ctx context.Context, mid string) ([]attestation.Attribute, error) {
	q := attestation.NewQuery(attestation.Attributes)
	if mid != "" {
		q.With(attestation.MidParam, url.QueryEscape(mid))
	}

	var attributes []attestation.Attribute

	return attributes, c.get(ctx, q, &attributes)
}

// GetOutstandingVerify lists the verification requests waiting for the peer's consent.
func (c *Client) GetOutstandingVerify(ctx context.Context) ([]attestation.OutstandingVerifyRequest, error) {
	var requests []attestation.OutstandingVerifyRequest

	return requests, c.get(ctx, attestation.NewQuery(attestation.OutstandingVerify), &requests)
}

// GetVerificationOutput lists the verification results the peer received.
func (c *Client) GetVerificationOutput(ctx context.Context) ([]attestation.VerificationResult, error) {
	body, err := c.send(ctx, attestation.NewQuery(attestation.VerificationOutputQuery))
	if err != nil {
		return nil, err
	}

	out, err := attestation.ParseVerificationOutput(body)
	if err != nil {
		return nil, failure.New(string(attestation.VerificationOutputQuery), failure.KindMalformedJSON, err)
	}

	return out.Flatten(), nil
}

// RequestAttestation asks the peer with mid to attest attribute name. metadata is sent as JSON with sorted keys.
func (c *Client) RequestAttestation(ctx context.Context, name, mid string,
	metadata map[string]interface{}) (*attestation.SuccessResponse, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	// encoding/json sorts map keys
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, failure.New(string(attestation.Request), failure.KindMalformedJSON, err)
	}

	return c.post(ctx, attestation.NewQuery(attestation.Request).
		With(attestation.MidParam, url.QueryEscape(mid)).
		With(attestation.MetadataParam, identity.TransportValue(raw)).
		With(attestation.AttributeNameParam, url.QueryEscape(name)))
}

// Attest attests attribute name of the owner with mid with value.
func (c *Client) Attest(ctx context.Context, name, value, mid string) (*attestation.SuccessResponse, error) {
	return c.post(ctx, attestation.NewQuery(attestation.Attest).
		With(attestation.MidParam, url.QueryEscape(mid)).
		With(attestation.AttributeNameParam, url.QueryEscape(name)).
		With(attestation.AttributeValueParam, identity.TransportValue([]byte(value))))
}

// Verify asks the owner with mid whether its attribute with hash holds value.
func (c *Client) Verify(ctx context.Context, mid, hash, value string) (*attestation.SuccessResponse, error) {
	return c.post(ctx, attestation.NewQuery(attestation.Verify).
		With(attestation.MidParam, url.QueryEscape(mid)).
		With(attestation.AttributeHashParam, url.QueryEscape(hash)).
		With(attestation.AttributeValuesParam, identity.TransportValue([]byte(value))))
}

// AllowVerify lets the verifier with mid verify attribute name.
func (c *Client) AllowVerify(ctx context.Context, mid, name string) (*attestation.SuccessResponse, error) {
	return c.post(ctx, attestation.NewQuery(attestation.AllowVerify).
		With(attestation.MidParam, url.QueryEscape(mid)).
		With(attestation.AttributeNameParam, url.QueryEscape(name)))
}

func (c *Client) get(ctx context.Context, q *attestation.Query, v interface{}) error {
	body, err := c.send(ctx, q)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(body), v); err != nil {
		return failure.New(string(q.Type), failure.KindMalformedJSON, err)
	}

	return nil
}

func (c *Client) post(ctx context.Context, q *attestation.Query) (*attestation.SuccessResponse, error) {
	body, err := c.send(ctx, q)
	if err != nil {
		return nil, err
	}

	resp := &attestation.SuccessResponse{}
	if err := json.Unmarshal([]byte(body), resp); err != nil {
		return nil, failure.New(string(q.Type), failure.KindMalformedJSON, err)
	}

	return resp, nil
}

func (c *Client) send(ctx context.Context, q *attestation.Query) (string, error) {
	resp, err := c.doer.Do(ctx, q.Method(), c.endpoint, q.Values()...)
	if err != nil {
		return "", failure.WithOp(string(q.Type), err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", failure.Newf(string(q.Type), failure.KindStatus,
			"error when sending request to IPv8: %s", resp.Body)
	}

	return resp.Body, nil
}
