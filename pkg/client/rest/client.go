/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package rest is a minimal HTTP client for peer control endpoints. It sends one request per call,
// logs what it sends and hands back the raw response; interpreting status codes and bodies is up to the caller.
package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hyperledger/aries-framework-go/component/log"
	spilog "github.com/hyperledger/aries-framework-go/spi/log"

	"github.com/discipl/ipv8-attestation/pkg/common/failure"
)

const (
	// DefaultUserAgent is sent with every request unless overridden.
	DefaultUserAgent = "ipv8-attestation REST client"
	// DefaultContentType is sent with every request unless overridden.
	DefaultContentType = "text/plain"
)

var logger = log.New("ipv8-attestation/rest-client")

// Param is one query-string parameter.
type Param struct {
	Key   string
	Value string
}

// P is shorthand for a Param.
func P(key, value string) Param {
	return Param{Key: key, Value: value}
}

// Response is the status and full body of a control endpoint answer.
type Response struct {
	StatusCode int
	Body       string
}

// Client sends control queries.
type Client struct {
	client      *http.Client
	userAgent   string
	contentType string
	logger      spilog.Logger
}

// Option configures the client.
type Option func(opts *Client)

// New creates a REST client.
func New(opts ...Option) *Client {
	c := &Client{
		client:      &http.Client{},
		userAgent:   DefaultUserAgent,
		contentType: DefaultContentType,
		logger:      logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithHTTPClient option is for custom http client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(opts *Client) {
		opts.client = httpClient
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(opts *Client) {
		opts.userAgent = userAgent
	}
}

// WithContentType overrides the Content-Type header.
func WithContentType(contentType string) Option {
	return func(opts *Client) {
		opts.contentType = contentType
	}
}

// WithLogger sets the logger requests are reported to.
func WithLogger(l spilog.Logger) Option {
	return func(opts *Client) {
		opts.logger = l
	}
}

// BuildURL appends params to endpoint as key=value pairs joined with "&". Keys and values are used as
// given, so anything that needs escaping must be escaped by the caller.
func BuildURL(endpoint string, params ...Param) string {
	pairs := make([]string, len(params))
	for i, p := range params {
		pairs[i] = p.Key + "=" + p.Value
	}

	return endpoint + "?" + strings.Join(pairs, "&")
}

// Do sends one request and returns the status code and full body.
func (c *Client) Do(ctx context.Context, method, endpoint string, params ...Param) (*Response, error) {
	reqURL := BuildURL(endpoint, params...)

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTP create %s request failed: %w", method, err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", c.contentType)

	c.logger.Infof("[HTTP-%s] %s", method, reqURL)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, failure.New(reqURL, failure.KindCanceled, ctx.Err())
		}

		return nil, failure.New(reqURL, failure.KindTransport, err)
	}

	defer closeResponseBody(resp.Body, c.logger)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.New(reqURL, failure.KindTransport, fmt.Errorf("reading response body failed: %w", err))
	}

	c.logger.Debugf("[HTTP-%s] %s answered %d: %s", method, reqURL, resp.StatusCode, body)

	return &Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}

// Request sends one request and returns the body text, whatever the status code.
func (c *Client) Request(ctx context.Context, method, endpoint string, params ...Param) (string, error) {
	resp, err := c.Do(ctx, method, endpoint, params...)
	if err != nil {
		return "", err
	}

	return resp.Body, nil
}

func closeResponseBody(respBody io.Closer, l spilog.Logger) {
	e := respBody.Close()
	if e != nil {
		l.Errorf("Failed to close response body: %v", e)
	}
}
