/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package healthcheck checks a running peer: it must know the expected peers and hold the expected attribute.
package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/PaesslerAG/jsonpath"
	"github.com/hyperledger/aries-framework-go/component/log"
	spilog "github.com/hyperledger/aries-framework-go/spi/log"
	"golang.org/x/exp/slices"

	"github.com/discipl/ipv8-attestation/pkg/client/rest"
	"github.com/discipl/ipv8-attestation/pkg/common/failure"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
)

const opCheck = "healthcheck"

var logger = log.New("ipv8-attestation/healthcheck")

// Config tells what a healthy peer looks like.
type Config struct {
	Endpoint string
	// ExpectedPeers are base64 mids that must all be in the peers answer.
	ExpectedPeers []string
	// AttributePath is a JSONPath into the attributes answer that must yield ExpectedAttribute.
	AttributePath     string
	ExpectedAttribute string
}

// DefaultConfig returns the checks of the integration test peer.
func DefaultConfig() Config {
	return Config{
		Endpoint:          "http://localhost:14410/attestation",
		ExpectedPeers:     []string{"K1ifTZ++hPN4UqU24rSc/czfYZY=", "eGU/YRXWJB18VQf8UbOoIhW9+xM="},
		AttributePath:     "$[0][0]",
		ExpectedAttribute: "time_for_beer",
	}
}

// Doer sends one control query and returns status and body.
type Doer interface {
	Do(ctx context.Context, method, endpoint string, params ...rest.Param) (*rest.Response, error)
}

// Checker checks one peer.
type Checker struct {
	cfg    Config
	doer   Doer
	logger spilog.Logger
}

// Option configures the checker.
type Option func(opts *Checker)

// WithDoer sets the client the queries go through.
func WithDoer(d Doer) Option {
	return func(opts *Checker) {
		opts.doer = d
	}
}

// WithLogger sets the logger.
func WithLogger(l spilog.Logger) Option {
	return func(opts *Checker) {
		opts.logger = l
	}
}

// New creates a checker.
func New(cfg Config, opts ...Option) *Checker {
	p := &Checker{cfg: cfg, logger: logger}

	for _, opt := range opts {
		opt(p)
	}

	if p.doer == nil {
		p.doer = rest.New(rest.WithLogger(p.logger))
	}

	return p
}

// Check queries peers and attributes once. Both must answer 200 before either body is looked at.
func (p *Checker) Check(ctx context.Context) error {
	peersResp, err := p.get(ctx, attestation.Peers)
	if err != nil {
		return err
	}

	attributesResp, err := p.get(ctx, attestation.Attributes)
	if err != nil {
		return err
	}

	for _, resp := range []*rest.Response{peersResp, attributesResp} {
		if resp.StatusCode != http.StatusOK {
			return failure.Newf(opCheck, failure.KindStatus, "%s answered %d", p.cfg.Endpoint, resp.StatusCode)
		}
	}

	if err := p.checkPeers(peersResp.Body); err != nil {
		return err
	}

	if err := p.checkAttribute(attributesResp.Body); err != nil {
		return err
	}

	p.logger.Infof("%s is healthy", p.cfg.Endpoint)

	return nil
}

func (p *Checker) get(ctx context.Context, t attestation.QueryType) (*rest.Response, error) {
	resp, err := p.doer.Do(ctx, http.MethodGet, p.cfg.Endpoint, attestation.NewQuery(t).Values()...)
	if err != nil {
		return nil, failure.WithOp(opCheck, err)
	}

	return resp, nil
}

func (p *Checker) checkPeers(body string) error {
	peers, err := attestation.ParsePeers(body)
	if err != nil {
		return failure.New(opCheck, failure.KindMalformedJSON, err)
	}

	for _, mid := range p.cfg.ExpectedPeers {
		if !slices.Contains(peers, mid) {
			return failure.Newf(opCheck, failure.KindAssertion, "peer %s not connected", mid)
		}
	}

	return nil
}

func (p *Checker) checkAttribute(body string) error {
	if p.cfg.AttributePath == "" {
		return nil
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return failure.New(opCheck, failure.KindMalformedJSON, err)
	}

	value, err := jsonpath.Get(p.cfg.AttributePath, doc)
	if err != nil {
		return failure.New(opCheck, failure.KindAssertion, fmt.Errorf("attribute at %s: %w", p.cfg.AttributePath, err))
	}

	if value != p.cfg.ExpectedAttribute {
		return failure.Newf(opCheck, failure.KindAssertion, "attribute at %s is %v, want %s",
			p.cfg.AttributePath, value, p.cfg.ExpectedAttribute)
	}

	return nil
}

// ExitCode maps the outcome of a check to a process exit code.
func ExitCode(err error) int {
	if err != nil {
		return 1
	}

	return 0
}
