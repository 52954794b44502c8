/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package scenario drives one attestation run across an identity owner, an attester and a verifier: the
// owner asks the attester to attest an attribute, the attester does, and the verifier checks a value
// against the attested hash.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	spilog "github.com/hyperledger/aries-framework-go/spi/log"

	"github.com/discipl/ipv8-attestation/pkg/client/rest"
	"github.com/discipl/ipv8-attestation/pkg/common/failure"
	"github.com/discipl/ipv8-attestation/pkg/identity"
	"github.com/discipl/ipv8-attestation/pkg/peer"
	"github.com/discipl/ipv8-attestation/pkg/poll"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
)

// attribute attested by default.
const (
	DefaultAttributeName  = "QR"
	DefaultAttributeValue = "binarydata"
)

// verification output sampling.
const (
	DefaultVerificationAttempts = 20
	DefaultVerificationInterval = 200 * time.Millisecond
)

// VerifiedThreshold is the match above which a value counts as verified.
const VerifiedThreshold = 0.999

// Step names one step of a run. Failures carry it as their operation.
type Step string

// steps of a run, in order.
const (
	StepAnnounce           Step = "announce peers"
	StepPeers              Step = "wait for peers"
	StepRequest            Step = "request attestation"
	StepOutstanding        Step = "wait for attestation request"
	StepAttest             Step = "attest"
	StepAttributes         Step = "fetch attributes"
	StepVerify             Step = "verify"
	StepAllowVerify        Step = "allow verification"
	StepVerificationOutput Step = "fetch verification output"
)

// messages logged while a step waits for its peer.
const (
	peersNotReadyMsg        = "No peers have connected yet"
	outstandingNotReadyMsg  = "No attestation requests have been received yet"
	attributesNotReadyMsg   = "No attributes have been attested yet"
	allowVerifyNotReadyMsg  = "No verification requests have been received yet"
	verificationNotReadyMsg = "No verification output has been received yet"
)

var logger = log.New("ipv8-attestation/scenario")

var errNilPeer = errors.New("peer handle is nil")

// Client sends control queries, with and without the response status.
type Client interface {
	poll.Requester
	Do(ctx context.Context, method, endpoint string, params ...rest.Param) (*rest.Response, error)
}

// Result is what a run observed. A failed run returns what it got before the failure.
type Result struct {
	RunID              string
	Peers              string
	Outstanding        string
	Attributes         string
	AttributeHash      string
	VerificationOutput string
	Match              float64
	Verified           bool
}

// Driver runs the attestation scenario against three peers it holds on to for the whole run.
type Driver struct {
	owner    *peer.Peer
	attester *peer.Peer
	verifier *peer.Peer

	client             Client
	poller             *poll.Poller
	verificationPoller *poll.Poller
	attributeName      string
	attributeValue     string
	consent            bool
	logger             spilog.Logger
}

// Option configures the driver.
type Option func(opts *Driver)

// WithClient sets the client the control queries go through.
func WithClient(c Client) Option {
	return func(opts *Driver) {
		opts.client = c
	}
}

// WithPoller sets the poller of the steps that wait for a peer.
func WithPoller(p *poll.Poller) Option {
	return func(opts *Driver) {
		opts.poller = p
	}
}

// WithVerificationPoller sets the poller sampling the verification output.
func WithVerificationPoller(p *poll.Poller) Option {
	return func(opts *Driver) {
		opts.verificationPoller = p
	}
}

// WithAttribute sets the attribute to attest and verify.
func WithAttribute(name, value string) Option {
	return func(opts *Driver) {
		opts.attributeName = name
		opts.attributeValue = value
	}
}

// WithConsent makes the owner allow the verification request before the output is read. Peers that keep
// verification requests until the owner agrees need this.
func WithConsent() Option {
	return func(opts *Driver) {
		opts.consent = true
	}
}

// WithLogger sets the logger the run reports to.
func WithLogger(l spilog.Logger) Option {
	return func(opts *Driver) {
		opts.logger = l
	}
}

// New creates a driver for the given peers, which must all have a known mid.
func New(owner, attester, verifier *peer.Peer, opts ...Option) (*Driver, error) {
	for _, p := range []*peer.Peer{owner, attester, verifier} {
		if p == nil {
			return nil, errNilPeer
		}

		if p.Mid.Empty() {
			return nil, fmt.Errorf("peer %s has no known mid", p)
		}
	}

	d := &Driver{
		owner:          owner,
		attester:       attester,
		verifier:       verifier,
		attributeName:  DefaultAttributeName,
		attributeValue: DefaultAttributeValue,
		logger:         logger,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.client == nil {
		d.client = rest.New(rest.WithLogger(d.logger))
	}

	if d.poller == nil {
		d.poller = poll.New(poll.WithLogger(d.logger))
	}

	if d.verificationPoller == nil {
		d.verificationPoller = poll.New(
			poll.WithInterval(DefaultVerificationInterval),
			poll.WithMaxAttempts(DefaultVerificationAttempts),
			poll.WithLogger(d.logger),
		)
	}

	return d, nil
}

// Run performs the steps in order, each after the previous one got its answer. The first failing step ends
// the run. Peers are left running either way.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.New().String()}

	d.announce(res)

	steps := []struct {
		step Step
		run  func(ctx context.Context, res *Result) error
	}{
		{StepPeers, d.waitForPeers},
		{StepRequest, d.requestAttestation},
		{StepOutstanding, d.waitForRequest},
		{StepAttest, d.attest},
		{StepAttributes, d.fetchAttributes},
		{StepVerify, d.verify},
		{StepAllowVerify, d.allowVerify},
		{StepVerificationOutput, d.fetchVerificationOutput},
	}

	for _, s := range steps {
		if err := s.run(ctx, res); err != nil {
			return res, failure.WithOp(string(s.step), err)
		}
	}

	return res, nil
}

func (d *Driver) announce(res *Result) {
	d.logger.Infof("Attestation run %s", res.RunID)

	for _, p := range []*peer.Peer{d.owner, d.attester, d.verifier} {
		d.logger.Infof("REST api available at %s for mid: %s", p.Endpoint, p.Mid.Transport())
	}
}

func (d *Driver) waitForPeers(ctx context.Context, res *Result) error {
	body, err := d.poller.Until(ctx, peersNotReadyMsg,
		poll.Query(d.client, d.owner.Endpoint, attestation.NewQuery(attestation.Peers)))
	if err != nil {
		return err
	}

	res.Peers = body
	d.logger.Infof("Known peers for id owner: %s", body)

	return nil
}

func (d *Driver) requestAttestation(ctx context.Context, _ *Result) error {
	d.logger.Infof("Requesting attestation for %s from %s", d.attributeName, d.attester.Mid)

	return d.post(ctx, d.owner, attestation.NewQuery(attestation.Request).
		With(attestation.MidParam, d.attester.Mid.Transport()).
		With(attestation.AttributeNameParam, url.QueryEscape(d.attributeName)))
}

func (d *Driver) waitForRequest(ctx context.Context, res *Result) error {
	body, err := d.poller.Until(ctx, outstandingNotReadyMsg,
		poll.Query(d.client, d.attester.Endpoint, attestation.NewQuery(attestation.Outstanding)))
	if err != nil {
		return err
	}

	res.Outstanding = body
	d.logger.Infof("Pending attestation request for attester: %s", body)

	requests, err := attestation.ParseOutstanding(body)
	if err != nil {
		return failure.New("", failure.KindMalformedJSON, err)
	}

	for _, r := range requests {
		if r.Name == d.attributeName && r.PeerMid == d.owner.Mid.String() {
			return nil
		}
	}

	return failure.Newf("", failure.KindAssertion, "no request for %s from %s among %d outstanding",
		d.attributeName, d.owner.Mid, len(requests))
}

func (d *Driver) attest(ctx context.Context, _ *Result) error {
	d.logger.Infof("Attesting %s for %s", d.attributeName, d.owner.Mid)

	return d.post(ctx, d.attester, attestation.NewQuery(attestation.Attest).
		With(attestation.MidParam, d.owner.Mid.Transport()).
		With(attestation.AttributeNameParam, url.QueryEscape(d.attributeName)).
		With(attestation.AttributeValueParam, identity.TransportValue([]byte(d.attributeValue))))
}

func (d *Driver) fetchAttributes(ctx context.Context, res *Result) error {
	body, err := d.poller.Until(ctx, attributesNotReadyMsg,
		poll.Query(d.client, d.owner.Endpoint, attestation.NewQuery(attestation.Attributes).
			With(attestation.MidParam, d.attester.Mid.Transport())))
	if err != nil {
		return err
	}

	res.Attributes = body
	d.logger.Infof("ID Owner attributes: %s", body)

	attributes, err := attestation.ParseAttributes(body)
	if err != nil {
		return failure.New("", failure.KindMalformedJSON, err)
	}

	for _, a := range attributes {
		if a.Name == d.attributeName {
			res.AttributeHash = a.Hash

			return nil
		}
	}

	return failure.Newf("", failure.KindAssertion, "attribute %s not among the owner's attributes", d.attributeName)
}

func (d *Driver) verify(ctx context.Context, res *Result) error {
	return d.post(ctx, d.verifier, attestation.NewQuery(attestation.Verify).
		With(attestation.MidParam, d.owner.Mid.Transport()).
		With(attestation.AttributeHashParam, url.QueryEscape(res.AttributeHash)).
		With(attestation.AttributeValuesParam, identity.TransportValue([]byte(d.attributeValue))))
}

func (d *Driver) allowVerify(ctx context.Context, _ *Result) error {
	if !d.consent {
		return nil
	}

	body, err := d.poller.Until(ctx, allowVerifyNotReadyMsg,
		poll.Query(d.client, d.owner.Endpoint, attestation.NewQuery(attestation.OutstandingVerify)))
	if err != nil {
		return err
	}

	requests, err := attestation.ParseOutstandingVerify(body)
	if err != nil {
		return failure.New("", failure.KindMalformedJSON, err)
	}

	for _, r := range requests {
		if r.PeerMid == d.verifier.Mid.String() && r.Name == d.attributeName {
			return d.post(ctx, d.owner, attestation.NewQuery(attestation.AllowVerify).
				With(attestation.MidParam, d.verifier.Mid.Transport()).
				With(attestation.AttributeNameParam, url.QueryEscape(d.attributeName)))
		}
	}

	return failure.Newf("", failure.KindAssertion, "no verification request for %s from %s",
		d.attributeName, d.verifier.Mid)
}

func (d *Driver) fetchVerificationOutput(ctx context.Context, res *Result) error {
	body, err := d.verificationPoller.Until(ctx, verificationNotReadyMsg,
		poll.Query(d.client, d.verifier.Endpoint, attestation.NewQuery(attestation.VerificationOutputQuery)))
	if err != nil {
		return err
	}

	res.VerificationOutput = body
	d.logger.Infof("Verification output: %s", body)

	out, err := attestation.ParseVerificationOutput(body)
	if err != nil {
		return failure.New("", failure.KindMalformedJSON, err)
	}

	matches, ok := out[res.AttributeHash]
	if !ok || len(matches) == 0 {
		return failure.Newf("", failure.KindAssertion, "no verification output for hash %s", res.AttributeHash)
	}

	value := identity.ToBase64(d.attributeValue)
	res.Match = matches[0].Match

	for _, m := range matches {
		if m.Value == value {
			res.Match = m.Match

			break
		}
	}

	res.Verified = res.Match > VerifiedThreshold

	return nil
}

func (d *Driver) post(ctx context.Context, p *peer.Peer, q *attestation.Query) error {
	resp, err := d.client.Do(ctx, http.MethodPost, p.Endpoint, q.Values()...)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return failure.Newf("", failure.KindStatus, "%s answered %s with %d: %s", p, q.Type, resp.StatusCode,
			resp.Body)
	}

	return nil
}

// Report logs the outcome of a run and hands back its error. A failure is logged with its stack trace.
func Report(l spilog.Logger, res *Result, err error) error {
	if l == nil {
		l = logger
	}

	if err != nil {
		l.Errorf("attestation run failed: %+v", err)

		return err
	}

	l.Infof("attestation run %s done: attribute hash %s, match %v, verified %t", res.RunID, res.AttributeHash,
		res.Match, res.Verified)

	return nil
}
