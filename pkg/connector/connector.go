/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package connector expresses claims as overlay attestations. A claim made by an identity owner becomes an
// attestation request and is referenced by a temporary link. Once an attester answers it, the attestation is
// referenced by a permanent link to the trustchain block recording it.
//
// Links have the form link:discipl:ipv8:<indicator>:<reference>, with indicator temp or perm.
package connector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"
	spilog "github.com/hyperledger/aries-framework-go/spi/log"

	attestationclient "github.com/discipl/ipv8-attestation/pkg/client/attestation"
	"github.com/discipl/ipv8-attestation/pkg/client/trustchain"
	"github.com/discipl/ipv8-attestation/pkg/identity"
	"github.com/discipl/ipv8-attestation/pkg/poll"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
)

const (
	// Name is the connector name used in links and DIDs.
	Name = "ipv8"
	// LinkPrefix starts every link made by the connector.
	LinkPrefix = "link:discipl:" + Name + ":"

	// TemporaryIndicator marks a link to a claim nobody attested yet.
	TemporaryIndicator = "temp"
	// PermanentIndicator marks a link to the trustchain block of an attestation.
	PermanentIndicator = "perm"

	// VerifiedThreshold is the match above which a verification counts as successful.
	VerifiedThreshold = 0.999

	verificationAttempts = 20
	verificationInterval = 200 * time.Millisecond

	verificationNotReadyMsg = "No verification result has been received yet"
)

var logger = log.New("ipv8-attestation/connector")

var (
	errInvalidDID            = errors.New("the given string is not a valid DID")
	errInvalidReference      = errors.New("could not extract a valid reference from the given claim")
	errUnknownIndicator      = errors.New("unknown link indicator")
	errRequestNotFound       = errors.New("attestation request could not be found")
	errAttributeNotFound     = errors.New("attribute could not be found")
	errTemporaryLink         = errors.New("only an attestation referring to a permanent link can be verified")
	errNotVerified           = errors.New("attestation not verified")
	errNoClaims              = errors.New("no claims made")
	errUnexpectedAttestation = errors.New("unexpected attestation object")
)

// Peer identifies an overlay peer by its mid and hex encoded public key.
type Peer struct {
	Mid       string `json:"mid"`
	PublicKey string `json:"publicKey"`
}

// ClaimInfo is a claim read back from a link. Previous is empty for the first claim of a chain.
type ClaimInfo struct {
	Data     string
	Previous string
}

// Connector makes and reads claims through the REST API of one peer.
type Connector struct {
	attestation    *attestationclient.Client
	trustchain     *trustchain.Client
	trustchainOpts []trustchain.Option
	attestOpts     []attestationclient.Option
	trustchainURL  string
	poller         *poll.Poller
	logger         spilog.Logger
}

// Option configures the connector.
type Option func(opts *Connector)

// WithDoer sets the HTTP client both API clients send their queries with.
func WithDoer(doer attestationclient.Doer) Option {
	return func(opts *Connector) {
		opts.attestOpts = append(opts.attestOpts, attestationclient.WithDoer(doer))
		opts.trustchainOpts = append(opts.trustchainOpts, trustchain.WithDoer(doer))
	}
}

// WithFindRetry sets how often an attestation request is looked for before giving up.
func WithFindRetry(retries uint64, interval time.Duration) Option {
	return func(opts *Connector) {
		opts.attestOpts = append(opts.attestOpts, attestationclient.WithFindRetry(retries, interval))
	}
}

// WithTrustchainURL reads blocks from another peer, for peers that do not hold the blocks they verify.
func WithTrustchainURL(apiURL string) Option {
	return func(opts *Connector) {
		opts.trustchainURL = apiURL
	}
}

// WithVerificationPoller sets how long Verify waits for the verification result.
func WithVerificationPoller(p *poll.Poller) Option {
	return func(opts *Connector) {
		opts.poller = p
	}
}

// WithLogger sets the logger.
func WithLogger(l spilog.Logger) Option {
	return func(opts *Connector) {
		opts.logger = l
	}
}

// New creates a connector for the peer API rooted at apiURL.
func New(apiURL string, opts ...Option) *Connector {
	c := &Connector{trustchainURL: apiURL, logger: logger}

	for _, opt := range opts {
		opt(c)
	}

	if c.poller == nil {
		c.poller = poll.New(poll.WithInterval(verificationInterval), poll.WithMaxAttempts(verificationAttempts),
			poll.WithLogger(c.logger))
	}

	c.attestation = attestationclient.New(apiURL, c.attestOpts...)
	c.trustchain = trustchain.New(c.trustchainURL, c.trustchainOpts...)

	return c
}

// LinkFromReference returns the link to reference.
func LinkFromReference(reference string) string {
	return LinkPrefix + reference
}

// IsLink reports whether s is a link made by this connector.
func IsLink(s string) bool {
	return strings.HasPrefix(s, LinkPrefix) && len(s) > len(LinkPrefix)
}

// ReferenceFromLink splits a link into its indicator and reference.
func ReferenceFromLink(link string) (indicator, reference string, err error) {
	if !IsLink(link) {
		return "", "", fmt.Errorf("%q: %w", link, errInvalidReference)
	}

	parts := strings.Split(strings.TrimPrefix(link, LinkPrefix), ":")
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("%q: %w", link, errInvalidReference)
	}

	switch parts[0] {
	case TemporaryIndicator, PermanentIndicator:
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("%s: %w", parts[0], errUnknownIndicator)
	}
}

// ExtractPeerFromDID returns the peer a DID refers to. The DID reference is base64, holding either the JSON of
// a Peer or the public key of the peer.
func ExtractPeerFromDID(did string) (*Peer, error) {
	reference, ok := identity.DIDToPublicKey(did)
	if !ok {
		return nil, fmt.Errorf("%q: %w", did, errInvalidDID)
	}

	reference, err := url.PathUnescape(reference)
	if err != nil {
		return nil, fmt.Errorf("could not parse or decode DID: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(reference)
	if err != nil {
		return nil, fmt.Errorf("could not parse or decode DID: %w", err)
	}

	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		p := &Peer{}
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("could not parse or decode DID: %w", err)
		}

		return p, nil
	}

	return &Peer{Mid: identity.MidFromPublicKey(raw).String(), PublicKey: hex.EncodeToString(raw)}, nil
}

// Claim expresses data on behalf of the identity with DID ssid.
//
// When data is a single entry map whose value is a link, it is an attestation: the key is the value attested and
// the link points at the claim attested. A temporary link is attested for the first time, a permanent link is
// attested again. Anything else is a new claim, requested from the attester with DID attesterDID.
func (c *Connector) Claim(ctx context.Context, ssid string, data interface{}, attesterDID string) (string, error) {
	if value, link, ok := attestationOf(data); ok {
		indicator, reference, err := ReferenceFromLink(link)
		if err != nil {
			return "", err
		}

		if indicator == TemporaryIndicator {
			return c.AttestClaim(ctx, ssid, reference, value)
		}

		return c.ReattestClaim(ctx, ssid, reference, value)
	}

	attester, err := ExtractPeerFromDID(attesterDID)
	if err != nil {
		return "", fmt.Errorf("attester: %w", err)
	}

	return c.NewClaim(ctx, attester.Mid, data)
}

// NewClaim requests attestation of data from the attester with the given mid and returns a temporary link.
// The attribute name is the base64 encoding of data, serialized with sorted keys.
func (c *Connector) NewClaim(ctx context.Context, attesterMid string, data interface{}) (string, error) {
	serialized, err := stableStringify(data)
	if err != nil {
		return "", err
	}

	name := identity.ToBase64(serialized)

	if _, err := c.attestation.RequestAttestation(ctx, name, attesterMid, nil); err != nil {
		return "", fmt.Errorf("new claim: %w", err)
	}

	c.logger.Debugf("requested attestation of %s from %s", name, attesterMid)

	return LinkFromReference(TemporaryIndicator + ":" + name), nil
}

// AttestClaim answers the outstanding request for attributeName with value, on behalf of the attester with DID
// ssid, and returns the permanent link of the resulting block.
func (c *Connector) AttestClaim(ctx context.Context, ssid, attributeName, value string) (string, error) {
	name, err := url.QueryUnescape(attributeName)
	if err != nil {
		return "", fmt.Errorf("%q: %w", attributeName, errInvalidReference)
	}

	return c.attest(ctx, ssid, name, value)
}

// ReattestClaim attests the attribute recorded by the block with the given hash again with value. The owner must
// have requested the attribute again.
func (c *Connector) ReattestClaim(ctx context.Context, ssid, blockHash, value string) (string, error) {
	block, err := c.trustchain.GetBlock(ctx, blockHash)
	if err != nil || block == nil {
		return "", fmt.Errorf("attribute with hash %q: %w", blockHash, errAttributeNotFound)
	}

	return c.attest(ctx, ssid, block.Transaction.Name, value)
}

func (c *Connector) attest(ctx context.Context, ssid, name, value string) (string, error) {
	attester, err := ExtractPeerFromDID(ssid)
	if err != nil {
		return "", fmt.Errorf("attester: %w", err)
	}

	req, err := c.attestation.FindOutstanding(ctx, name)
	if err != nil {
		return "", err
	}

	if req == nil {
		return "", fmt.Errorf("%q: %w", name, errRequestNotFound)
	}

	if _, err := c.attestation.Attest(ctx, name, value, req.PeerMid); err != nil {
		return "", fmt.Errorf("attest %s: %w", name, err)
	}

	blocks, err := c.trustchain.GetBlocksForUser(ctx, attester.PublicKey)
	if err != nil {
		return "", err
	}

	for i := len(blocks) - 1; i >= 0; i-- {
		if blocks[i].Transaction.Name == name {
			return LinkFromReference(PermanentIndicator + ":" + blocks[i].Hash), nil
		}
	}

	return "", fmt.Errorf("block of %q: %w", name, errAttributeNotFound)
}

// Get reads the claim a link points at. A temporary link holds the claimed data itself.
func (c *Connector) Get(ctx context.Context, link string) (*ClaimInfo, error) {
	indicator, reference, err := ReferenceFromLink(link)
	if err != nil {
		return nil, err
	}

	if indicator == TemporaryIndicator {
		data, err := identity.FromBase64(reference)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", reference, errInvalidReference)
		}

		return &ClaimInfo{Data: data}, nil
	}

	block, err := c.trustchain.GetBlock(ctx, reference)
	if err != nil {
		return nil, err
	}

	return &ClaimInfo{
		Data:     block.Transaction.Name,
		Previous: LinkFromReference(PermanentIndicator + ":" + block.PreviousHash),
	}, nil
}

// LatestClaim returns the permanent link of the newest block of the identity with the given DID.
func (c *Connector) LatestClaim(ctx context.Context, did string) (string, error) {
	p, err := ExtractPeerFromDID(did)
	if err != nil {
		return "", err
	}

	blocks, err := c.trustchain.GetBlocksForUser(ctx, p.PublicKey)
	if err != nil {
		return "", err
	}

	if len(blocks) == 0 {
		return "", fmt.Errorf("%s: %w", did, errNoClaims)
	}

	return LinkFromReference(PermanentIndicator + ":" + blocks[len(blocks)-1].Hash), nil
}

// Verify asks the owner with DID ownerDID to prove the attestation, a single entry map from value to the
// permanent link of the attestation. It returns the link once the owner proved it.
func (c *Connector) Verify(ctx context.Context, ownerDID string, data map[string]string) (string, error) {
	value, link, ok := attestationOf(data)
	if !ok {
		return "", fmt.Errorf("%v: %w", data, errUnexpectedAttestation)
	}

	owner, err := ExtractPeerFromDID(ownerDID)
	if err != nil {
		return "", err
	}

	indicator, reference, err := ReferenceFromLink(link)
	if err != nil {
		return "", err
	}

	if indicator != PermanentIndicator {
		return "", errTemporaryLink
	}

	block, err := c.trustchain.GetBlock(ctx, reference)
	if err != nil {
		return "", err
	}

	hash := block.Transaction.Hash

	if _, err := c.attestation.Verify(ctx, owner.Mid, hash, value); err != nil {
		return "", fmt.Errorf("verify %s: %w", hash, err)
	}

	result, err := c.waitForVerificationResult(ctx, hash)
	if err != nil {
		return "", err
	}

	if result.Match <= VerifiedThreshold {
		return "", fmt.Errorf("%s matched %v: %w", hash, result.Match, errNotVerified)
	}

	return link, nil
}

func (c *Connector) waitForVerificationResult(ctx context.Context,
	hash string) (*attestation.VerificationResult, error) {
	var found *attestation.VerificationResult

	_, err := c.poller.Until(ctx, verificationNotReadyMsg, func(ctx context.Context) (string, error) {
		results, err := c.attestation.GetVerificationOutput(ctx)
		if err != nil {
			return "", err
		}

		for i := range results {
			if results[i].AttributeHash == hash {
				found = &results[i]

				return hash, nil
			}
		}

		return attestation.EmptyResult, nil
	})
	if err != nil {
		return nil, fmt.Errorf("verification of %s: %w", hash, err)
	}

	return found, nil
}

// attestationOf returns the value and link of a single entry map whose value is a link.
func attestationOf(data interface{}) (value, link string, ok bool) {
	switch m := data.(type) {
	case map[string]string:
		for k, v := range m {
			return k, v, len(m) == 1 && IsLink(v)
		}
	case map[string]interface{}:
		for k, v := range m {
			s, isString := v.(string)

			return k, s, len(m) == 1 && isString && IsLink(s)
		}
	}

	return "", "", false
}

// stableStringify serializes data with sorted map keys. Strings are taken as they are.
func stableStringify(data interface{}) (string, error) {
	if s, ok := data.(string); ok {
		return s, nil
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(data); err != nil {
		return "", fmt.Errorf("serialize claim: %w", err)
	}

	return strings.TrimSuffix(buf.String(), "\n"), nil
}
