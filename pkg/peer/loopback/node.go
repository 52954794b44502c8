/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package loopback

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/discipl/ipv8-attestation/pkg/identity"
	"github.com/discipl/ipv8-attestation/pkg/peer"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
	"github.com/discipl/ipv8-attestation/pkg/restapi/trustchain"
)

// publicKeyPrefix marks the serialized public keys of loopback peers.
const publicKeyPrefix = "LibNaCLPK:"

// exactMatch is the match reported for a candidate value equal to the attested one.
const exactMatch = 0.9999847412109375

const blockType = "attestation"

var (
	errPeerNotFound         = errors.New("peer not found")
	errNoOutstandingRequest = errors.New("no outstanding request")
	errNoOutstandingVerify  = errors.New("no outstanding verification request")
	errUnknownAttribute     = errors.New("unknown attribute")
	errMissingParameter     = errors.New("missing parameter")
	errMalformedParameter   = errors.New("malformed parameter")
	genesisHash             = strings.Repeat("00", sha256.Size)
)

type pendingRequest struct {
	seq     uint64
	request attestation.OutstandingRequest
}

type pendingVerify struct {
	seq      uint64
	request  attestation.OutstandingVerifyRequest
	verifier *Node
	record   *attributeRecord
	values   []string
}

type nodeConfig struct {
	autoAllowVerify bool
	processingDelay time.Duration
	requestTTL      time.Duration
}

// Node is the state of one loopback peer: its identity, the requests waiting for it, the attributes it
// took part in and the verification results it received.
type Node struct {
	role      peer.Role
	publicKey []byte
	mid       identity.Mid
	network   *Network
	joined    time.Time
	state     *stateStore
	cfg       nodeConfig

	outstanding        gcache.Cache
	outstandingVerify  gcache.Cache
	verificationOutput gcache.Cache

	mu       sync.Mutex
	seq      uint64
	blockSeq uint64
	prevHash string
}

func newNode(role peer.Role, network *Network, provider storage.Provider, cfg nodeConfig) (*Node, error) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate peer key: %w", err)
	}

	state, err := openStateStore(provider)
	if err != nil {
		return nil, err
	}

	publicKey := append([]byte(publicKeyPrefix), pub...)

	n := &Node{
		role:               role,
		publicKey:          publicKey,
		mid:                identity.MidFromPublicKey(publicKey),
		network:            network,
		state:              state,
		cfg:                cfg,
		outstanding:        newCache(cfg.requestTTL),
		outstandingVerify:  newCache(cfg.requestTTL),
		verificationOutput: newCache(0),
		prevHash:           genesisHash,
	}

	network.join(n)

	return n, nil
}

func newCache(ttl time.Duration) gcache.Cache {
	builder := gcache.New(0)
	if ttl > 0 {
		builder = builder.Expiration(ttl)
	}

	return builder.Build()
}

// Mid returns the peer's member ID.
func (n *Node) Mid() identity.Mid {
	return n.mid
}

// PublicKey returns the peer's serialized public key.
func (n *Node) PublicKey() []byte {
	return n.publicKey
}

// Role returns the role the peer was started for.
func (n *Node) Role() peer.Role {
	return n.role
}

// Peers lists the base64 mids of the discovered peers.
func (n *Node) Peers() []string {
	return n.network.neighbours(n)
}

// Outstanding lists the attestation requests waiting for this peer.
func (n *Node) Outstanding() []attestation.OutstandingRequest {
	pending := make([]pendingRequest, 0)

	for _, v := range n.outstanding.GetALL(true) {
		if p, ok := v.(pendingRequest); ok {
			pending = append(pending, p)
		}
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	requests := make([]attestation.OutstandingRequest, len(pending))
	for i, p := range pending {
		requests[i] = p.request
	}

	return requests
}

// OutstandingVerify lists the verification requests waiting for this peer's consent.
func (n *Node) OutstandingVerify() []attestation.OutstandingVerifyRequest {
	pending := make([]*pendingVerify, 0)

	for _, v := range n.outstandingVerify.GetALL(true) {
		if p, ok := v.(*pendingVerify); ok {
			pending = append(pending, p)
		}
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	requests := make([]attestation.OutstandingVerifyRequest, len(pending))
	for i, p := range pending {
		requests[i] = p.request
	}

	return requests
}

// Attributes lists this peer's own attributes, or with a mid, the attributes of that peer this one knows of.
func (n *Node) Attributes(mid string) ([]attestation.Attribute, error) {
	var (
		records []*attributeRecord
		err     error
	)

	if mid == "" {
		records, err = n.state.attributesOf(n.mid.String(), false)
	} else {
		records, err = n.state.attributesOf(mid, true)
	}

	if err != nil {
		return nil, err
	}

	attributes := make([]attestation.Attribute, len(records))
	for i, rec := range records {
		attributes[i] = attestation.Attribute{
			Name:     rec.Name,
			Hash:     rec.Hash,
			Metadata: rec.Metadata,
			Attestor: rec.Attestor,
		}
	}

	return attributes, nil
}

// VerificationOutput returns the verification results this peer received.
func (n *Node) VerificationOutput() attestation.VerificationOutput {
	out := attestation.VerificationOutput{}

	for k, v := range n.verificationOutput.GetALL(true) {
		hash, ok := k.(string)
		if !ok {
			continue
		}

		if matches, ok := v.([]attestation.ValueMatch); ok {
			out[hash] = matches
		}
	}

	return out
}

// RequestAttestation asks the attester with the given mid to attest attribute name for this peer.
// metadata is the base64 encoding of a JSON object and may be empty.
func (n *Node) RequestAttestation(attesterMid, name, metadata string) error {
	if attesterMid == "" || name == "" {
		return fmt.Errorf("request needs %s and %s: %w", attestation.MidParam, attestation.AttributeNameParam,
			errMissingParameter)
	}

	attester, ok := n.network.lookup(attesterMid)
	if !ok {
		return fmt.Errorf("attester %s: %w", attesterMid, errPeerNotFound)
	}

	if metadata == "" {
		metadata = base64.StdEncoding.EncodeToString([]byte("{}"))
	}

	request := attestation.OutstandingRequest{PeerMid: n.mid.String(), Name: name, Metadata: metadata}

	n.deliver(func() error {
		return attester.outstanding.Set(requestKey(request.PeerMid, name),
			pendingRequest{seq: attester.nextSeq(), request: request})
	})

	return nil
}

// Attest answers the outstanding request of the owner with the given mid for attribute name with value,
// the base64 encoding of the attested bytes.
func (n *Node) Attest(ownerMid, name, value string) error {
	if ownerMid == "" || name == "" || value == "" {
		return fmt.Errorf("attest needs %s, %s and %s: %w", attestation.MidParam, attestation.AttributeNameParam,
			attestation.AttributeValueParam, errMissingParameter)
	}

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("%s: %w", attestation.AttributeValueParam, errMalformedParameter)
	}

	owner, ok := n.network.lookup(ownerMid)
	if !ok {
		return fmt.Errorf("owner %s: %w", ownerMid, errPeerNotFound)
	}

	key := requestKey(ownerMid, name)

	v, err := n.outstanding.Get(key)
	// only the caller that removes the request may answer it
	if err != nil || !n.outstanding.Remove(key) {
		return fmt.Errorf("%s from %s: %w", name, ownerMid, errNoOutstandingRequest)
	}

	pending, _ := v.(pendingRequest) //nolint:errcheck

	rec := &attributeRecord{
		Name:     name,
		Hash:     hashValue(raw),
		Metadata: decodeMetadata(pending.request.Metadata),
		Owner:    ownerMid,
		Attestor: n.mid.String(),
		Seq:      n.nextSeq(),
	}

	if err := n.state.putAttribute(rec); err != nil {
		return fmt.Errorf("store attestation: %w", err)
	}

	n.deliver(func() error {
		block, err := owner.receiveAttestation(*rec, n.publicKey)
		if err != nil {
			return err
		}

		return n.state.putBlock(block)
	})

	return nil
}

// Verify asks the owner with the given mid to prove that its attribute with the given base64 hash holds one of
// values, each the base64 encoding of a candidate value.
func (n *Node) Verify(ownerMid, hash string, values []string) error {
	if ownerMid == "" || hash == "" || len(values) == 0 {
		return fmt.Errorf("verify needs %s, %s and %s: %w", attestation.MidParam, attestation.AttributeHashParam,
			attestation.AttributeValuesParam, errMissingParameter)
	}

	for _, value := range values {
		if _, err := base64.StdEncoding.DecodeString(value); err != nil {
			return fmt.Errorf("%s: %w", attestation.AttributeValuesParam, errMalformedParameter)
		}
	}

	owner, ok := n.network.lookup(ownerMid)
	if !ok {
		return fmt.Errorf("owner %s: %w", ownerMid, errPeerNotFound)
	}

	return owner.receiveVerify(n, hash, values)
}

// AllowVerify consents to the pending verification of attribute name by the verifier with the given mid.
func (n *Node) AllowVerify(verifierMid, name string) error {
	if verifierMid == "" || name == "" {
		return fmt.Errorf("allow_verify needs %s and %s: %w", attestation.MidParam,
			attestation.AttributeNameParam, errMissingParameter)
	}

	key := requestKey(verifierMid, name)

	v, err := n.outstandingVerify.Get(key)
	if err != nil || !n.outstandingVerify.Remove(key) {
		return fmt.Errorf("%s for %s: %w", name, verifierMid, errNoOutstandingVerify)
	}

	pending, _ := v.(*pendingVerify) //nolint:errcheck

	n.answerVerify(pending.verifier, pending.record, pending.values)

	return nil
}

// Blocks lists the blocks created by the hex encoded public key, and those linking to it.
func (n *Node) Blocks(publicKey string) ([]*trustchain.Block, error) {
	return n.state.blocksOf(publicKey)
}

// Block returns the block with the given hash.
func (n *Node) Block(hash string) (*trustchain.Block, error) {
	return n.state.block(hash)
}

func (n *Node) receiveAttestation(rec attributeRecord, attesterKey []byte) (*trustchain.Block, error) {
	rec.Seq = n.nextSeq()

	if err := n.state.putAttribute(&rec); err != nil {
		return nil, fmt.Errorf("store attribute: %w", err)
	}

	block, err := n.newBlock(&rec, attesterKey)
	if err != nil {
		return nil, err
	}

	if err := n.state.putBlock(block); err != nil {
		return nil, fmt.Errorf("store block: %w", err)
	}

	return block, nil
}

func (n *Node) receiveVerify(verifier *Node, hash string, values []string) error {
	rec, err := n.state.findAttribute(n.mid.String(), hash)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return fmt.Errorf("%s: %w", hash, errUnknownAttribute)
		}

		return err
	}

	if n.cfg.autoAllowVerify {
		n.answerVerify(verifier, rec, values)

		return nil
	}

	request := attestation.OutstandingVerifyRequest{PeerMid: verifier.mid.String(), Name: rec.Name}

	return n.outstandingVerify.Set(requestKey(request.PeerMid, rec.Name), &pendingVerify{
		seq:      n.nextSeq(),
		request:  request,
		verifier: verifier,
		record:   rec,
		values:   values,
	})
}

func (n *Node) answerVerify(verifier *Node, rec *attributeRecord, values []string) {
	matches := make([]attestation.ValueMatch, len(values))

	for i, value := range values {
		raw, err := base64.StdEncoding.DecodeString(value)

		match := 0.0
		if err == nil && hashValue(raw) == rec.Hash {
			match = exactMatch
		}

		matches[i] = attestation.ValueMatch{Value: value, Match: match}
	}

	n.deliver(func() error {
		return verifier.verificationOutput.Set(rec.Hash, matches)
	})
}

func (n *Node) newBlock(rec *attributeRecord, linkKey []byte) (*trustchain.Block, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UTC()

	b := &trustchain.Block{
		Transaction:    trustchain.Transaction{Hash: rec.Hash, Name: rec.Name, Metadata: rec.Metadata},
		Type:           blockType,
		PublicKey:      hex.EncodeToString(n.publicKey),
		SequenceNumber: n.blockSeq + 1,
		LinkPublicKey:  hex.EncodeToString(linkKey),
		PreviousHash:   n.prevHash,
		Timestamp:      now.UnixMilli(),
		InsertTime:     now.Format("2006-01-02T15:04:05.000Z"),
	}

	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal block: %w", err)
	}

	sum := sha256.Sum256(raw)
	b.Hash = hex.EncodeToString(sum[:])

	n.blockSeq++
	n.prevHash = b.Hash

	return b, nil
}

// deliver runs a message handler of another peer, after the configured processing delay.
func (n *Node) deliver(handle func() error) {
	run := func() {
		if err := handle(); err != nil {
			logger.Errorf("%s: deliver message: %v", n.role, err)
		}
	}

	if n.cfg.processingDelay <= 0 {
		run()

		return
	}

	time.AfterFunc(n.cfg.processingDelay, run)
}

func (n *Node) nextSeq() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.seq++

	return n.seq
}

func (n *Node) close() error {
	n.network.leave(n)
	n.outstanding.Purge()
	n.outstandingVerify.Purge()
	n.verificationOutput.Purge()

	return n.state.close()
}

func requestKey(mid, name string) string {
	return mid + "|" + name
}

func hashValue(value []byte) string {
	sum := sha1.Sum(value) //nolint:gosec

	return base64.StdEncoding.EncodeToString(sum[:])
}

func decodeMetadata(metadata string) map[string]interface{} {
	raw, err := base64.StdEncoding.DecodeString(metadata)
	if err != nil {
		return map[string]interface{}{}
	}

	decoded := map[string]interface{}{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]interface{}{}
	}

	return decoded
}
