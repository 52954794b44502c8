/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package loopback

import (
	"crypto/sha1" //nolint:gosec
	"encoding/base64"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discipl/ipv8-attestation/pkg/peer"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
)

const binaryData = "YmluYXJ5ZGF0YQ=="

func newTestNode(t *testing.T, network *Network, role peer.Role, cfg nodeConfig) *Node {
	t.Helper()

	n, err := newNode(role, network, mem.NewProvider(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, n.close())
	})

	return n
}

func sha1Base64(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec

	return base64.StdEncoding.EncodeToString(sum[:])
}

func TestNode_AttestationFlow(t *testing.T) {
	network := NewNetwork()
	owner := newTestNode(t, network, peer.Owner, nodeConfig{})
	attester := newTestNode(t, network, peer.Attester, nodeConfig{})
	verifier := newTestNode(t, network, peer.Verifier, nodeConfig{})

	require.ElementsMatch(t, []string{attester.Mid().String(), verifier.Mid().String()}, owner.Peers())

	require.NoError(t, owner.RequestAttestation(attester.Mid().String(), "QR", ""))

	outstanding := attester.Outstanding()
	require.Len(t, outstanding, 1)
	require.Equal(t, owner.Mid().String(), outstanding[0].PeerMid)
	require.Equal(t, "QR", outstanding[0].Name)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("{}")), outstanding[0].Metadata)

	require.NoError(t, attester.Attest(owner.Mid().String(), "QR", binaryData))
	require.Empty(t, attester.Outstanding())

	attributes, err := owner.Attributes("")
	require.NoError(t, err)
	require.Len(t, attributes, 1)
	require.Equal(t, "QR", attributes[0].Name)
	require.Equal(t, sha1Base64("binarydata"), attributes[0].Hash)
	require.Equal(t, attester.Mid().String(), attributes[0].Attestor)

	known, err := attester.Attributes(owner.Mid().String())
	require.NoError(t, err)
	require.Equal(t, attributes, known)

	hash := attributes[0].Hash
	require.NoError(t, verifier.Verify(owner.Mid().String(), hash, []string{binaryData}))
	require.Empty(t, verifier.VerificationOutput())

	pending := owner.OutstandingVerify()
	require.Equal(t, []attestation.OutstandingVerifyRequest{{PeerMid: verifier.Mid().String(), Name: "QR"}}, pending)

	require.NoError(t, owner.AllowVerify(verifier.Mid().String(), "QR"))
	require.Empty(t, owner.OutstandingVerify())

	out := verifier.VerificationOutput()
	require.Equal(t, attestation.VerificationOutput{hash: {{Value: binaryData, Match: exactMatch}}}, out)
}

func TestNode_Blocks(t *testing.T) {
	network := NewNetwork()
	owner := newTestNode(t, network, peer.Owner, nodeConfig{})
	attester := newTestNode(t, network, peer.Attester, nodeConfig{})

	for _, name := range []string{"QR", "age"} {
		require.NoError(t, owner.RequestAttestation(attester.Mid().String(), name, ""))
		require.NoError(t, attester.Attest(owner.Mid().String(), name, binaryData))
	}

	ownerKey := hex.EncodeToString(owner.PublicKey())

	blocks, err := owner.Blocks(ownerKey)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	require.Equal(t, genesisHash, blocks[0].PreviousHash)
	require.Equal(t, blocks[0].Hash, blocks[1].PreviousHash)
	require.Equal(t, uint64(1), blocks[0].SequenceNumber)
	require.Equal(t, uint64(2), blocks[1].SequenceNumber)
	require.Equal(t, hex.EncodeToString(attester.PublicKey()), blocks[0].LinkPublicKey)
	require.Equal(t, "age", blocks[1].Transaction.Name)

	linked, err := attester.Blocks(hex.EncodeToString(attester.PublicKey()))
	require.NoError(t, err)
	require.Equal(t, blocks, linked)

	mirrored, err := attester.Block(blocks[1].Hash)
	require.NoError(t, err)
	require.Equal(t, blocks[1], mirrored)

	_, err = owner.Block("unknown")
	require.Error(t, err)
}

func TestNode_ConcurrentAttest(t *testing.T) {
	network := NewNetwork()
	owner := newTestNode(t, network, peer.Owner, nodeConfig{})
	attester := newTestNode(t, network, peer.Attester, nodeConfig{})

	require.NoError(t, owner.RequestAttestation(attester.Mid().String(), "QR", ""))

	var (
		wg        sync.WaitGroup
		succeeded int32
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := attester.Attest(owner.Mid().String(), "QR", binaryData)
			if err == nil {
				atomic.AddInt32(&succeeded, 1)

				return
			}

			assert.ErrorIs(t, err, errNoOutstandingRequest)
		}()
	}

	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&succeeded))

	known, err := attester.Attributes(owner.Mid().String())
	require.NoError(t, err)
	require.Len(t, known, 1)
}

func TestNode_Errors(t *testing.T) {
	network := NewNetwork()
	owner := newTestNode(t, network, peer.Owner, nodeConfig{})
	attester := newTestNode(t, network, peer.Attester, nodeConfig{})

	t.Run("missing parameters", func(t *testing.T) {
		require.ErrorIs(t, owner.RequestAttestation("", "QR", ""), errMissingParameter)
		require.ErrorIs(t, attester.Attest(owner.Mid().String(), "QR", ""), errMissingParameter)
		require.ErrorIs(t, owner.Verify(owner.Mid().String(), "hash", nil), errMissingParameter)
		require.ErrorIs(t, owner.AllowVerify("", "QR"), errMissingParameter)
	})

	t.Run("unknown peer", func(t *testing.T) {
		require.ErrorIs(t, owner.RequestAttestation("bm9ib2R5", "QR", ""), errPeerNotFound)
	})

	t.Run("attest without request", func(t *testing.T) {
		require.ErrorIs(t, attester.Attest(owner.Mid().String(), "QR", binaryData), errNoOutstandingRequest)
	})

	t.Run("malformed value", func(t *testing.T) {
		require.ErrorIs(t, attester.Attest(owner.Mid().String(), "QR", "not base64!"), errMalformedParameter)
	})

	t.Run("verify unknown attribute", func(t *testing.T) {
		require.ErrorIs(t, attester.Verify(owner.Mid().String(), sha1Base64("x"), []string{binaryData}),
			errUnknownAttribute)
	})

	t.Run("allow without request", func(t *testing.T) {
		require.ErrorIs(t, owner.AllowVerify(attester.Mid().String(), "QR"), errNoOutstandingVerify)
	})
}

func TestNode_AutoAllowVerify(t *testing.T) {
	network := NewNetwork()
	owner := newTestNode(t, network, peer.Owner, nodeConfig{autoAllowVerify: true})
	attester := newTestNode(t, network, peer.Attester, nodeConfig{})

	require.NoError(t, owner.RequestAttestation(attester.Mid().String(), "QR", ""))
	require.NoError(t, attester.Attest(owner.Mid().String(), "QR", binaryData))

	hash := sha1Base64("binarydata")
	wrong := base64.StdEncoding.EncodeToString([]byte("otherdata"))

	require.NoError(t, attester.Verify(owner.Mid().String(), hash, []string{binaryData, wrong}))
	require.Empty(t, owner.OutstandingVerify())

	require.Equal(t, attestation.VerificationOutput{hash: {
		{Value: binaryData, Match: exactMatch},
		{Value: wrong, Match: 0},
	}}, attester.VerificationOutput())
}

func TestNode_ProcessingDelay(t *testing.T) {
	network := NewNetwork()
	owner := newTestNode(t, network, peer.Owner, nodeConfig{processingDelay: 20 * time.Millisecond})
	attester := newTestNode(t, network, peer.Attester, nodeConfig{})

	require.NoError(t, owner.RequestAttestation(attester.Mid().String(), "QR", ""))
	require.Empty(t, attester.Outstanding())

	require.Eventually(t, func() bool {
		return len(attester.Outstanding()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNode_RequestTTL(t *testing.T) {
	network := NewNetwork()
	owner := newTestNode(t, network, peer.Owner, nodeConfig{})
	attester := newTestNode(t, network, peer.Attester, nodeConfig{requestTTL: 10 * time.Millisecond})

	require.NoError(t, owner.RequestAttestation(attester.Mid().String(), "QR", ""))
	require.Len(t, attester.Outstanding(), 1)

	require.Eventually(t, func() bool {
		return len(attester.Outstanding()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestNetwork_DiscoveryDelay(t *testing.T) {
	now := time.Now()

	network := NewNetwork(WithDiscoveryDelay(time.Minute))
	network.now = func() time.Time { return now }

	owner := newTestNode(t, network, peer.Owner, nodeConfig{})
	attester := newTestNode(t, network, peer.Attester, nodeConfig{})

	require.Empty(t, owner.Peers())
	require.ErrorIs(t, owner.RequestAttestation(attester.Mid().String(), "QR", ""), errPeerNotFound)

	now = now.Add(time.Minute)

	require.Equal(t, []string{attester.Mid().String()}, owner.Peers())
	require.NoError(t, owner.RequestAttestation(attester.Mid().String(), "QR", ""))
}
