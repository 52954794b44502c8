/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/discipl/ipv8-attestation/pkg/client/rest"
	"github.com/discipl/ipv8-attestation/pkg/common/failure"
	"github.com/discipl/ipv8-attestation/pkg/identity"
	"github.com/discipl/ipv8-attestation/pkg/internal/logtest"
	"github.com/discipl/ipv8-attestation/pkg/peer"
	"github.com/discipl/ipv8-attestation/pkg/peer/loopback"
	"github.com/discipl/ipv8-attestation/pkg/poll"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
)

func fastPoller() *poll.Poller {
	return poll.New(poll.WithInterval(5*time.Millisecond), poll.WithMaxAttempts(200))
}

// launchPeers starts the three roles on one loopback network.
func launchPeers(t *testing.T, opts ...loopback.Option) []*peer.Peer {
	t.Helper()

	l := loopback.NewLauncher(opts...)
	peers := make([]*peer.Peer, 0, 3)

	for _, role := range peer.Roles() {
		p, err := l.Launch(context.Background(), peer.Spec{Role: role})
		require.NoError(t, err)

		t.Cleanup(func() {
			require.NoError(t, p.Stop(context.Background()))
		})

		peers = append(peers, p)
	}

	return peers
}

func TestNew(t *testing.T) {
	owner := peer.Remote(peer.Owner, "http://localhost:8086/attestation", identity.MidFromPublicKey([]byte("o")))
	attester := peer.Remote(peer.Attester, "http://localhost:8087/attestation", identity.MidFromPublicKey([]byte("a")))

	_, err := New(owner, attester, nil)
	require.ErrorIs(t, err, errNilPeer)

	_, err = New(owner, attester, peer.Remote(peer.Verifier, "http://localhost:8088/attestation", nil))
	require.ErrorContains(t, err, "has no known mid")

	d, err := New(owner, attester, owner)
	require.NoError(t, err)
	require.Equal(t, DefaultAttributeName, d.attributeName)
	require.Equal(t, DefaultAttributeValue, d.attributeValue)
	require.False(t, d.consent)
}

func TestDriver_Run(t *testing.T) {
	t.Run("attests and verifies with peers that allow verification", func(t *testing.T) {
		peers := launchPeers(t, loopback.WithAutoAllowVerify(true))
		l := &logtest.MockLogger{}

		d, err := New(peers[0], peers[1], peers[2], WithPoller(fastPoller()), WithLogger(l))
		require.NoError(t, err)

		res, err := d.Run(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, res.RunID)
		require.NotEqual(t, attestation.EmptyResult, res.Peers)
		require.Contains(t, res.Outstanding, DefaultAttributeName)
		require.Contains(t, res.Attributes, res.AttributeHash)
		require.Contains(t, res.VerificationOutput, res.AttributeHash)
		require.Greater(t, res.Match, VerifiedThreshold)
		require.True(t, res.Verified)

		require.Equal(t, 3, l.Count("REST api available at"))

		require.NoError(t, Report(l, res, nil))
		require.Equal(t, 1, l.Count("verified true"))
	})

	t.Run("owner consents to the verification", func(t *testing.T) {
		peers := launchPeers(t)

		d, err := New(peers[0], peers[1], peers[2], WithPoller(fastPoller()), WithConsent(),
			WithAttribute("time_for_beer", "yes"), WithLogger(&logtest.MockLogger{}))
		require.NoError(t, err)

		res, err := d.Run(context.Background())
		require.NoError(t, err)
		require.True(t, res.Verified)
	})

	t.Run("without consent the verification output never arrives", func(t *testing.T) {
		peers := launchPeers(t)

		d, err := New(peers[0], peers[1], peers[2], WithPoller(fastPoller()), WithLogger(&logtest.MockLogger{}),
			WithVerificationPoller(poll.New(poll.WithInterval(time.Millisecond), poll.WithMaxAttempts(3))))
		require.NoError(t, err)

		res, err := d.Run(context.Background())
		require.Equal(t, failure.KindNotReady, failure.KindOf(err))
		require.ErrorContains(t, err, string(StepVerificationOutput))
		require.NotEmpty(t, res.AttributeHash)
		require.False(t, res.Verified)
	})

	t.Run("unknown attester aborts the run at the request", func(t *testing.T) {
		peers := launchPeers(t, loopback.WithAutoAllowVerify(true))
		bogus := peer.Remote(peer.Attester, peers[1].Endpoint, identity.MidFromPublicKey([]byte("nobody")))

		d, err := New(peers[0], bogus, peers[2], WithPoller(fastPoller()), WithLogger(&logtest.MockLogger{}))
		require.NoError(t, err)

		res, runErr := d.Run(context.Background())
		require.Equal(t, failure.KindStatus, failure.KindOf(runErr))

		var fe *failure.Error
		require.True(t, errors.As(runErr, &fe))
		require.Equal(t, string(StepRequest), fe.Op)

		require.NotEmpty(t, res.Peers)
		require.Empty(t, res.Outstanding)
		require.Empty(t, res.AttributeHash)

		// the peers are left running
		body, err := rest.New().Request(context.Background(), http.MethodGet, peers[1].Endpoint,
			attestation.NewQuery(attestation.Outstanding).Values()...)
		require.NoError(t, err)
		require.Equal(t, attestation.EmptyResult, body)

		l := &logtest.MockLogger{}
		require.ErrorIs(t, Report(l, res, runErr), runErr)
		require.Equal(t, 1, l.Count("ERROR attestation run failed"))
	})

	t.Run("malformed outstanding requests", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get(attestation.TypeParam) == string(attestation.Request) {
				fmt.Fprint(w, `{"success":true}`)

				return
			}

			fmt.Fprint(w, "{not json")
		}))
		defer srv.Close()

		endpoint := attestation.Endpoint(srv.URL)
		d, err := New(
			peer.Remote(peer.Owner, endpoint, identity.MidFromPublicKey([]byte("o"))),
			peer.Remote(peer.Attester, endpoint, identity.MidFromPublicKey([]byte("a"))),
			peer.Remote(peer.Verifier, endpoint, identity.MidFromPublicKey([]byte("v"))),
			WithPoller(fastPoller()), WithLogger(&logtest.MockLogger{}))
		require.NoError(t, err)

		_, err = d.Run(context.Background())
		require.Equal(t, failure.KindMalformedJSON, failure.KindOf(err))
		require.ErrorContains(t, err, string(StepOutstanding))
	})

	t.Run("canceled run", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, attestation.EmptyResult)
		}))
		defer srv.Close()

		endpoint := attestation.Endpoint(srv.URL)
		mid := identity.MidFromPublicKey([]byte("o"))

		d, err := New(peer.Remote(peer.Owner, endpoint, mid), peer.Remote(peer.Attester, endpoint, mid),
			peer.Remote(peer.Verifier, endpoint, mid), WithLogger(&logtest.MockLogger{}))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err = d.Run(ctx)
		require.Error(t, err)
		require.ErrorContains(t, err, string(StepPeers))
	})
}
