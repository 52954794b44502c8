/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package attestation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/discipl/ipv8-attestation/pkg/common/failure"
	"github.com/discipl/ipv8-attestation/pkg/peer"
	"github.com/discipl/ipv8-attestation/pkg/peer/loopback"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv
}

func TestClient_Queries(t *testing.T) {
	var gotMethod, gotQuery string

	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotQuery = r.Method, r.URL.RawQuery

		switch r.URL.Query().Get("type") {
		case "peers":
			fmt.Fprint(w, `["K1ifTZ++hPN4UqU24rSc/czfYZY=","eGU/YRXWJB18VQf8UbOoIhW9+xM="]`)
		case "outstanding":
			fmt.Fprint(w, `[["K1ifTZ++hPN4UqU24rSc/czfYZY=","QR","e30="]]`)
		case "attributes":
			fmt.Fprint(w, `[["time_for_beer","hash",{"psn":"1234"},"attestor"]]`)
		case "outstanding_verify":
			fmt.Fprint(w, `[["eGU/YRXWJB18VQf8UbOoIhW9+xM=","QR"]]`)
		case "verification_output":
			fmt.Fprint(w, `{"hash":[["YmluYXJ5ZGF0YQ==",0.9999847412109375]]}`)
		default:
			fmt.Fprint(w, `{"success": true}`)
		}
	})

	c := New(srv.URL)
	require.Equal(t, srv.URL+"/attestation", c.Endpoint())

	ctx := context.Background()

	t.Run("peers", func(t *testing.T) {
		peers, err := c.GetPeers(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"K1ifTZ++hPN4UqU24rSc/czfYZY=", "eGU/YRXWJB18VQf8UbOoIhW9+xM="}, peers)
		require.Equal(t, http.MethodGet, gotMethod)
		require.Equal(t, "type=peers", gotQuery)
	})

	t.Run("outstanding", func(t *testing.T) {
		requests, err := c.GetOutstanding(ctx)
		require.NoError(t, err)
		require.Equal(t, []attestation.OutstandingRequest{
			{PeerMid: "K1ifTZ++hPN4UqU24rSc/czfYZY=", Name: "QR", Metadata: "e30="},
		}, requests)
	})

	t.Run("attributes of a peer", func(t *testing.T) {
		attributes, err := c.GetAttributes(ctx, "NK/iVUPWqLmbgjGHCksRej/ynUY=")
		require.NoError(t, err)
		require.Len(t, attributes, 1)
		require.Equal(t, "time_for_beer", attributes[0].Name)
		require.Equal(t, map[string]interface{}{"psn": "1234"}, attributes[0].Metadata)
		require.Equal(t, "type=attributes&mid=NK%2FiVUPWqLmbgjGHCksRej%2FynUY%3D", gotQuery)
	})

	t.Run("outstanding verify", func(t *testing.T) {
		requests, err := c.GetOutstandingVerify(ctx)
		require.NoError(t, err)
		require.Equal(t, []attestation.OutstandingVerifyRequest{
			{PeerMid: "eGU/YRXWJB18VQf8UbOoIhW9+xM=", Name: "QR"},
		}, requests)
	})

	t.Run("verification output", func(t *testing.T) {
		results, err := c.GetVerificationOutput(ctx)
		require.NoError(t, err)
		require.Equal(t, []attestation.VerificationResult{
			{AttributeHash: "hash", AttributeValue: "YmluYXJ5ZGF0YQ==", Match: 0.9999847412109375},
		}, results)
	})

	t.Run("request attestation", func(t *testing.T) {
		resp, err := c.RequestAttestation(ctx, "QR", "NK/iVUPWqLmbgjGHCksRej/ynUY=",
			map[string]interface{}{"b": 1, "a": "x"})
		require.NoError(t, err)
		require.True(t, resp.Success)
		require.Equal(t, http.MethodPost, gotMethod)
		// base64 of {"a":"x","b":1}
		require.Equal(t, "type=request&mid=NK%2FiVUPWqLmbgjGHCksRej%2FynUY%3D&metadata=eyJhIjoieCIsImIiOjF9"+
			"&attribute_name=QR", gotQuery)
	})

	t.Run("attest", func(t *testing.T) {
		_, err := c.Attest(ctx, "QR", "binarydata", "NK/iVUPWqLmbgjGHCksRej/ynUY=")
		require.NoError(t, err)
		require.Equal(t, "type=attest&mid=NK%2FiVUPWqLmbgjGHCksRej%2FynUY%3D&attribute_name=QR"+
			"&attribute_value=YmluYXJ5ZGF0YQ%3D%3D", gotQuery)
	})

	t.Run("verify", func(t *testing.T) {
		_, err := c.Verify(ctx, "NK/iVUPWqLmbgjGHCksRej/ynUY=", "a+b=", "binarydata")
		require.NoError(t, err)
		require.Equal(t, "type=verify&mid=NK%2FiVUPWqLmbgjGHCksRej%2FynUY%3D&attribute_hash=a%2Bb%3D"+
			"&attribute_values=YmluYXJ5ZGF0YQ%3D%3D", gotQuery)
	})

	t.Run("allow verify", func(t *testing.T) {
		_, err := c.AllowVerify(ctx, "eGU/YRXWJB18VQf8UbOoIhW9+xM=", "QR")
		require.NoError(t, err)
		require.Equal(t, "type=allow_verify&mid=eGU%2FYRXWJB18VQf8UbOoIhW9%2BxM%3D&attribute_name=QR", gotQuery)
	})
}

func TestClient_Errors(t *testing.T) {
	t.Run("non 200 status", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error": "unknown peer"}`)
		})

		_, err := New(srv.URL).GetPeers(context.Background())
		require.Error(t, err)
		require.Equal(t, failure.KindStatus, failure.KindOf(err))
		require.Contains(t, err.Error(), `error when sending request to IPv8: {"error": "unknown peer"}`)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `not json`)
		})

		_, err := New(srv.URL).GetAttributes(context.Background(), "")
		require.Equal(t, failure.KindMalformedJSON, failure.KindOf(err))
	})

	t.Run("unreachable peer", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()

		_, err := New(srv.URL).GetPeers(context.Background())
		require.Equal(t, failure.KindTransport, failure.KindOf(err))
	})
}

func TestClient_FindOutstanding(t *testing.T) {
	t.Run("found after a retry", func(t *testing.T) {
		var calls int32

		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				fmt.Fprint(w, `[]`)

				return
			}

			fmt.Fprint(w, `[["mid","age","e30="],["mid","QR","e30="]]`)
		})

		req, err := New(srv.URL, WithFindRetry(5, time.Millisecond)).FindOutstanding(context.Background(), "QR")
		require.NoError(t, err)
		require.Equal(t, &attestation.OutstandingRequest{PeerMid: "mid", Name: "QR", Metadata: "e30="}, req)
		require.EqualValues(t, 3, atomic.LoadInt32(&calls))
	})

	t.Run("absent", func(t *testing.T) {
		var calls int32

		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			fmt.Fprint(w, `[]`)
		})

		req, err := New(srv.URL, WithFindRetry(5, time.Millisecond)).FindOutstanding(context.Background(), "QR")
		require.NoError(t, err)
		require.Nil(t, req)
		require.EqualValues(t, 6, atomic.LoadInt32(&calls))
	})

	t.Run("query failure stops the search", func(t *testing.T) {
		var calls int32

		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := New(srv.URL, WithFindRetry(5, time.Millisecond)).FindOutstanding(context.Background(), "QR")
		require.Equal(t, failure.KindStatus, failure.KindOf(err))
		require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})
}

func TestClient_AgainstLoopbackPeers(t *testing.T) {
	ctx := context.Background()
	launcher := loopback.NewLauncher()

	owner, err := launcher.Launch(ctx, peer.Spec{Role: peer.Owner})
	require.NoError(t, err)

	defer owner.Stop(ctx) //nolint:errcheck

	attester, err := launcher.Launch(ctx, peer.Spec{Role: peer.Attester})
	require.NoError(t, err)

	defer attester.Stop(ctx) //nolint:errcheck

	verifier, err := launcher.Launch(ctx, peer.Spec{Role: peer.Verifier})
	require.NoError(t, err)

	defer verifier.Stop(ctx) //nolint:errcheck

	root := func(p *peer.Peer) string { return strings.TrimSuffix(p.Endpoint, attestation.Path) }
	ownerClient, attesterClient, verifierClient := New(root(owner)), New(root(attester)), New(root(verifier))

	_, err = ownerClient.RequestAttestation(ctx, "QR", attester.Mid.String(), map[string]interface{}{"psn": "1234"})
	require.NoError(t, err)

	req, err := attesterClient.FindOutstanding(ctx, "QR")
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Equal(t, owner.Mid.String(), req.PeerMid)

	_, err = attesterClient.Attest(ctx, "QR", "binarydata", req.PeerMid)
	require.NoError(t, err)

	attributes, err := ownerClient.GetAttributes(ctx, "")
	require.NoError(t, err)
	require.Len(t, attributes, 1)
	require.Equal(t, map[string]interface{}{"psn": "1234"}, attributes[0].Metadata)

	_, err = verifierClient.Verify(ctx, owner.Mid.String(), attributes[0].Hash, "binarydata")
	require.NoError(t, err)

	pending, err := ownerClient.GetOutstandingVerify(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = ownerClient.AllowVerify(ctx, pending[0].PeerMid, pending[0].Name)
	require.NoError(t, err)

	results, err := verifierClient.GetVerificationOutput(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Greater(t, results[0].Match, 0.999)
}
