/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Run("classified error", func(t *testing.T) {
		err := New("peers", KindTransport, errors.New("connection refused"))
		require.Equal(t, KindTransport, KindOf(err))
		require.EqualError(t, err, "peers [transport]: connection refused")
	})

	t.Run("wrapped classified error", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", Newf("attest", KindStatus, "status %d", 500))
		require.Equal(t, KindStatus, KindOf(err))
	})

	t.Run("plain error", func(t *testing.T) {
		require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
		require.Equal(t, KindUnknown, KindOf(nil))
	})

	t.Run("cause survives", func(t *testing.T) {
		err := New("verification_output", KindCanceled, context.Canceled)
		require.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("nil cause", func(t *testing.T) {
		err := New("", KindNotReady, nil)
		require.EqualError(t, err, "not-ready: not-ready")
	})
}

func TestWithOp(t *testing.T) {
	require.NoError(t, WithOp("x", nil))

	err := WithOp("request", New("", KindMalformedJSON, errors.New("bad")))
	require.Equal(t, KindMalformedJSON, KindOf(err))
	require.Contains(t, err.Error(), "request [malformed-json]")

	same := New("attest", KindAssertion, errors.New("missing"))
	require.Same(t, same, WithOp("attest", same))

	plain := WithOp("peers", errors.New("boom"))
	require.Equal(t, KindUnknown, KindOf(plain))
}

func TestFormat(t *testing.T) {
	err := New("verify", KindTransport, errors.New("reset"))

	require.Equal(t, err.Error(), fmt.Sprintf("%v", err))
	require.Contains(t, fmt.Sprintf("%+v", err), "failure_test.go")
}

func TestKindString(t *testing.T) {
	for kind, name := range map[Kind]string{
		KindUnknown:       "unknown",
		KindTransport:     "transport",
		KindStatus:        "status",
		KindMalformedJSON: "malformed-json",
		KindAssertion:     "assertion",
		KindNotReady:      "not-ready",
		KindCanceled:      "canceled",
	} {
		require.Equal(t, name, kind.String())
	}
}
