/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package peer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/discipl/ipv8-attestation/pkg/client/rest"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
)

// readiness defaults.
const (
	DefaultReadyInterval = time.Second
	DefaultReadyRetries  = 60
)

var logger = log.New("ipv8-attestation/peer")

// Requester sends one control query.
type Requester interface {
	Request(ctx context.Context, method, endpoint string, params ...rest.Param) (string, error)
}

// Readiness tells how long to wait for a control endpoint to come up.
type Readiness struct {
	Interval  time.Duration
	Retries   uint64
	Requester Requester
}

// WaitReady blocks until the control endpoint answers a peers query, or the retries are used up.
func (r Readiness) WaitReady(ctx context.Context, role Role, endpoint string) error {
	interval, retries, requester := r.Interval, r.Retries, r.Requester
	if interval <= 0 {
		interval = DefaultReadyInterval
	}

	if retries == 0 {
		retries = DefaultReadyRetries
	}

	if requester == nil {
		requester = rest.New()
	}

	q := attestation.NewQuery(attestation.Peers)

	err := backoff.RetryNotify(
		func() error {
			_, err := requester.Request(ctx, http.MethodGet, endpoint, q.Values()...)

			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), retries), ctx),
		func(retryErr error, t time.Duration) {
			logger.Warnf("%s control endpoint %s not answering yet, retrying in %s: %v", role, endpoint, t, retryErr)
		},
	)
	if err != nil {
		return fmt.Errorf("%s control endpoint %s did not come up: %w", role, endpoint, err)
	}

	return nil
}
