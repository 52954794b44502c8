/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package poll repeats a control query until the peer has something to report.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperledger/aries-framework-go/component/log"
	spilog "github.com/hyperledger/aries-framework-go/spi/log"

	"github.com/discipl/ipv8-attestation/pkg/client/rest"
	"github.com/discipl/ipv8-attestation/pkg/common/failure"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
)

// DefaultInterval is the wait between two queries of a polling session.
const DefaultInterval = 4 * time.Second

var logger = log.New("ipv8-attestation/poll")

var errNotReady = errors.New("result not ready")

// Fetch performs one query and returns its body.
type Fetch func(ctx context.Context) (string, error)

// Requester sends one control query.
type Requester interface {
	Request(ctx context.Context, method, endpoint string, params ...rest.Param) (string, error)
}

// Query returns a Fetch sending the same query on every call.
func Query(r Requester, endpoint string, q *attestation.Query) Fetch {
	method, params := q.Method(), q.Values()

	return func(ctx context.Context) (string, error) {
		return r.Request(ctx, method, endpoint, params...)
	}
}

// IsReady reports whether body holds a result.
func IsReady(body string) bool {
	return !attestation.IsEmpty(body)
}

// Poller runs polling sessions.
type Poller struct {
	interval    time.Duration
	maxAttempts uint64
	maxElapsed  time.Duration
	timer       backoff.Timer
	logger      spilog.Logger
}

// Option configures the poller.
type Option func(opts *Poller)

// New creates a poller. Without bounds it polls until the result is ready or the context ends.
func New(opts ...Option) *Poller {
	p := &Poller{interval: DefaultInterval, logger: logger}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithInterval sets the wait between queries.
func WithInterval(d time.Duration) Option {
	return func(opts *Poller) {
		opts.interval = d
	}
}

// WithMaxAttempts bounds the number of queries of a session. Zero means unbounded.
func WithMaxAttempts(n uint64) Option {
	return func(opts *Poller) {
		opts.maxAttempts = n
	}
}

// WithMaxElapsed bounds the duration of a session. Zero means unbounded.
func WithMaxElapsed(d time.Duration) Option {
	return func(opts *Poller) {
		opts.maxElapsed = d
	}
}

// WithTimer replaces the timer used for the waits between queries.
func WithTimer(t backoff.Timer) Option {
	return func(opts *Poller) {
		opts.timer = t
	}
}

// WithLogger sets the logger the not-ready notices go to.
func WithLogger(l spilog.Logger) Option {
	return func(opts *Poller) {
		opts.logger = l
	}
}

// Interval returns the wait between queries.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Until calls fetch until it returns a ready body and returns that body. Each empty result logs notReadyMsg
// together with the coming wait. A fetch error ends the session at once.
func (p *Poller) Until(ctx context.Context, notReadyMsg string, fetch Fetch) (string, error) {
	sessionCtx := ctx

	if p.maxElapsed > 0 {
		var cancel context.CancelFunc

		sessionCtx, cancel = context.WithTimeout(ctx, p.maxElapsed)
		defer cancel()
	}

	var (
		result   string
		attempts uint64
	)

	op := func() error {
		attempts++

		body, err := fetch(sessionCtx)
		if err != nil {
			return backoff.Permanent(err)
		}

		if !IsReady(body) {
			return errNotReady
		}

		result = body

		return nil
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(p.interval)
	if p.maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.maxAttempts-1)
	}

	err := backoff.RetryNotifyWithTimer(op, backoff.WithContext(b, sessionCtx),
		func(_ error, wait time.Duration) {
			p.logger.Infof("%s, waiting for %s!", notReadyMsg, wait)
		}, p.timer)
	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		return "", failure.New("", failure.KindCanceled, ctx.Err())
	}

	if errors.Is(err, errNotReady) || sessionCtx.Err() != nil {
		return "", failure.New("", failure.KindNotReady,
			fmt.Errorf("no result after %d attempts: %w", attempts, errNotReady))
	}

	return "", err
}
