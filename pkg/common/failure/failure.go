/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package failure classifies the ways a conversation with a peer control endpoint can go wrong.
package failure

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is the category of a failure.
type Kind int

const (
	// KindUnknown is reported for errors that carry no failure kind.
	KindUnknown Kind = iota
	// KindTransport is a connection, dial or body read failure.
	KindTransport
	// KindStatus is an HTTP response with an unexpected status code.
	KindStatus
	// KindMalformedJSON is a response body that could not be decoded.
	KindMalformedJSON
	// KindAssertion is a decoded response that does not hold what was expected.
	KindAssertion
	// KindNotReady is a polling session whose bounds ran out before the peer had a result.
	KindNotReady
	// KindCanceled is an operation abandoned because its context was canceled.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindMalformedJSON:
		return "malformed-json"
	case KindAssertion:
		return "assertion"
	case KindNotReady:
		return "not-ready"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a classified failure of a named operation.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

// New returns a classified error for op, recording the call stack of the wrapped cause.
func New(op string, kind Kind, err error) *Error {
	if err == nil {
		err = errors.New(kind.String())
	}

	return &Error{Op: op, Kind: kind, Err: pkgerrors.WithStack(err)}
}

// Newf is New with a formatted cause.
func Newf(op string, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Op: op, Kind: kind, Err: pkgerrors.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}

	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Format prints the stack of the cause with %+v.
func (e *Error) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "%s [%s]: %+v", e.Op, e.Kind, e.Err)

		return
	}

	fmt.Fprint(s, e.Error())
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// WithOp returns err labelled with op. A classified error keeps its kind; anything else becomes KindUnknown.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Op == op {
			return e
		}

		return &Error{Op: op, Kind: e.Kind, Err: err}
	}

	return New(op, KindUnknown, err)
}
