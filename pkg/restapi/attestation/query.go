/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package attestation describes the attestation control protocol of an overlay peer:
// the query types, their HTTP methods and parameters, and the JSON shapes of the responses.
package attestation

import (
	"net/http"
	"strings"

	"github.com/discipl/ipv8-attestation/pkg/client/rest"
)

// Path is the path of the attestation control endpoint on a peer.
const Path = "/attestation"

// EmptyResult is the body a control endpoint answers with when it has nothing to report yet.
const EmptyResult = "[]"

// QueryType discriminates control queries.
type QueryType string

// control query types.
const (
	Peers                   QueryType = "peers"
	Outstanding             QueryType = "outstanding"
	OutstandingVerify       QueryType = "outstanding_verify"
	Attributes              QueryType = "attributes"
	VerificationOutputQuery QueryType = "verification_output"
	Request                 QueryType = "request"
	Attest                  QueryType = "attest"
	Verify                  QueryType = "verify"
	AllowVerify             QueryType = "allow_verify"
)

// query parameter names.
const (
	TypeParam            = "type"
	MidParam             = "mid"
	AttributeNameParam   = "attribute_name"
	AttributeValueParam  = "attribute_value"
	AttributeHashParam   = "attribute_hash"
	AttributeValuesParam = "attribute_values"
	MetadataParam        = "metadata"
)

// Method returns the HTTP method a query type is sent with.
func (t QueryType) Method() string {
	switch t {
	case Request, Attest, Verify, AllowVerify:
		return http.MethodPost
	default:
		return http.MethodGet
	}
}

// Known reports whether t is a query type of the protocol.
func (t QueryType) Known() bool {
	switch t {
	case Peers, Outstanding, OutstandingVerify, Attributes, VerificationOutputQuery,
		Request, Attest, Verify, AllowVerify:
		return true
	default:
		return false
	}
}

// Query is one control query. It is built per call and carries its parameters in send order.
type Query struct {
	Type   QueryType
	Params []rest.Param
}

// NewQuery builds a query of type t with the given parameters.
func NewQuery(t QueryType, params ...rest.Param) *Query {
	return &Query{Type: t, Params: params}
}

// With appends a parameter.
func (q *Query) With(key, value string) *Query {
	q.Params = append(q.Params, rest.Param{Key: key, Value: value})

	return q
}

// Method returns the HTTP method of the query.
func (q *Query) Method() string {
	return q.Type.Method()
}

// Values returns the full parameter list, the type discriminator first.
func (q *Query) Values() []rest.Param {
	return append([]rest.Param{{Key: TypeParam, Value: string(q.Type)}}, q.Params...)
}

// URL returns the query URL against a control endpoint.
func (q *Query) URL(endpoint string) string {
	return rest.BuildURL(endpoint, q.Values()...)
}

// Endpoint returns the control endpoint URL of a peer API root such as http://localhost:8086.
func Endpoint(root string) string {
	return strings.TrimSuffix(root, "/") + Path
}

// IsEmpty reports whether body is the empty-collection sentinel.
func IsEmpty(body string) bool {
	return strings.TrimSpace(body) == EmptyResult
}
