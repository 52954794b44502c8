/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package attestation

import (
	"encoding/json"
	"fmt"
	"sort"
)

const metadataIndex = 2

// SuccessResponse is returned by the POST operations on success.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is returned by a control endpoint that rejects a query.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Attribute is an attested attribute as listed by the attributes query.
type Attribute struct {
	Name     string                 `json:"name"`
	Hash     string                 `json:"hash"`
	Metadata map[string]interface{} `json:"metadata"`
	Attestor string                 `json:"attestor"`
}

// MarshalJSON renders the attribute as the [name, hash, metadata, attestor] tuple.
func (a Attribute) MarshalJSON() ([]byte, error) {
	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	return json.Marshal([]interface{}{a.Name, a.Hash, metadata, a.Attestor})
}

// UnmarshalJSON reads the tuple form. Older peers only send [name, hash].
func (a *Attribute) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if len(raw) < 2 { //nolint:gomnd
		return fmt.Errorf("attribute tuple has %d elements, want at least 2", len(raw))
	}

	fields := []interface{}{&a.Name, &a.Hash, &a.Metadata, &a.Attestor}
	for i := 0; i < len(raw) && i < len(fields); i++ {
		err := json.Unmarshal(raw[i], fields[i])
		if err != nil && i == metadataIndex {
			// metadata that is not an object is not interpreted
			a.Metadata = nil

			continue
		}

		if err != nil {
			return fmt.Errorf("attribute element %d: %w", i, err)
		}
	}

	return nil
}

// OutstandingRequest is a pending attestation request waiting at the attester.
type OutstandingRequest struct {
	PeerMid  string `json:"peerMid"`
	Name     string `json:"name"`
	Metadata string `json:"metadata"`
}

// MarshalJSON renders the request as the [peer mid, name, metadata] tuple.
func (o OutstandingRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{o.PeerMid, o.Name, o.Metadata})
}

// UnmarshalJSON reads the tuple form.
func (o *OutstandingRequest) UnmarshalJSON(data []byte) error {
	fields, err := decodeStrings(data, 2) //nolint:gomnd
	if err != nil {
		return fmt.Errorf("outstanding request: %w", err)
	}

	o.PeerMid, o.Name = fields[0], fields[1]
	if len(fields) > 2 { //nolint:gomnd
		o.Metadata = fields[2]
	}

	return nil
}

// OutstandingVerifyRequest is a pending verification request waiting at the owner.
type OutstandingVerifyRequest struct {
	PeerMid string `json:"peerMid"`
	Name    string `json:"name"`
}

// MarshalJSON renders the request as the [peer mid, name] tuple.
func (o OutstandingVerifyRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{o.PeerMid, o.Name})
}

// UnmarshalJSON reads the tuple form.
func (o *OutstandingVerifyRequest) UnmarshalJSON(data []byte) error {
	fields, err := decodeStrings(data, 2) //nolint:gomnd
	if err != nil {
		return fmt.Errorf("outstanding verify request: %w", err)
	}

	o.PeerMid, o.Name = fields[0], fields[1]

	return nil
}

// VerificationResult is the match of one candidate value against an attribute hash.
type VerificationResult struct {
	AttributeHash  string  `json:"attributeHash"`
	AttributeValue string  `json:"attributeValue"`
	Match          float64 `json:"match"`
}

// VerificationOutput maps attribute hashes to the [value, match] pairs computed for them.
type VerificationOutput map[string][]ValueMatch

// ValueMatch is one [value, match] pair of a verification output.
type ValueMatch struct {
	Value string
	Match float64
}

// MarshalJSON renders the pair as a two element array.
func (v ValueMatch) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{v.Value, v.Match})
}

// UnmarshalJSON reads the two element array.
func (v *ValueMatch) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if len(raw) != 2 { //nolint:gomnd
		return fmt.Errorf("value match has %d elements, want 2", len(raw))
	}

	if err := json.Unmarshal(raw[0], &v.Value); err != nil {
		return fmt.Errorf("value match value: %w", err)
	}

	if err := json.Unmarshal(raw[1], &v.Match); err != nil {
		return fmt.Errorf("value match probability: %w", err)
	}

	return nil
}

// Flatten lists every result of the output, ordered by hash.
func (o VerificationOutput) Flatten() []VerificationResult {
	hashes := make([]string, 0, len(o))
	for hash := range o {
		hashes = append(hashes, hash)
	}

	sort.Strings(hashes)

	var results []VerificationResult

	for _, hash := range hashes {
		for _, vm := range o[hash] {
			results = append(results, VerificationResult{AttributeHash: hash, AttributeValue: vm.Value, Match: vm.Match})
		}
	}

	return results
}

// ParseVerificationOutput decodes a verification_output body. The empty sentinel yields an empty output.
func ParseVerificationOutput(body string) (VerificationOutput, error) {
	if IsEmpty(body) {
		return VerificationOutput{}, nil
	}

	out := VerificationOutput{}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, err
	}

	return out, nil
}

// ParsePeers decodes a peers body.
func ParsePeers(body string) ([]string, error) {
	var peers []string
	if err := json.Unmarshal([]byte(body), &peers); err != nil {
		return nil, err
	}

	return peers, nil
}

// ParseAttributes decodes an attributes body.
func ParseAttributes(body string) ([]Attribute, error) {
	var attributes []Attribute
	if err := json.Unmarshal([]byte(body), &attributes); err != nil {
		return nil, err
	}

	return attributes, nil
}

// ParseOutstanding decodes an outstanding body.
func ParseOutstanding(body string) ([]OutstandingRequest, error) {
	var requests []OutstandingRequest
	if err := json.Unmarshal([]byte(body), &requests); err != nil {
		return nil, err
	}

	return requests, nil
}

// ParseOutstandingVerify decodes an outstanding_verify body.
func ParseOutstandingVerify(body string) ([]OutstandingVerifyRequest, error) {
	var requests []OutstandingVerifyRequest
	if err := json.Unmarshal([]byte(body), &requests); err != nil {
		return nil, err
	}

	return requests, nil
}

func decodeStrings(data []byte, minLen int) ([]string, error) {
	var fields []string
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	if len(fields) < minLen {
		return nil, fmt.Errorf("tuple has %d elements, want at least %d", len(fields), minLen)
	}

	return fields, nil
}
