/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package identity handles overlay peer identities: member IDs (mids), the DIDs derived from
// public keys, and the base64 encodings used on the control protocol.
package identity

import (
	"crypto/sha1" //nolint:gosec
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
)

// DIDPrefix is prepended to the base64 public key of a peer to form its DID.
const DIDPrefix = "did:discipl:ipv8:"

// KeyEncoding names how a public key is represented when handed to PublicKeyToMid.
type KeyEncoding string

const (
	// Base64Key is a standard base64 encoded key.
	Base64Key KeyEncoding = "base64"
	// HexKey is a hex encoded key.
	HexKey KeyEncoding = "hex"
	// RawKey is the key bytes themselves.
	RawKey KeyEncoding = "bytes"
)

// Mid is the member identifier of an overlay peer.
type Mid []byte

// ParseMid decodes a base64 mid as returned by the control endpoint.
func ParseMid(b64 string) (Mid, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode mid %q: %w", b64, err)
	}

	return raw, nil
}

// MidFromPublicKey computes the mid of a raw public key.
func MidFromPublicKey(key []byte) Mid {
	sum := sha1.Sum(key) //nolint:gosec

	return sum[:]
}

// String returns the base64 rendering of the mid.
func (m Mid) String() string {
	return base64.StdEncoding.EncodeToString(m)
}

// Transport returns the mid in the form it travels in query strings.
func (m Mid) Transport() string {
	return url.QueryEscape(m.String())
}

// Empty reports whether the mid is unknown.
func (m Mid) Empty() bool {
	return len(m) == 0
}

// PublicKeyToMid returns the base64 mid of an encoded public key.
func PublicKeyToMid(publicKey string, encoding KeyEncoding) (string, error) {
	raw, err := decodeKey(publicKey, encoding)
	if err != nil {
		return "", err
	}

	return MidFromPublicKey(raw).String(), nil
}

// PublicKeyToDID returns the DID of an encoded public key. The DID always embeds the base64 form of the key.
func PublicKeyToDID(publicKey string, encoding KeyEncoding) (string, error) {
	if encoding == Base64Key || encoding == "" {
		return DIDPrefix + publicKey, nil
	}

	raw, err := decodeKey(publicKey, encoding)
	if err != nil {
		return "", err
	}

	return DIDPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// DIDToPublicKey strips the DID prefix, returning false when did is not an overlay DID.
func DIDToPublicKey(did string) (string, bool) {
	if len(did) <= len(DIDPrefix) || did[:len(DIDPrefix)] != DIDPrefix {
		return "", false
	}

	return did[len(DIDPrefix):], true
}

// ToBase64 encodes text as base64 of its UTF-8 bytes.
func ToBase64(text string) string {
	return base64.StdEncoding.EncodeToString([]byte(text))
}

// FromBase64 decodes base64 into UTF-8 text.
func FromBase64(b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}

	return string(raw), nil
}

// TransportValue base64 encodes value and escapes it for a query string.
func TransportValue(value []byte) string {
	return url.QueryEscape(base64.StdEncoding.EncodeToString(value))
}

func decodeKey(publicKey string, encoding KeyEncoding) ([]byte, error) {
	switch encoding {
	case Base64Key, "":
		raw, err := base64.StdEncoding.DecodeString(publicKey)
		if err != nil {
			return nil, fmt.Errorf("decode base64 public key: %w", err)
		}

		return raw, nil
	case HexKey:
		raw, err := hex.DecodeString(publicKey)
		if err != nil {
			return nil, fmt.Errorf("decode hex public key: %w", err)
		}

		return raw, nil
	case RawKey:
		return []byte(publicKey), nil
	default:
		return nil, fmt.Errorf("unsupported public key encoding %q", encoding)
	}
}
