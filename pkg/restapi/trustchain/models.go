/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package trustchain describes the trustchain API of an overlay peer, which exposes the blocks recording
// attestations.
package trustchain

import "strings"

// API paths, relative to the peer API root.
const (
	Path           = "/trustchain"
	UserBlocksPath = Path + "/users/{public_key}/blocks"
	BlockPath      = Path + "/blocks/{hash}"

	PublicKeyVar = "public_key"
	BlockHashVar = "hash"
)

// Block is a trustchain block recording an attestation.
type Block struct {
	Transaction        Transaction `json:"transaction"`
	Type               string      `json:"type"`
	PublicKey          string      `json:"public_key"`
	SequenceNumber     uint64      `json:"sequence_number"`
	LinkPublicKey      string      `json:"link_public_key"`
	LinkSequenceNumber uint64      `json:"link_sequence_number"`
	PreviousHash       string      `json:"previous_hash"`
	Timestamp          int64       `json:"timestamp"`
	InsertTime         string      `json:"insert_time"`
	Hash               string      `json:"hash"`
	Linked             *Block      `json:"linked,omitempty"`
}

// Transaction is the attestation payload of a block.
type Transaction struct {
	Hash     string                 `json:"hash"`
	Name     string                 `json:"name"`
	Metadata map[string]interface{} `json:"metadata"`
}

// BlocksResponse is the body of the user blocks endpoint.
type BlocksResponse struct {
	Blocks []*Block `json:"blocks"`
}

// BlockResponse is the body of the block endpoint.
type BlockResponse struct {
	Block *Block `json:"block"`
}

// UserBlocksURL returns the URL listing the blocks of a hex encoded public key.
func UserBlocksURL(root, publicKey string) string {
	return strings.TrimSuffix(root, "/") + Path + "/users/" + publicKey + "/blocks"
}

// BlockURL returns the URL of the block with the given hash.
func BlockURL(root, hash string) string {
	return strings.TrimSuffix(root, "/") + Path + "/blocks/" + hash
}
