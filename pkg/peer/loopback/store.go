/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package loopback

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/discipl/ipv8-attestation/pkg/restapi/trustchain"
)

const (
	stateStoreName = "attestation"

	attributeKeyPrefix = "attribute_"
	blockKeyPrefix     = "block_"

	ownerTag         = "owner"
	attestorTag      = "attestor"
	publicKeyTag     = "public_key"
	linkPublicKeyTag = "link_public_key"
)

// attributeRecord is an attestation a peer took part in, as owner or as attestor.
type attributeRecord struct {
	Name     string                 `json:"name"`
	Hash     string                 `json:"hash"`
	Metadata map[string]interface{} `json:"metadata"`
	Owner    string                 `json:"owner"`
	Attestor string                 `json:"attestor"`
	Seq      uint64                 `json:"seq"`
}

// stateStore keeps the attributes and blocks of one peer.
type stateStore struct {
	provider storage.Provider
	store    storage.Store
}

func openStateStore(provider storage.Provider) (*stateStore, error) {
	store, err := provider.OpenStore(stateStoreName)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	err = provider.SetStoreConfig(stateStoreName, storage.StoreConfiguration{
		TagNames: []string{ownerTag, attestorTag, publicKeyTag, linkPublicKeyTag},
	})
	if err != nil {
		return nil, fmt.Errorf("configure state store: %w", err)
	}

	return &stateStore{provider: provider, store: store}, nil
}

func (s *stateStore) putAttribute(rec *attributeRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal attribute: %w", err)
	}

	return s.store.Put(attributeKeyPrefix+rec.Owner+"_"+rec.Name, raw,
		storage.Tag{Name: ownerTag, Value: rec.Owner},
		storage.Tag{Name: attestorTag, Value: rec.Attestor})
}

// findAttribute returns the attribute of owner with the given hash.
func (s *stateStore) findAttribute(owner, hash string) (*attributeRecord, error) {
	records, err := s.attributesOf(owner, false)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if rec.Hash == hash {
			return rec, nil
		}
	}

	return nil, fmt.Errorf("attribute %s of %s: %w", hash, owner, storage.ErrDataNotFound)
}

// attributesOf returns the attributes owned by mid, or when involved is set, those attested by mid too.
func (s *stateStore) attributesOf(mid string, involved bool) ([]*attributeRecord, error) {
	tags := []string{ownerTag}
	if involved {
		tags = append(tags, attestorTag)
	}

	seen := map[string]bool{}

	var records []*attributeRecord

	for _, tag := range tags {
		values, err := s.query(tag + ":" + mid)
		if err != nil {
			return nil, err
		}

		for key, raw := range values {
			if seen[key] {
				continue
			}

			seen[key] = true

			rec := &attributeRecord{}
			if err := json.Unmarshal(raw, rec); err != nil {
				return nil, fmt.Errorf("unmarshal attribute %s: %w", key, err)
			}

			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	return records, nil
}

func (s *stateStore) putBlock(b *trustchain.Block) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}

	return s.store.Put(blockKeyPrefix+b.Hash, raw,
		storage.Tag{Name: publicKeyTag, Value: b.PublicKey},
		storage.Tag{Name: linkPublicKeyTag, Value: b.LinkPublicKey})
}

func (s *stateStore) block(hash string) (*trustchain.Block, error) {
	raw, err := s.store.Get(blockKeyPrefix + hash)
	if err != nil {
		return nil, err
	}

	b := &trustchain.Block{}
	if err := json.Unmarshal(raw, b); err != nil {
		return nil, fmt.Errorf("unmarshal block: %w", err)
	}

	return b, nil
}

// blocksOf returns the blocks created by publicKey or linked to it, oldest first.
func (s *stateStore) blocksOf(publicKey string) ([]*trustchain.Block, error) {
	blocks := make([]*trustchain.Block, 0)
	seen := map[string]bool{}

	for _, tag := range []string{publicKeyTag, linkPublicKeyTag} {
		values, err := s.query(tag + ":" + publicKey)
		if err != nil {
			return nil, err
		}

		for key, raw := range values {
			if seen[key] {
				continue
			}

			seen[key] = true

			b := &trustchain.Block{}
			if err := json.Unmarshal(raw, b); err != nil {
				return nil, fmt.Errorf("unmarshal block %s: %w", key, err)
			}

			blocks = append(blocks, b)
		}
	}

	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Timestamp != blocks[j].Timestamp {
			return blocks[i].Timestamp < blocks[j].Timestamp
		}

		return blocks[i].SequenceNumber < blocks[j].SequenceNumber
	})

	return blocks, nil
}

func (s *stateStore) query(expression string) (map[string][]byte, error) {
	iter, err := s.store.Query(expression)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", expression, err)
	}

	defer storage.Close(iter, logger)

	values := map[string][]byte{}

	more, err := iter.Next()
	if err != nil {
		return nil, err
	}

	for more {
		key, err := iter.Key()
		if err != nil {
			return nil, err
		}

		value, err := iter.Value()
		if err != nil {
			return nil, err
		}

		values[key] = value

		more, err = iter.Next()
		if err != nil {
			return nil, err
		}
	}

	return values, nil
}

func (s *stateStore) close() error {
	return s.provider.Close()
}
