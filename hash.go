package refstore

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/minio/highwayhash"
)

// HashAlgorithm selects the content hash of the value store. The hash is
// persisted as part of every ValueStoreKey, so it must not change for an
// existing store.
type HashAlgorithm string

const (
	XXHash      HashAlgorithm = "xxhash"
	HighwayHash HashAlgorithm = "highwayhash"

	// BasicHash is a weak polynomial hash with easy collisions ("Aa" and
	// "BB" hash equally). Only useful for exercising collision handling.
	BasicHash HashAlgorithm = "basic"
)

// ErrHashAlgorithmMismatch is returned when a store is opened with a hash
// algorithm other than the one its values were stored with.
var ErrHashAlgorithmMismatch = errors.New("hash algorithm does not match the store")

var storeInfoHashAlgorithm = []byte("hash_algorithm")

// checkHashAlgorithm records alg in a new store and verifies it against the
// recorded one otherwise.
func checkHashAlgorithm(tx *Tx, alg HashAlgorithm) error {
	stored := tx.bucket(tableStoreInfo).Get(storeInfoHashAlgorithm)
	if stored == nil {
		return tx.put(tableStoreInfo, storeInfoHashAlgorithm, []byte(alg))
	}
	if HashAlgorithm(stored) != alg {
		return fmt.Errorf("%w: store uses %s, opened with %s", ErrHashAlgorithmMismatch, stored, alg)
	}
	return nil
}

// Hasher computes the 64-bit content hash of serialized value bytes.
type Hasher interface {
	Hash(data []byte) uint64
	Algorithm() HashAlgorithm
}

func NewHasher(alg HashAlgorithm) (Hasher, error) {
	switch alg {
	case "", XXHash:
		return xxHasher{}, nil
	case HighwayHash:
		return highwayHasher{}, nil
	case BasicHash:
		return basicHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", alg)
	}
}

type xxHasher struct{}

func (xxHasher) Hash(data []byte) uint64 {
	return xxhash.Sum64(data)
}

func (xxHasher) Algorithm() HashAlgorithm {
	return XXHash
}

var highwayHashKey = []byte("refstore.value.hash.key.00000001")

type highwayHasher struct{}

func (highwayHasher) Hash(data []byte) uint64 {
	return highwayhash.Sum64(data, highwayHashKey)
}

func (highwayHasher) Algorithm() HashAlgorithm {
	return HighwayHash
}

type basicHasher struct{}

func (basicHasher) Hash(data []byte) uint64 {
	var h uint64
	for _, b := range data {
		h = 31*h + uint64(b)
	}
	return h
}

func (basicHasher) Algorithm() HashAlgorithm {
	return BasicHash
}
