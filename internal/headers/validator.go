// Package headers implements the block header validator (C6): checksum
// verification and cached height lookups, both side-effect free for the
// caller (§4.6).
package headers

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
)

// PartialHeader is the subset of a block header the validator checks: the
// previous checksum plus enough fields to recompute the expected one.
type PartialHeader struct {
	Height           uint64
	PreviousChecksum [32]byte
	MerkleRoot       [32]byte
	Timestamp        int64
	Nonce            uint64
}

// Header is a fully stored block header, as returned by getBlockHeader.
type Header struct {
	Height    uint64
	Checksum  [32]byte
	MerkleRoot [32]byte
	Timestamp int64
}

// Store is the storage collaborator the validator reads confirmed headers
// from. A nil return with a nil error means not-found (§4.6 "Errors
// surface as null").
type Store interface {
	HeaderAt(height uint64) (*Header, error)
}

// Validator answers validateBlockChecksum and getBlockHeader queries,
// caching recently seen headers in an LRU to keep both queries cheap under
// repeated polling from the RPC fan-out thread.
type Validator struct {
	store Store
	cache *lru.Cache[uint64, *Header]
}

// NewValidator creates a Validator backed by store with an LRU of the given
// size (a size of 0 or less is treated as 1).
func NewValidator(store Store, cacheSize int) (*Validator, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[uint64, *Header](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Validator{store: store, cache: cache}, nil
}

// computeChecksum hashes the header fields that determine its canonical
// checksum, excluding the checksum itself (mirrors the plugin file codec's
// "SHA-256 over everything above except checksum" convention, §4.7).
func computeChecksum(h PartialHeader) [32]byte {
	buf := make([]byte, 0, 32+32+8+8)
	buf = append(buf, h.PreviousChecksum[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = appendUint64(buf, uint64(h.Timestamp))
	buf = appendUint64(buf, h.Nonce)
	return sha256.Sum256(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// ValidateBlockChecksum reports whether partial matches the stored header
// at its height. It returns (false, nil) if the header is unknown, and
// never mutates state (§4.6 invariant).
func (v *Validator) ValidateBlockChecksum(partial PartialHeader) (bool, error) {
	stored, err := v.GetBlockHeader(partial.Height)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, nil
	}
	expected := computeChecksum(partial)
	return expected == stored.Checksum, nil
}

// GetBlockHeader returns the header at height, or nil if unknown. Results
// are cached; cache population never affects correctness, only avoids a
// repeat round trip to the storage collaborator.
func (v *Validator) GetBlockHeader(height uint64) (*Header, error) {
	if h, ok := v.cache.Get(height); ok {
		return h, nil
	}
	h, err := v.store.HeaderAt(height)
	if err != nil {
		return nil, err
	}
	if h != nil {
		v.cache.Add(height, h)
	}
	return h, nil
}
