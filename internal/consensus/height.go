// Package consensus holds the single piece of process-wide mutable state
// named by §5/§9: the current chain height, written only by the RPC
// fan-out poll loop (C12) and read by everything else. Readers observe a
// monotonically non-decreasing value; a sequence counter lets tests assert
// that monotonicity directly.
package consensus

import "sync/atomic"

// Height tracks the indexer's view of the current block height.
type Height struct {
	value atomic.Int64
	seq   atomic.Uint64
}

// NewHeight returns a Height initialized to 0.
func NewHeight() *Height {
	return &Height{}
}

// Set records a newly observed chain height. It is a no-op (besides
// incrementing the sequence counter, so tests can observe that a write was
// attempted) if height is not greater than the current value, preserving
// monotonic non-decrease for readers.
func (h *Height) Set(height int64) {
	h.seq.Add(1)
	for {
		cur := h.value.Load()
		if height <= cur {
			return
		}
		if h.value.CompareAndSwap(cur, height) {
			return
		}
	}
}

// CurrentBlock returns the last height observed by the poll loop.
func (h *Height) CurrentBlock() int64 {
	return h.value.Load()
}

// ConsensusHeight returns the OP_NET consensus height: the advertised
// current block height + 1, used to gate protocol versioning (GLOSSARY).
func (h *Height) ConsensusHeight() int64 {
	return h.value.Load() + 1
}

// Sequence returns the number of Set calls observed so far, for tests that
// want to assert a write was attempted without racing on the value itself.
func (h *Height) Sequence() uint64 {
	return h.seq.Load()
}
