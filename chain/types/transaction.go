// Package types holds the value types the correlator passes between the
// observation store, the chain tracker, the miss detector and the
// persistence writer. They follow the shape of go-ethereum's core/types
// package (MiveTx, MiveHeader) but hold this system's observation fields
// instead of EVM execution fields.
package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NodeID identifies a configured node client. Node IDs are the node's
// configured URL rather than a generated identifier, which keeps them
// stable across restarts and reproducible across process boundaries.
type NodeID string

// Transaction is a pool-resident transaction as fused from all observed
// sources. Once FullyKnown is true, the body fields (Sender through Size)
// are populated and the record may be used by the miss detector.
type Transaction struct {
	Hash   common.Hash
	Sender common.Address
	Nonce  uint64

	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Size                 int

	FirstSeen     time.Time
	QuorumReached time.Time

	// Visibility is the set of nodes that have reported this hash, keyed by
	// NodeID. The zero value of the map entry carries no meaning; presence
	// of the key is the signal.
	Visibility map[NodeID]time.Time

	// FullyKnown is false while only the hash (and observation timestamps)
	// are known. It flips to true exactly once, when a pool snapshot or an
	// explicit fetch_transaction call supplies the full body.
	FullyKnown bool

	// disappearedSince counts the number of consecutive pool snapshots,
	// following this transaction's last observation, in which it was
	// absent. It is reset to 0 on every (re-)observation. It is not
	// exported: callers use the store's accessors, never this struct
	// directly, to preserve the disappearance/re-appearance invariant.
	disappearedSince int
}

// DisappearedSince reports how many consecutive snapshots this transaction
// has been missing from since it was last seen.
func (t *Transaction) DisappearedSince() int { return t.disappearedSince }

// MarkObserved resets the disappearance counter; called on every fresh
// sighting, including re-appearance after disappearing.
func (t *Transaction) MarkObserved() { t.disappearedSince = 0 }

// MarkAbsentFromSnapshot increments the disappearance counter by one.
func (t *Transaction) MarkAbsentFromSnapshot() { t.disappearedSince++ }

// EffectiveTip computes min(MaxPriorityFeePerGas, MaxFeePerGas - baseFee),
// clamped to zero.
func (t *Transaction) EffectiveTip(baseFee *big.Int) *big.Int {
	headroom := new(big.Int).Sub(t.MaxFeePerGas, baseFee)
	tip := t.MaxPriorityFeePerGas
	if headroom.Cmp(tip) < 0 {
		tip = headroom
	}
	if tip.Sign() < 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Set(tip)
}
