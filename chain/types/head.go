package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Head is a consensus (beacon) block, keyed by its beacon block root. It
// carries both consensus-layer fields (slot, proposer) and the execution
// payload fields the miss detector needs (gas, base fee, included hashes).
type Head struct {
	Root common.Hash

	Slot           uint64
	ProposerIndex  uint64
	ProposalTime   time.Time
	ObservedAt     time.Time
	ParentRoot     common.Hash

	ExecutionBlockHash   common.Hash
	ExecutionBlockNumber uint64

	Included      []common.Hash
	BaseFeePerGas *big.Int
	GasUsed       uint64
	GasLimit      uint64

	// IncludedSenders and IncludedFees carry the per-included-transaction
	// detail the miss detector needs for checks 4 and 7 (same-sender
	// displacement, underpriced tip), keyed by transaction hash.
	IncludedSenders map[common.Hash]common.Address
	IncludedFees    map[common.Hash]FeeCaps
}

// FeeCaps holds the two EIP-1559 fee fields needed to compute an effective
// tip for an included transaction.
type FeeCaps struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// EffectiveTip computes min(MaxPriorityFeePerGas, MaxFeePerGas - baseFee)
// clamped to zero, for an included transaction's fee caps against a head's
// base fee.
func (f FeeCaps) EffectiveTip(baseFee *big.Int) *big.Int {
	headroom := new(big.Int).Sub(f.MaxFeePerGas, baseFee)
	tip := f.MaxPriorityFeePerGas
	if headroom.Cmp(tip) < 0 {
		tip = headroom
	}
	if tip.Sign() < 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Set(tip)
}

// ProposalTimeForSlot derives the UTC proposal time for a slot:
// genesis_time + slot * slot_seconds.
func ProposalTimeForSlot(genesisTime time.Time, slot uint64, slotSeconds uint64) time.Time {
	return genesisTime.Add(time.Duration(slot*slotSeconds) * time.Second).UTC()
}

// IncludesSender reports whether any transaction hash in the head's
// included set belongs to the given sender, given a lookup of hash to
// sender (the detector passes h.IncludedSenders itself; the indirection
// lets a caller substitute a different source of sender detail).
func (h *Head) IncludesSender(sender common.Address, senderOf func(common.Hash) (common.Address, bool)) bool {
	for _, hash := range h.Included {
		if s, ok := senderOf(hash); ok && s == sender {
			return true
		}
	}
	return false
}
