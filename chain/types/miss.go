package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ExcludeCheck names one of the eight exclusion checks, in fixed evaluation
// order, so logs and audit output can cite "check 5" unambiguously.
type ExcludeCheck int

const (
	CheckNone ExcludeCheck = iota
	CheckIncompletePropagation
	CheckInsufficientPropagationTime
	CheckHashOnly
	CheckSameSenderDisplacement
	CheckBlockFull
	CheckUnderpricedBaseFee
	CheckUnderpricedTip
	CheckNonceMismatch
)

func (c ExcludeCheck) String() string {
	switch c {
	case CheckNone:
		return "none"
	case CheckIncompletePropagation:
		return "incomplete_propagation"
	case CheckInsufficientPropagationTime:
		return "insufficient_propagation_time"
	case CheckHashOnly:
		return "hash_only"
	case CheckSameSenderDisplacement:
		return "same_sender_displacement"
	case CheckBlockFull:
		return "block_full"
	case CheckUnderpricedBaseFee:
		return "underpriced_base_fee"
	case CheckUnderpricedTip:
		return "underpriced_tip"
	case CheckNonceMismatch:
		return "nonce_mismatch"
	default:
		return "unknown"
	}
}

// Miss is keyed by (BlockHash, TxHash) and carries a snapshot of the
// evidence used to decide it.
type Miss struct {
	BlockHash common.Hash
	TxHash    common.Hash

	Slot          uint64
	BlockNumber   uint64
	ProposerIndex uint64
	ProposalTime  time.Time

	TxFirstSeen     time.Time
	TxQuorumReached time.Time

	Sender common.Address
	Tip    *big.Int
}

// Verdict is the outcome of running the eight-check procedure against one
// candidate transaction for one head: either a Miss, or the first check
// that excused the omission (for auditability).
type Verdict struct {
	TxHash       common.Hash
	ExcusedBy    ExcludeCheck
	Miss         *Miss // non-nil only when ExcusedBy == CheckNone
}
