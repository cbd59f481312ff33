// Package detector implements the Miss Detector (C4): an eight-check
// decision procedure, applied in fixed order with the first satisfied
// check short-circuiting evaluation. Gas/fee arithmetic mirrors the style
// go-ethereum's miner/worker.go uses when ordering transactions by
// effective tip against a block's base fee.
package detector

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	chaintypes "github.com/ethmiss/missmonitor/chain/types"
)

// NonceFetcher fetches the account nonce as of a given execution block,
// for check 8. A transport failure leaves check 8 "unsatisfied" rather
// than excusing the candidate.
type NonceFetcher func(ctx context.Context, sender common.Address, blockHash common.Hash) (uint64, error)

// Detector runs the eight-check procedure against a snapshot of observed
// state at block-proposal time.
type Detector struct {
	// AllNodes is the full configured node set, used by check 1
	// (incomplete propagation): a tx excused if any configured node has
	// not reported it.
	AllNodes []chaintypes.NodeID

	// PropagationTimeThreshold is the minimum gap between quorum_reached
	// and proposal_time below which check 2 excuses the omission; set from
	// the propagation_time configuration key.
	PropagationTimeThreshold time.Duration

	FetchNonce NonceFetcher

	// Metrics is optional; when nil, verdicts are simply not counted.
	Metrics *Metrics
}

func (d *Detector) recordExcused(check chaintypes.ExcludeCheck) {
	if d.Metrics != nil {
		d.Metrics.Excused.WithLabelValues(check.String()).Inc()
	}
}

func (d *Detector) recordMiss() {
	if d.Metrics != nil {
		d.Metrics.Misses.Inc()
	}
}

// Detect evaluates every candidate transaction against head and returns one
// Verdict per candidate, in the same order as candidates: for every
// excluded candidate, exactly the first satisfied check is recorded.
func (d *Detector) Detect(ctx context.Context, head *chaintypes.Head, candidates []chaintypes.Transaction) []chaintypes.Verdict {
	verdicts := make([]chaintypes.Verdict, 0, len(candidates))

	median := medianTip(medianEffectiveTipInputs(head))

	for _, tx := range candidates {
		verdicts = append(verdicts, d.evaluate(ctx, head, tx, median))
	}
	return verdicts
}

func (d *Detector) evaluate(ctx context.Context, head *chaintypes.Head, tx chaintypes.Transaction, median *big.Int) chaintypes.Verdict {
	// Check 1: incomplete propagation.
	for _, node := range d.AllNodes {
		if _, ok := tx.Visibility[node]; !ok {
			return d.excuse(tx.Hash, chaintypes.CheckIncompletePropagation)
		}
	}

	// Check 2: insufficient propagation time (strict <, a gap exactly
	// equal to the threshold does not excuse).
	if head.ProposalTime.Sub(tx.QuorumReached) < d.PropagationTimeThreshold {
		return d.excuse(tx.Hash, chaintypes.CheckInsufficientPropagationTime)
	}

	// Check 3: hash-only.
	if !tx.FullyKnown {
		return d.excuse(tx.Hash, chaintypes.CheckHashOnly)
	}

	// Check 4: same-sender displacement.
	if head.IncludesSender(tx.Sender, func(hash common.Hash) (common.Address, bool) {
		sender, ok := head.IncludedSenders[hash]
		return sender, ok
	}) {
		return d.excuse(tx.Hash, chaintypes.CheckSameSenderDisplacement)
	}

	// Check 5: block full.
	if head.GasUsed+tx.GasLimit > head.GasLimit {
		return d.excuse(tx.Hash, chaintypes.CheckBlockFull)
	}

	// Check 6: underpriced base fee.
	if tx.MaxFeePerGas.Cmp(head.BaseFeePerGas) < 0 {
		return d.excuse(tx.Hash, chaintypes.CheckUnderpricedBaseFee)
	}

	// Check 7: underpriced tip. Vacuously unsatisfied when H.included is
	// empty.
	txTip := tx.EffectiveTip(head.BaseFeePerGas)
	if median != nil && txTip.Cmp(median) < 0 {
		return d.excuse(tx.Hash, chaintypes.CheckUnderpricedTip)
	}

	// Check 8: nonce mismatch. A fetch error leaves check 8 unsatisfied
	// rather than excusing the candidate.
	if d.FetchNonce != nil {
		if nonce, err := d.FetchNonce(ctx, tx.Sender, head.ExecutionBlockHash); err == nil && nonce != tx.Nonce {
			return d.excuse(tx.Hash, chaintypes.CheckNonceMismatch)
		}
	}

	d.recordMiss()
	return chaintypes.Verdict{
		TxHash:    tx.Hash,
		ExcusedBy: chaintypes.CheckNone,
		Miss: &chaintypes.Miss{
			BlockHash:       head.ExecutionBlockHash,
			TxHash:          tx.Hash,
			Slot:            head.Slot,
			BlockNumber:     head.ExecutionBlockNumber,
			ProposerIndex:   head.ProposerIndex,
			ProposalTime:    head.ProposalTime,
			TxFirstSeen:     tx.FirstSeen,
			TxQuorumReached: tx.QuorumReached,
			Sender:          tx.Sender,
			Tip:             txTip,
		},
	}
}

func (d *Detector) excuse(hash common.Hash, check chaintypes.ExcludeCheck) chaintypes.Verdict {
	d.recordExcused(check)
	return chaintypes.Verdict{TxHash: hash, ExcusedBy: check}
}

// medianEffectiveTipInputs computes the effective tip of every included
// transaction for which fee data is known, for check 7's median.
func medianEffectiveTipInputs(head *chaintypes.Head) []*big.Int {
	tips := make([]*big.Int, 0, len(head.Included))
	for _, hash := range head.Included {
		fees, ok := head.IncludedFees[hash]
		if !ok {
			continue
		}
		tips = append(tips, fees.EffectiveTip(head.BaseFeePerGas))
	}
	return tips
}

// medianTip returns nil when H.included carries no usable fee data, so
// check 7 stays vacuously unsatisfied rather than comparing against zero.
func medianTip(tips []*big.Int) *big.Int {
	if len(tips) == 0 {
		return nil
	}
	sorted := make([]*big.Int, len(tips))
	copy(sorted, tips)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })

	// Lower of the two middle values for even cardinality.
	idx := (len(sorted) - 1) / 2
	return sorted[idx]
}
