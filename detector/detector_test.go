package detector

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	chaintypes "github.com/ethmiss/missmonitor/chain/types"
)

func testHead() *chaintypes.Head {
	proposal := time.Date(2026, 1, 1, 0, 0, 12, 0, time.UTC)
	return &chaintypes.Head{
		ExecutionBlockHash:   common.HexToHash("0xb1"),
		ExecutionBlockNumber: 100,
		Slot:                 1,
		ProposalTime:         proposal,
		BaseFeePerGas:        big.NewInt(10),
		GasUsed:              15_000_000,
		GasLimit:             30_000_000,
		Included:             []common.Hash{},
		IncludedSenders:      map[common.Hash]common.Address{},
		IncludedFees:         map[common.Hash]chaintypes.FeeCaps{},
	}
}

func baseTx(hash common.Hash, quorum time.Time) chaintypes.Transaction {
	return chaintypes.Transaction{
		Hash:                 hash,
		Sender:               common.HexToAddress("0xaa"),
		Nonce:                5,
		GasLimit:             21_000,
		MaxFeePerGas:         big.NewInt(100),
		MaxPriorityFeePerGas: big.NewInt(5),
		FirstSeen:            quorum.Add(-20 * time.Second),
		QuorumReached:        quorum,
		Visibility:           map[chaintypes.NodeID]time.Time{"node-a": quorum, "node-b": quorum},
		FullyKnown:           true,
	}
}

func TestDetect_PropagationGateExcuses(t *testing.T) {
	head := testHead()
	// quorum reached 3 seconds before proposal: under an 8s threshold.
	tx := baseTx(common.HexToHash("0x1"), head.ProposalTime.Add(-3*time.Second))

	d := &Detector{
		AllNodes:                 []chaintypes.NodeID{"node-a", "node-b"},
		PropagationTimeThreshold: 8 * time.Second,
	}
	verdicts := d.Detect(context.Background(), head, []chaintypes.Transaction{tx})
	require.Len(t, verdicts, 1)
	require.Equal(t, chaintypes.CheckInsufficientPropagationTime, verdicts[0].ExcusedBy)
	require.Nil(t, verdicts[0].Miss)
}

func TestDetect_IncompletePropagationExcuses(t *testing.T) {
	head := testHead()
	tx := baseTx(common.HexToHash("0x1"), head.ProposalTime.Add(-20*time.Second))

	d := &Detector{
		AllNodes:                 []chaintypes.NodeID{"node-a", "node-b", "node-c"},
		PropagationTimeThreshold: 8 * time.Second,
	}
	verdicts := d.Detect(context.Background(), head, []chaintypes.Transaction{tx})
	require.Equal(t, chaintypes.CheckIncompletePropagation, verdicts[0].ExcusedBy)
}

func TestDetect_SameSenderDisplacementExcuses(t *testing.T) {
	head := testHead()
	sender := common.HexToAddress("0xaa")
	includedHash := common.HexToHash("0xdead")
	head.Included = []common.Hash{includedHash}
	head.IncludedSenders[includedHash] = sender
	head.IncludedFees[includedHash] = chaintypes.FeeCaps{MaxFeePerGas: big.NewInt(100), MaxPriorityFeePerGas: big.NewInt(5)}

	tx := baseTx(common.HexToHash("0x1"), head.ProposalTime.Add(-20*time.Second))
	tx.Sender = sender

	d := &Detector{
		AllNodes:                 []chaintypes.NodeID{"node-a", "node-b"},
		PropagationTimeThreshold: 8 * time.Second,
	}
	verdicts := d.Detect(context.Background(), head, []chaintypes.Transaction{tx})
	require.Equal(t, chaintypes.CheckSameSenderDisplacement, verdicts[0].ExcusedBy)
}

func TestDetect_BlockFullExcuses(t *testing.T) {
	head := testHead()
	head.GasUsed = head.GasLimit - 10_000 // leaves only 10k gas of room

	tx := baseTx(common.HexToHash("0x1"), head.ProposalTime.Add(-20*time.Second))
	tx.GasLimit = 21_000

	d := &Detector{AllNodes: []chaintypes.NodeID{"node-a", "node-b"}, PropagationTimeThreshold: 8 * time.Second}
	verdicts := d.Detect(context.Background(), head, []chaintypes.Transaction{tx})
	require.Equal(t, chaintypes.CheckBlockFull, verdicts[0].ExcusedBy)
}

func TestDetect_UnderpricedTipExcusesAgainstMedian(t *testing.T) {
	head := testHead()
	mkIncluded := func(hash common.Hash, tip int64) {
		head.Included = append(head.Included, hash)
		head.IncludedFees[hash] = chaintypes.FeeCaps{MaxFeePerGas: big.NewInt(10 + tip), MaxPriorityFeePerGas: big.NewInt(tip)}
		head.IncludedSenders[hash] = common.HexToAddress("0xff")
	}
	mkIncluded(common.HexToHash("0x10"), 1)
	mkIncluded(common.HexToHash("0x11"), 5)
	mkIncluded(common.HexToHash("0x12"), 9)

	tx := baseTx(common.HexToHash("0x1"), head.ProposalTime.Add(-20*time.Second))
	tx.MaxPriorityFeePerGas = big.NewInt(2) // below median tip (5)
	tx.MaxFeePerGas = big.NewInt(100)

	d := &Detector{AllNodes: []chaintypes.NodeID{"node-a", "node-b"}, PropagationTimeThreshold: 8 * time.Second}
	verdicts := d.Detect(context.Background(), head, []chaintypes.Transaction{tx})
	require.Equal(t, chaintypes.CheckUnderpricedTip, verdicts[0].ExcusedBy)
}

func TestDetect_NonceMismatchExcuses(t *testing.T) {
	head := testHead()
	tx := baseTx(common.HexToHash("0x1"), head.ProposalTime.Add(-20*time.Second))

	d := &Detector{
		AllNodes:                 []chaintypes.NodeID{"node-a", "node-b"},
		PropagationTimeThreshold: 8 * time.Second,
		FetchNonce: func(ctx context.Context, sender common.Address, blockHash common.Hash) (uint64, error) {
			return tx.Nonce + 1, nil
		},
	}
	verdicts := d.Detect(context.Background(), head, []chaintypes.Transaction{tx})
	require.Equal(t, chaintypes.CheckNonceMismatch, verdicts[0].ExcusedBy)
}

func TestDetect_SurvivingCandidateProducesMiss(t *testing.T) {
	head := testHead()
	tx := baseTx(common.HexToHash("0x1"), head.ProposalTime.Add(-20*time.Second))

	d := &Detector{
		AllNodes:                 []chaintypes.NodeID{"node-a", "node-b"},
		PropagationTimeThreshold: 8 * time.Second,
		FetchNonce: func(ctx context.Context, sender common.Address, blockHash common.Hash) (uint64, error) {
			return tx.Nonce, nil
		},
	}
	verdicts := d.Detect(context.Background(), head, []chaintypes.Transaction{tx})
	require.Equal(t, chaintypes.CheckNone, verdicts[0].ExcusedBy)
	require.NotNil(t, verdicts[0].Miss)
	require.Equal(t, head.ExecutionBlockHash, verdicts[0].Miss.BlockHash)
}

func TestDetect_NonceFetchErrorLeavesCandidateUnexcused(t *testing.T) {
	head := testHead()
	tx := baseTx(common.HexToHash("0x1"), head.ProposalTime.Add(-20*time.Second))

	d := &Detector{
		AllNodes:                 []chaintypes.NodeID{"node-a", "node-b"},
		PropagationTimeThreshold: 8 * time.Second,
		FetchNonce: func(ctx context.Context, sender common.Address, blockHash common.Hash) (uint64, error) {
			return 0, context.DeadlineExceeded
		},
	}
	verdicts := d.Detect(context.Background(), head, []chaintypes.Transaction{tx})
	require.Equal(t, chaintypes.CheckNone, verdicts[0].ExcusedBy)
	require.NotNil(t, verdicts[0].Miss)
}
