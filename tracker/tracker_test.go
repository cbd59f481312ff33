package tracker

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	chaintypes "github.com/ethmiss/missmonitor/chain/types"
	"github.com/ethmiss/missmonitor/detector"
	"github.com/ethmiss/missmonitor/observation"
)

type fakeMainNode struct {
	synced bool
	pool   []*chaintypes.Transaction
	blocks map[common.Hash]*chaintypes.Head
}

func (f *fakeMainNode) ID() chaintypes.NodeID { return chaintypes.NodeID("main") }

func (f *fakeMainNode) IsSynced(ctx context.Context) (bool, error) { return f.synced, nil }
func (f *fakeMainNode) FetchPool(ctx context.Context) ([]*chaintypes.Transaction, error) {
	return f.pool, nil
}
func (f *fakeMainNode) FetchBlock(ctx context.Context, hash common.Hash) (*chaintypes.Head, error) {
	return f.blocks[hash], nil
}
func (f *fakeMainNode) FetchNonce(ctx context.Context, addr common.Address, blockHash common.Hash) (uint64, error) {
	return 0, nil
}

type fakeHeadSource struct {
	ch chan *chaintypes.Head
}

func (f *fakeHeadSource) SubscribeHeads(ctx context.Context) (<-chan *chaintypes.Head, error) {
	return f.ch, nil
}

type fakeSink struct {
	enqueued [][]chaintypes.Verdict
}

func (f *fakeSink) Enqueue(ctx context.Context, head *chaintypes.Head, verdicts []chaintypes.Verdict, numPoolTransactions int) error {
	f.enqueued = append(f.enqueued, verdicts)
	return nil
}

func newTestTracker(main *fakeMainNode, heads *fakeHeadSource, sink *fakeSink) *Tracker {
	store := observation.New()
	det := &detector.Detector{PropagationTimeThreshold: 0}
	tr := New(main, heads, store, det, sink)
	tr.syncPollInterval = time.Millisecond
	return tr
}

func TestTracker_InitialisesThenTracks(t *testing.T) {
	main := &fakeMainNode{synced: true, blocks: map[common.Hash]*chaintypes.Head{
		{}: {GasLimit: 1000, BaseFeePerGas: big.NewInt(1), IncludedSenders: map[common.Hash]common.Address{}, IncludedFees: map[common.Hash]chaintypes.FeeCaps{}},
	}}
	heads := &fakeHeadSource{ch: make(chan *chaintypes.Head, 4)}
	sink := &fakeSink{}
	tr := newTestTracker(main, heads, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	headA := &chaintypes.Head{Root: common.HexToHash("0xa"), GasLimit: 1000, BaseFeePerGas: big.NewInt(1)}
	heads.ch <- headA

	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateTracking, tr.State())
	cancel()
	<-done
}

func TestTracker_ReorgTriggersResetting(t *testing.T) {
	main := &fakeMainNode{synced: true, blocks: map[common.Hash]*chaintypes.Head{
		{}: {GasLimit: 1000, BaseFeePerGas: big.NewInt(1), IncludedSenders: map[common.Hash]common.Address{}, IncludedFees: map[common.Hash]chaintypes.FeeCaps{}},
	}}
	heads := &fakeHeadSource{ch: make(chan *chaintypes.Head, 4)}
	sink := &fakeSink{}
	tr := newTestTracker(main, heads, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	headA := &chaintypes.Head{Root: common.HexToHash("0xa"), GasLimit: 1000, BaseFeePerGas: big.NewInt(1)}
	heads.ch <- headA

	go tr.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateTracking, tr.State())

	// headB's parent does not match headA's root: reorg.
	headB := &chaintypes.Head{Root: common.HexToHash("0xb"), ParentRoot: common.HexToHash("0xdead"), GasLimit: 1000, BaseFeePerGas: big.NewInt(1)}
	heads.ch <- headB
	time.Sleep(20 * time.Millisecond)

	require.Contains(t, []State{StateResetting, StateUnsynced, StateInitialising}, tr.State())
}
