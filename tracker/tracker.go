// Package tracker implements the Chain Tracker (C3): the state machine
// that follows the main node's head stream, drives pool snapshots, detects
// reorgs, and triggers the miss detector one head in arrears. Grounded on
// go-ethereum's core/headerchain.go Reorg/WriteHeaders pair: both compare
// an incoming parent hash against the last known canonical head and react
// to divergence, though here a divergence resets observation state instead
// of rewriting a header database.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	chaintypes "github.com/ethmiss/missmonitor/chain/types"
	"github.com/ethmiss/missmonitor/detector"
	"github.com/ethmiss/missmonitor/observation"
)

// State is one of the four states of the chain tracker's state machine.
type State int

const (
	StateUnsynced State = iota
	StateInitialising
	StateTracking
	StateResetting
)

func (s State) String() string {
	switch s {
	case StateUnsynced:
		return "UNSYNCED"
	case StateInitialising:
		return "INITIALISING"
	case StateTracking:
		return "TRACKING"
	case StateResetting:
		return "RESETTING"
	default:
		return "UNKNOWN"
	}
}

// MainNode is the subset of nodeclient.MainNodeClient the tracker drives
// directly: pool snapshots, block bodies and sync status.
type MainNode interface {
	// ID identifies the main node for visibility-set bookkeeping, matching
	// nodeclient.ExecutionClient.ID.
	ID() chaintypes.NodeID
	IsSynced(ctx context.Context) (bool, error)
	FetchPool(ctx context.Context) ([]*chaintypes.Transaction, error)
	FetchBlock(ctx context.Context, hash common.Hash) (*chaintypes.Head, error)
	FetchNonce(ctx context.Context, address common.Address, blockHash common.Hash) (uint64, error)
}

// HeadSource streams consensus-layer heads, implemented by
// nodeclient.ConsensusClient.
type HeadSource interface {
	SubscribeHeads(ctx context.Context) (<-chan *chaintypes.Head, error)
}

// Sink receives the detector's output for persistence, implemented by the
// storage writer. numPoolTransactions is the size of the pool snapshot
// detection ran against, for the beacon_block row's pool-size column.
type Sink interface {
	Enqueue(ctx context.Context, head *chaintypes.Head, verdicts []chaintypes.Verdict, numPoolTransactions int) error
}

// Tracker runs the chain tracker's state machine.
type Tracker struct {
	mainNode MainNode
	heads    HeadSource
	store    *observation.Store
	detector *detector.Detector
	sink     Sink
	log      log.Logger

	syncPollInterval time.Duration

	state    State
	prevHead *chaintypes.Head
	prevSnap *chaintypes.PoolSnapshot

	// Metrics is optional; when nil, resets are simply not counted.
	Metrics *Metrics
}

// New builds a Tracker in the UNSYNCED state.
func New(mainNode MainNode, heads HeadSource, store *observation.Store, det *detector.Detector, sink Sink) *Tracker {
	return &Tracker{
		mainNode:         mainNode,
		heads:            heads,
		store:            store,
		detector:         det,
		sink:             sink,
		log:              log.New("component", "tracker"),
		syncPollInterval: 5 * time.Second,
		state:            StateUnsynced,
	}
}

// State reports the tracker's current state, for metrics and /healthz.
func (t *Tracker) State() State { return t.state }

// Run drives the state machine until ctx is cancelled. It blocks in
// UNSYNCED polling is_synced, then consumes the head stream.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		switch t.state {
		case StateUnsynced, StateResetting:
			if err := t.awaitSynced(ctx); err != nil {
				return err
			}
		case StateInitialising, StateTracking:
			if err := t.consumeHeads(ctx); err != nil {
				return err
			}
		}
	}
}

// awaitSynced polls is_synced until it returns true, then clears the store
// and transitions to INITIALISING. It captures no pool snapshot; the first
// one is captured when the first head arrives (see handleHead). RESETTING
// folds into the same wait: it re-enters INITIALISING once synced again.
func (t *Tracker) awaitSynced(ctx context.Context) error {
	ticker := time.NewTicker(t.syncPollInterval)
	defer ticker.Stop()

	for {
		synced, err := t.mainNode.IsSynced(ctx)
		if err == nil && synced {
			break
		}
		if err != nil {
			t.log.Warn("is_synced check failed, retrying", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}

	t.prevHead = nil
	t.prevSnap = nil
	t.store.Reset()
	t.state = StateInitialising
	t.log.Info("chain tracker synced, entering INITIALISING")
	return nil
}

// consumeHeads handles INITIALISING and TRACKING: it subscribes to the
// head stream once and processes every arriving head until a reorg or
// desync forces a reset.
func (t *Tracker) consumeHeads(ctx context.Context) error {
	headCh, err := t.heads.SubscribeHeads(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case head, ok := <-headCh:
			if !ok {
				t.toResetting("head stream closed")
				return nil
			}
			if t.handleHead(ctx, head) {
				return nil // transitioned to RESETTING
			}
		}
	}
}

// handleHead processes one newly arrived head and returns true if the
// tracker transitioned to RESETTING (the caller must re-subscribe).
func (t *Tracker) handleHead(ctx context.Context, head *chaintypes.Head) bool {
	if synced, err := t.mainNode.IsSynced(ctx); err == nil && !synced {
		t.toResetting("node reports not synced")
		return true
	}

	head = t.mergeExecutionData(ctx, head)
	if head == nil {
		t.toResetting("fetch_block for new head failed")
		return true
	}

	if t.state == StateInitialising {
		// First post-init head: capture the first pool snapshot against
		// this head and begin tracking from it. No detection runs for it
		// until the next head arrives.
		t.prevHead = head
		t.prevSnap = t.captureSnapshot(ctx, head)
		t.state = StateTracking
		t.log.Info("first head observed, entering TRACKING", "slot", head.Slot)
		return false
	}

	if t.prevHead != nil && head.ParentRoot != t.prevHead.Root {
		t.toResetting("reorg: parent root does not match tracked head")
		return true
	}

	newSnap := t.captureSnapshot(ctx, head)
	if newSnap == nil {
		t.toResetting("pool snapshot for new head failed, abandoning detection")
		return true
	}

	// Run detection for the previous head using the previous snapshot,
	// backfilled by every pending-hash observation up to this head's
	// announcement.
	if t.prevHead != nil && t.prevSnap != nil {
		if err := t.runDetection(ctx, t.prevHead, t.prevSnap, head.ObservedAt); err != nil {
			t.toResetting("detection output could not be enqueued")
			return true
		}
	}

	t.prevHead = head
	t.prevSnap = newSnap
	return false
}

// mergeExecutionData fills in the execution-layer fields (included hashes,
// base fee, gas used/limit, per-tx sender/fee detail) that the consensus
// head stream does not carry, per MainNodeClient.FetchBlock's documented
// split of responsibilities.
func (t *Tracker) mergeExecutionData(ctx context.Context, head *chaintypes.Head) *chaintypes.Head {
	exec, err := t.mainNode.FetchBlock(ctx, head.ExecutionBlockHash)
	if err != nil {
		t.log.Warn("fetch_block failed for new head", "slot", head.Slot, "error", err)
		return nil
	}
	merged := *head
	merged.Included = exec.Included
	merged.BaseFeePerGas = exec.BaseFeePerGas
	merged.GasUsed = exec.GasUsed
	merged.GasLimit = exec.GasLimit
	merged.IncludedSenders = exec.IncludedSenders
	merged.IncludedFees = exec.IncludedFees
	return &merged
}

func (t *Tracker) captureSnapshot(ctx context.Context, head *chaintypes.Head) *chaintypes.PoolSnapshot {
	txs, err := t.mainNode.FetchPool(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		t.log.Warn("fetch_pool failed", "error", err)
		return nil
	}
	now := time.Now().UTC()
	hashes := make([]common.Hash, 0, len(txs))
	for _, tx := range txs {
		hashes = append(hashes, tx.Hash)
		t.store.UpgradeToFull(tx)
	}
	snap := chaintypes.NewPoolSnapshot(head.Root, now, hashes)
	t.store.ApplySnapshot(t.mainNode.ID(), snap)
	return snap
}

func (t *Tracker) runDetection(ctx context.Context, head *chaintypes.Head, snap *chaintypes.PoolSnapshot, announcedAt time.Time) error {
	candidates := t.store.CandidateSet(snap, announcedAt, head.Included)
	verdicts := t.detector.Detect(ctx, head, candidates)

	if err := t.sink.Enqueue(ctx, head, verdicts, len(snap.Hashes)); err != nil {
		t.log.Error("failed to enqueue detection output", "slot", head.Slot, "error", err)
		return err
	}
	t.store.EvictIncluded(head.Included)
	return nil
}

func (t *Tracker) toResetting(reason string) {
	t.log.Info("chain tracker resetting", "reason", reason)
	if t.Metrics != nil {
		t.Metrics.Resets.WithLabelValues(reason).Inc()
	}
	t.state = StateResetting
	t.store.Reset()
	t.prevHead = nil
	t.prevSnap = nil
}
