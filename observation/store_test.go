package observation

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	chaintypes "github.com/ethmiss/missmonitor/chain/types"
)

func TestObservePending_IdempotentPerNodeHash(t *testing.T) {
	s := New(WithQuorumThreshold(2))
	hash := common.HexToHash("0x1")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.ObservePending("node-a", hash, t0)
	s.ObservePending("node-a", hash, t0.Add(time.Second))
	s.ObservePending("node-a", hash, t0.Add(2*time.Second))

	tx, ok := s.Get(hash)
	require.True(t, ok)
	require.Len(t, tx.Visibility, 1)
	require.Equal(t, t0, tx.FirstSeen, "re-reporting the same node does not move first_seen")
	require.True(t, tx.QuorumReached.IsZero(), "a single node can never reach a quorum of 2")
}

func TestObservePending_QuorumReachedIsMonotonic(t *testing.T) {
	s := New(WithQuorumThreshold(2))
	hash := common.HexToHash("0x1")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.ObservePending("node-a", hash, t0)
	tx, _ := s.Get(hash)
	require.True(t, tx.QuorumReached.IsZero())

	s.ObservePending("node-b", hash, t0.Add(time.Second))
	tx, _ = s.Get(hash)
	quorumAt := tx.QuorumReached
	require.Equal(t, t0.Add(time.Second), quorumAt)

	// A third node's later sighting must never move quorum_reached once fixed.
	s.ObservePending("node-c", hash, t0.Add(time.Minute))
	tx, _ = s.Get(hash)
	require.Equal(t, quorumAt, tx.QuorumReached)
}

func TestApplySnapshot_AbsenceIncrementsDisappearance_PresenceResets(t *testing.T) {
	s := New(WithDisappearedThreshold(2))
	hash := common.HexToHash("0x1")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.ObservePending("node-a", hash, t0)
	snap1 := chaintypes.NewPoolSnapshot(common.HexToHash("0xaaa"), t0.Add(time.Second), nil)
	s.ApplySnapshot("node-a", snap1)

	tx, ok := s.Get(hash)
	require.True(t, ok)
	require.Equal(t, 1, tx.DisappearedSince())

	snap2 := chaintypes.NewPoolSnapshot(common.HexToHash("0xbbb"), t0.Add(2*time.Second), []common.Hash{hash})
	s.ApplySnapshot("node-a", snap2)

	tx, ok = s.Get(hash)
	require.True(t, ok)
	require.Equal(t, 0, tx.DisappearedSince(), "presence in a later snapshot resets the disappearance counter")
}

func TestApplySnapshot_ReappearanceAfterThresholdDiscardsPriorState(t *testing.T) {
	s := New(WithDisappearedThreshold(2))
	hash := common.HexToHash("0x1")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.ObservePending("node-a", hash, t0)
	s.ObservePending("node-b", hash, t0)
	firstQuorum, _ := s.Get(hash)
	require.False(t, firstQuorum.QuorumReached.IsZero())

	empty := chaintypes.NewPoolSnapshot(common.HexToHash("0xaaa"), t0.Add(time.Minute), nil)
	s.ApplySnapshot("node-a", empty)
	s.ApplySnapshot("node-a", chaintypes.NewPoolSnapshot(common.HexToHash("0xbbb"), t0.Add(2*time.Minute), nil))

	// Two consecutive misses at the default threshold: the next sighting
	// re-initialises the transaction from scratch.
	reappearedAt := t0.Add(3 * time.Minute)
	s.ObservePending("node-a", hash, reappearedAt)

	tx, ok := s.Get(hash)
	require.True(t, ok)
	require.Equal(t, reappearedAt, tx.FirstSeen)
	require.True(t, tx.QuorumReached.IsZero(), "re-initialised transaction starts over at quorum 1")
	require.Len(t, tx.Visibility, 1)
}

func TestReset_ClearsAllLiveState(t *testing.T) {
	s := New()
	hash := common.HexToHash("0x1")
	s.ObservePending("node-a", hash, time.Now().UTC())
	s.ApplySnapshot("node-a", chaintypes.NewPoolSnapshot(common.HexToHash("0xaaa"), time.Now().UTC(), []common.Hash{hash}))
	require.Equal(t, 1, s.Len())

	s.Reset()

	require.Equal(t, 0, s.Len())
	require.Nil(t, s.LatestSnapshot())
	_, ok := s.Get(hash)
	require.False(t, ok)
}

func TestCandidateSet_IncludesSnapshotMinusIncluded(t *testing.T) {
	s := New()
	included := common.HexToHash("0x1")
	pending := common.HexToHash("0x2")

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.ObservePending("node-a", included, t0)
	s.ObservePending("node-a", pending, t0)

	snap := chaintypes.NewPoolSnapshot(common.HexToHash("0xaaa"), t0.Add(time.Second), []common.Hash{included, pending})
	s.ApplySnapshot("node-a", snap)

	announcedAt := t0.Add(10 * time.Second)
	candidates := s.CandidateSet(snap, announcedAt, []common.Hash{included})

	require.Len(t, candidates, 1)
	require.Equal(t, pending, candidates[0].Hash)
}

// A transaction first seen before the snapshot, absent from that single
// snapshot, but re-observed live inside [snapshot.CapturedAt, announcedAt)
// must still appear in the candidate set: it was neither included nor
// evicted, and the live sighting proves it was still pending.
func TestCandidateSet_IncludesReObservedAfterSnapshotMiss(t *testing.T) {
	s := New(WithDisappearedThreshold(5)) // keep the entry alive across the miss
	hash := common.HexToHash("0x2")

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.ObservePending("node-a", hash, t0)

	snapshotAt := t0.Add(time.Second)
	snap := chaintypes.NewPoolSnapshot(common.HexToHash("0xaaa"), snapshotAt, nil) // hash absent from the snapshot
	s.ApplySnapshot("node-a", snap)

	reObservedAt := snapshotAt.Add(time.Second)
	announcedAt := reObservedAt.Add(time.Second)
	s.ObservePending("node-b", hash, reObservedAt)

	candidates := s.CandidateSet(snap, announcedAt, nil)
	require.Len(t, candidates, 1)
	require.Equal(t, hash, candidates[0].Hash)
}

func TestCandidateSet_ExcludesStaleSnapshotMiss(t *testing.T) {
	s := New(WithDisappearedThreshold(5))
	hash := common.HexToHash("0x2")

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.ObservePending("node-a", hash, t0)

	snapshotAt := t0.Add(time.Second)
	snap := chaintypes.NewPoolSnapshot(common.HexToHash("0xaaa"), snapshotAt, nil)
	s.ApplySnapshot("node-a", snap)

	// No sighting at or after the snapshot: the transaction is not part of
	// this head's candidate window.
	announcedAt := snapshotAt.Add(time.Second)
	candidates := s.CandidateSet(snap, announcedAt, nil)
	require.Empty(t, candidates)
}

func TestEvictStale_DropsOnlyPastEvictionAge(t *testing.T) {
	s := New(WithEvictionAge(time.Minute))
	hash := common.HexToHash("0x1")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.ObservePending("node-a", hash, t0)
	s.ApplySnapshot("node-a", chaintypes.NewPoolSnapshot(common.HexToHash("0xaaa"), t0.Add(time.Second), nil))

	require.Equal(t, 0, s.EvictStale(t0.Add(30*time.Second)), "not yet past the eviction age")
	require.Equal(t, 1, s.EvictStale(t0.Add(2*time.Minute)), "past the eviction age")
	require.Equal(t, 0, s.Len())
}
