// Package observation implements the Observation Store (C2): the single
// in-memory fused view of pending transactions, per-node visibility and
// recent pool snapshots. Pending-hash observations arrive concurrently
// from every node client's own goroutine and merge commutatively;
// ObservePending is safe to call from any of them. Snapshot application,
// eviction and reset are driven solely by the chain tracker's single
// serial goroutine. The store is the only shared mutable state in the
// correlator, serialising mutation behind one mutex rather than per-key
// locks, since no single call holds it for more than a map operation.
package observation

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	chaintypes "github.com/ethmiss/missmonitor/chain/types"
)

// Store holds the live fused view of every tracked transaction plus the
// two most recent pool snapshots.
type Store struct {
	mu sync.Mutex

	quorumThreshold       int
	evictionAge           time.Duration
	disappearedThreshold  int

	txs map[common.Hash]*entry

	// snapshots retains at most the two most recent pool snapshots, oldest
	// first.
	snapshots []*chaintypes.PoolSnapshot
}

type entry struct {
	tx             chaintypes.Transaction
	disappearedAt  time.Time // zero while not currently disappeared
	reobservedAt   time.Time // zero unless this tx was discarded and re-initialised once
	lastObservedAt time.Time // most recent ObservePending/ApplySnapshot sighting, by any node
}

// Option configures a new Store.
type Option func(*Store)

// WithQuorumThreshold overrides the default quorum threshold (2).
func WithQuorumThreshold(n int) Option {
	return func(s *Store) { s.quorumThreshold = n }
}

// WithEvictionAge overrides the default eviction age (10 minutes).
func WithEvictionAge(d time.Duration) Option {
	return func(s *Store) { s.evictionAge = d }
}

// WithDisappearedThreshold overrides the number of consecutive missed
// snapshots that mark a transaction disappeared (default 2).
func WithDisappearedThreshold(n int) Option {
	return func(s *Store) { s.disappearedThreshold = n }
}

// New builds an empty Store with the given options applied over the
// documented defaults.
func New(opts ...Option) *Store {
	s := &Store{
		quorumThreshold:      2,
		evictionAge:          10 * time.Minute,
		disappearedThreshold: 2,
		txs:                  make(map[common.Hash]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ObservePending records a (node, hash) pending-hash sighting. It is
// idempotent per (node_id, hash): a node re-reporting a hash it already
// reported is a no-op beyond the disappearance-counter reset. The first
// observation across all nodes for a hash fixes first_seen; each new node
// grows the visibility set; quorum_reached fixes the first time the
// visibility set reaches the configured threshold and never moves after.
func (s *Store) ObservePending(node chaintypes.NodeID, hash common.Hash, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeLocked(node, hash, at)
}

func (s *Store) observeLocked(node chaintypes.NodeID, hash common.Hash, at time.Time) *entry {
	e, ok := s.txs[hash]
	if !ok {
		e = &entry{tx: chaintypes.Transaction{
			Hash:       hash,
			FirstSeen:  at,
			Visibility: map[chaintypes.NodeID]time.Time{},
		}}
		s.txs[hash] = e
	} else if e.disappearedSince() >= s.disappearedThreshold {
		// Re-appearance rule: discard the prior observation and
		// re-initialise from this sighting.
		e = &entry{tx: chaintypes.Transaction{
			Hash:       hash,
			FirstSeen:  at,
			Visibility: map[chaintypes.NodeID]time.Time{},
		}, reobservedAt: at}
		s.txs[hash] = e
	}

	if e.tx.FirstSeen.IsZero() || at.Before(e.tx.FirstSeen) {
		e.tx.FirstSeen = at
	}
	if _, seen := e.tx.Visibility[node]; !seen {
		e.tx.Visibility[node] = at
	}
	if e.tx.QuorumReached.IsZero() && len(e.tx.Visibility) >= s.quorumThreshold {
		e.tx.QuorumReached = at
	}
	e.tx.MarkObserved()
	e.disappearedAt = time.Time{}
	if at.After(e.lastObservedAt) {
		e.lastObservedAt = at
	}
	return e
}

func (e *entry) disappearedSince() int { return e.tx.DisappearedSince() }

// UpgradeToFull supplies the full body for a hash-only transaction,
// resolved via a pool snapshot full-transaction fetch or an explicit
// fetch_transaction call. The upgrade is one-way: once FullyKnown, later
// calls are no-ops. It never touches first_seen or quorum_reached of an
// existing entry.
func (s *Store) UpgradeToFull(full *chaintypes.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.txs[full.Hash]
	if !ok {
		// Full body arrived with no prior hash-only sighting (e.g. the pool
		// snapshot itself is the first observation); synthesize one.
		e = &entry{tx: chaintypes.Transaction{
			Hash:       full.Hash,
			FirstSeen:  full.FirstSeen,
			Visibility: map[chaintypes.NodeID]time.Time{},
		}}
		s.txs[full.Hash] = e
	}
	if e.tx.FullyKnown {
		return
	}
	e.tx.Sender = full.Sender
	e.tx.Nonce = full.Nonce
	e.tx.GasLimit = full.GasLimit
	e.tx.MaxFeePerGas = full.MaxFeePerGas
	e.tx.MaxPriorityFeePerGas = full.MaxPriorityFeePerGas
	e.tx.Size = full.Size
	e.tx.FullyKnown = true
}

// ApplySnapshot folds a newly captured pool snapshot into the store: every
// hash in the snapshot is treated as an observation by node, refreshing its
// disappearance state; every previously tracked hash absent from the
// snapshot has its disappearance counter incremented. The snapshot itself
// is retained (only the two most recent are kept).
func (s *Store) ApplySnapshot(node chaintypes.NodeID, snap *chaintypes.PoolSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash := range snap.Hashes {
		s.observeLocked(node, hash, snap.CapturedAt)
	}
	for hash, e := range s.txs {
		if snap.Contains(hash) {
			continue
		}
		e.tx.MarkAbsentFromSnapshot()
		if e.disappearedAt.IsZero() {
			e.disappearedAt = snap.CapturedAt
		}
	}

	s.snapshots = append(s.snapshots, snap)
	if len(s.snapshots) > 2 {
		s.snapshots = s.snapshots[len(s.snapshots)-2:]
	}
}

// LatestSnapshot returns the most recently applied snapshot, or nil.
func (s *Store) LatestSnapshot() *chaintypes.PoolSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return nil
	}
	return s.snapshots[len(s.snapshots)-1]
}

// Get returns a copy of the tracked transaction for hash, and whether it is
// known at all. The visibility map is copied so callers cannot mutate
// store state.
func (s *Store) Get(hash common.Hash) (chaintypes.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.txs[hash]
	if !ok {
		return chaintypes.Transaction{}, false
	}
	return copyTx(e.tx), true
}

func copyTx(tx chaintypes.Transaction) chaintypes.Transaction {
	out := tx
	out.Visibility = make(map[chaintypes.NodeID]time.Time, len(tx.Visibility))
	for k, v := range tx.Visibility {
		out.Visibility[k] = v
	}
	return out
}

// CandidateSet computes the candidate set for a head:
// (pool snapshot preceding H) ∪ (pending hashes observed between that
// snapshot and H's announcement) \ (H's included hashes), excluding any
// transaction that was re-observed after disappearance where the head's
// announcement predates that re-observation.
func (s *Store) CandidateSet(snapshot *chaintypes.PoolSnapshot, announcedAt time.Time, included []common.Hash) []chaintypes.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	excluded := make(map[common.Hash]struct{}, len(included))
	for _, h := range included {
		excluded[h] = struct{}{}
	}

	seen := make(map[common.Hash]struct{})
	var out []chaintypes.Transaction

	add := func(hash common.Hash) {
		if _, skip := excluded[hash]; skip {
			return
		}
		if _, dup := seen[hash]; dup {
			return
		}
		e, ok := s.txs[hash]
		if !ok {
			return
		}
		if !e.reobservedAt.IsZero() && announcedAt.Before(e.reobservedAt) {
			return
		}
		seen[hash] = struct{}{}
		out = append(out, copyTx(e.tx))
	}

	if snapshot != nil {
		for hash := range snapshot.Hashes {
			add(hash)
		}
	}
	for hash, e := range s.txs {
		if !e.tx.FirstSeen.Before(announcedAt) {
			continue // observed at/after announcement: not yet pending when H was proposed
		}
		if snapshot != nil && e.lastObservedAt.Before(snapshot.CapturedAt) {
			continue // no sighting at/after the snapshot: either already in the snapshot
			// branch, or genuinely absent from the window
		}
		add(hash)
	}
	return out
}

// EvictIncluded drops transactions once they are included in a canonical
// block and detection for that block has completed.
func (s *Store) EvictIncluded(hashes []common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hashes {
		delete(s.txs, h)
	}
}

// EvictStale drops transactions that have been disappeared for at least
// the configured eviction age, bounding the store's memory footprint.
func (s *Store) EvictStale(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for hash, e := range s.txs {
		if e.disappearedAt.IsZero() {
			continue
		}
		if now.Sub(e.disappearedAt) >= s.evictionAge {
			delete(s.txs, hash)
			evicted++
		}
	}
	return evicted
}

// Reset discards all in-memory state. Called by the chain tracker on a
// reorg or desync transition: previously persisted rows are not
// retracted, only the live view is cleared.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = make(map[common.Hash]*entry)
	s.snapshots = nil
}

// Len reports the number of tracked transactions, for metrics/tests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}
