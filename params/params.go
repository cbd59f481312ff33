// Package params collects the tunable defaults for the correlator and the
// query API. The quorum, propagation, eviction, writer, API timeout and
// row-cap values seed a fresh config and can be overridden from it; the
// pool fetch timeout, slot duration, backoff bounds and disappearance
// threshold are used as fixed constants.
package params

import "time"

const (
	// DefaultQuorumThreshold is the number of distinct nodes that must report
	// a transaction before its quorum_reached timestamp is fixed.
	DefaultQuorumThreshold = 2

	// DefaultPropagationTime is the minimum gap between a transaction's
	// quorum_reached time and a block's proposal_time below which the
	// omission is excused (check 2).
	DefaultPropagationTime = 8 * time.Second

	// DefaultEvictionAge bounds how long a disappeared transaction is kept
	// in the Observation Store before it is dropped.
	DefaultEvictionAge = 10 * time.Minute

	// DefaultPoolFetchTimeout bounds a single fetch_pool call.
	DefaultPoolFetchTimeout = 10 * time.Second

	// DefaultWriterQueueDepth is the bounded queue depth between the
	// correlator and the persistence writer.
	DefaultWriterQueueDepth = 1024

	// DefaultWriterBlockTimeout is how long the writer may block the
	// correlator before a RESETTING transition is forced.
	DefaultWriterBlockTimeout = 30 * time.Second

	// DefaultAPIRequestTimeout is the request-scoped deadline applied to
	// every query API call.
	DefaultAPIRequestTimeout = 15 * time.Second

	// DefaultMaxResponseRows is the row cap applied to the pre-grouping
	// inner query of the txs/blocks endpoints, and to the misses endpoint
	// directly.
	DefaultMaxResponseRows = 1000

	// DefaultSlotSeconds is the consensus chain's slot duration, used to
	// derive a beacon block's proposal_time from its slot.
	DefaultSlotSeconds = 12

	// DefaultBackoffBaseInterval and DefaultBackoffMaxInterval bound the
	// exponential reconnect backoff for node client subscriptions.
	DefaultBackoffBaseInterval = 1 * time.Second
	DefaultBackoffMaxInterval  = 60 * time.Second

	// DefaultDisappearedSnapshotThreshold is the number of consecutive
	// snapshots a transaction must be absent from before it is considered
	// disappeared.
	DefaultDisappearedSnapshotThreshold = 2
)
