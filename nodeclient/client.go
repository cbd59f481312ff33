// Package nodeclient abstracts the remote chain nodes the correlator
// observes, following mive/backend.go's own use of
// github.com/ethereum/go-ethereum/ethclient, generalized to the fuller
// capability set this system needs and to a secondary/main node split: a
// secondary client need only implement pending-hash subscription and sync
// check.
package nodeclient

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	chaintypes "github.com/ethmiss/missmonitor/chain/types"
)

// PendingObservation is one (hash, observation_time) event from a
// subscribe_pending_hashes stream.
type PendingObservation struct {
	Hash            common.Hash
	ObservationTime time.Time
}

// PendingSubscriber is the capability every node client — main or
// secondary — must implement.
type PendingSubscriber interface {
	// ID identifies this node for visibility-set bookkeeping. It is the
	// node's configured URL, stable across restarts.
	ID() chaintypes.NodeID

	// SubscribePendingHashes returns a channel of pending-hash
	// observations. The channel is restarted internally on disconnect with
	// exponential backoff; callers see a continuous stream until ctx is
	// canceled, at which point the channel is closed.
	SubscribePendingHashes(ctx context.Context) (<-chan PendingObservation, error)

	// IsSynced reports whether the node considers itself synced to the
	// chain head.
	IsSynced(ctx context.Context) (bool, error)
}

// MainNodeClient is the execution-layer half of the main node's capability
// set (pool, block/tx/nonce lookups). Only the main node implements it;
// secondaries need only PendingSubscriber.
type MainNodeClient interface {
	PendingSubscriber

	// FetchPool returns the full set of pending transactions the node
	// currently holds, bounded by the context deadline.
	FetchPool(ctx context.Context) ([]*chaintypes.Transaction, error)

	// FetchBlock returns the head record (with included-hash list and
	// payload fields) for a given execution block hash. The returned
	// Head carries only execution-layer fields (ExecutionBlockHash,
	// ExecutionBlockNumber, Included, BaseFeePerGas, GasUsed, GasLimit);
	// the caller merges in the consensus-layer fields (slot, proposer,
	// root) from the HeadSubscriber side.
	FetchBlock(ctx context.Context, hash common.Hash) (*chaintypes.Head, error)

	// FetchTransaction backfills a hash-only observation with its full
	// body.
	FetchTransaction(ctx context.Context, hash common.Hash) (*chaintypes.Transaction, error)

	// FetchNonce returns the account nonce as of the given execution block.
	FetchNonce(ctx context.Context, address common.Address, blockHash common.Hash) (uint64, error)
}

// HeadSubscriber is implemented by the consensus (beacon) node client.
// Head subscription is driven by the single configured consensus endpoint
// only — it is treated as part of the main node's observation surface,
// not a second pending-hash source.
type HeadSubscriber interface {
	// SubscribeHeads returns a channel of newly observed heads (consensus-
	// layer fields populated; execution-layer fields filled in by the
	// caller via MainNodeClient.FetchBlock).
	SubscribeHeads(ctx context.Context) (<-chan *chaintypes.Head, error)
}
