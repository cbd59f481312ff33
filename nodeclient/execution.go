package nodeclient

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	chaintypes "github.com/ethmiss/missmonitor/chain/types"
	"github.com/ethmiss/missmonitor/params"
)

// ExecutionClient wraps github.com/ethereum/go-ethereum/ethclient the same
// way mive.New dials the main node in mive/backend.go, and the way
// EspressoSystems' L1Client wraps an RPC client with logging and typed
// accessors.
type ExecutionClient struct {
	id  chaintypes.NodeID
	url string
	log log.Logger

	eth *ethclient.Client
	rpc *rpc.Client
}

// DialExecutionClient connects to a remote execution node over HTTP or
// WebSocket (ethclient dials either transparently based on the URL scheme).
func DialExecutionClient(ctx context.Context, url string) (*ExecutionClient, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, url, err)
	}
	return &ExecutionClient{
		id:  chaintypes.NodeID(url),
		url: url,
		log: log.New("node", url),
		eth: ethclient.NewClient(rc),
		rpc: rc,
	}, nil
}

func (c *ExecutionClient) ID() chaintypes.NodeID { return c.id }

func (c *ExecutionClient) Close() { c.rpc.Close() }

// SubscribePendingHashes subscribes to the node's "newPendingTransactions"
// feed and restarts the subscription with jittered exponential backoff on
// disconnect.
func (c *ExecutionClient) SubscribePendingHashes(ctx context.Context) (<-chan PendingObservation, error) {
	out := make(chan PendingObservation, 256)
	go c.runPendingSubscription(ctx, out)
	return out, nil
}

func (c *ExecutionClient) runPendingSubscription(ctx context.Context, out chan<- PendingObservation) {
	defer close(out)

	retry := newReconnectBackoff()
	for {
		if ctx.Err() != nil {
			return
		}
		hashes := make(chan common.Hash, 256)
		sub, err := c.rpc.EthSubscribe(ctx, hashes, "newPendingTransactions")
		if err != nil {
			c.log.Warn("pending subscription failed, retrying", "error", err)
			if !c.sleepBackoff(ctx, retry) {
				return
			}
			continue
		}
		retry.Reset()

	consume:
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case err := <-sub.Err():
				c.log.Warn("pending subscription dropped, reconnecting", "error", err)
				break consume
			case hash := <-hashes:
				select {
				case out <- PendingObservation{Hash: hash, ObservationTime: time.Now().UTC()}:
				case <-ctx.Done():
					sub.Unsubscribe()
					return
				}
			}
		}
		if !c.sleepBackoff(ctx, retry) {
			return
		}
	}
}

func (c *ExecutionClient) sleepBackoff(ctx context.Context, b interface{ NextBackOff() time.Duration }) bool {
	d := b.NextBackOff()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *ExecutionClient) IsSynced(ctx context.Context) (bool, error) {
	progress, err := c.eth.SyncProgress(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return progress == nil, nil
}

// txPoolContentResult mirrors the shape of the standard txpool_content RPC
// method's response: pending/queued, keyed by sender address then nonce.
type txPoolContentResult struct {
	Pending map[string]map[string]*rpcTransaction `json:"pending"`
}

type rpcTransaction struct {
	Hash                 common.Hash     `json:"hash"`
	From                 common.Address  `json:"from"`
	Nonce                hexUint64       `json:"nonce"`
	Gas                  hexUint64       `json:"gas"`
	MaxFeePerGas         *hexBig         `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexBig         `json:"maxPriorityFeePerGas"`
	GasPrice             *hexBig         `json:"gasPrice"`
	Input                hexBytes        `json:"input"`
}

func (t *rpcTransaction) toTransaction() *chaintypes.Transaction {
	maxFee := t.MaxFeePerGas
	tip := t.MaxPriorityFeePerGas
	if maxFee == nil {
		maxFee = t.GasPrice
	}
	if tip == nil {
		tip = t.GasPrice
	}
	if maxFee == nil {
		maxFee = &hexBig{Int: big.NewInt(0)}
	}
	if tip == nil {
		tip = &hexBig{Int: big.NewInt(0)}
	}
	return &chaintypes.Transaction{
		Hash:                 t.Hash,
		Sender:               t.From,
		Nonce:                uint64(t.Nonce),
		GasLimit:             uint64(t.Gas),
		MaxFeePerGas:         maxFee.Int,
		MaxPriorityFeePerGas: tip.Int,
		Size:                 len(t.Input),
		FullyKnown:           true,
	}
}

// FetchPool calls the node's txpool_content method, bounded by
// params.DefaultPoolFetchTimeout unless the caller's context already
// carries a tighter deadline.
func (c *ExecutionClient) FetchPool(ctx context.Context) ([]*chaintypes.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, params.DefaultPoolFetchTimeout)
	defer cancel()

	var result txPoolContentResult
	if err := c.rpc.CallContext(ctx, &result, "txpool_content"); err != nil {
		return nil, fmt.Errorf("%w: txpool_content: %v", ErrTransport, err)
	}

	var txs []*chaintypes.Transaction
	for _, bySender := range result.Pending {
		for _, tx := range bySender {
			txs = append(txs, tx.toTransaction())
		}
	}
	return txs, nil
}

// FetchBlock returns the execution-layer portion of a Head for the given
// execution block hash.
func (c *ExecutionClient) FetchBlock(ctx context.Context, hash common.Hash) (*chaintypes.Head, error) {
	block, err := c.eth.BlockByHash(ctx, hash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, fmt.Errorf("%w: block %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("%w: block %s: %v", ErrTransport, hash, err)
	}

	included := make([]common.Hash, 0, len(block.Transactions()))
	senders := make(map[common.Hash]common.Address, len(block.Transactions()))
	fees := make(map[common.Hash]chaintypes.FeeCaps, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		h := tx.Hash()
		included = append(included, h)

		signer := types.LatestSignerForChainID(tx.ChainId())
		if sender, err := types.Sender(signer, tx); err == nil {
			senders[h] = sender
		} else {
			c.log.Warn("failed to recover sender for included tx", "tx", h, "error", err)
		}

		tip := tx.GasTipCap()
		maxFee := tx.GasFeeCap()
		if tip == nil {
			tip = tx.GasPrice()
		}
		if maxFee == nil {
			maxFee = tx.GasPrice()
		}
		fees[h] = chaintypes.FeeCaps{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}
	}

	baseFee := block.BaseFee()
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	return &chaintypes.Head{
		ExecutionBlockHash:   block.Hash(),
		ExecutionBlockNumber: block.NumberU64(),
		Included:             included,
		BaseFeePerGas:        baseFee,
		GasUsed:              block.GasUsed(),
		GasLimit:             block.GasLimit(),
		IncludedSenders:      senders,
		IncludedFees:         fees,
	}, nil
}

// FetchTransaction backfills a hash-only observation with its full body.
func (c *ExecutionClient) FetchTransaction(ctx context.Context, hash common.Hash) (*chaintypes.Transaction, error) {
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, fmt.Errorf("%w: tx %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("%w: tx %s: %v", ErrTransport, hash, err)
	}

	signer := types.LatestSignerForChainID(tx.ChainId())
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: recover sender for %s: %v", ErrProtocol, hash, err)
	}

	tip := tx.GasTipCap()
	maxFee := tx.GasFeeCap()
	if tip == nil {
		tip = tx.GasPrice()
	}
	if maxFee == nil {
		maxFee = tx.GasPrice()
	}

	return &chaintypes.Transaction{
		Hash:                 tx.Hash(),
		Sender:               sender,
		Nonce:                tx.Nonce(),
		GasLimit:             tx.Gas(),
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
		Size:                 int(tx.Size()),
		FullyKnown:           true,
	}, nil
}

// FetchNonce returns the account nonce at the given execution block, using
// the "block number or hash" RPC parameter shape so a specific historical
// block can be pinned exactly, for check 8's nonce comparison.
func (c *ExecutionClient) FetchNonce(ctx context.Context, address common.Address, blockHash common.Hash) (uint64, error) {
	var result hexUint64
	blockRef := rpc.BlockNumberOrHashWithHash(blockHash, false)
	if err := c.rpc.CallContext(ctx, &result, "eth_getTransactionCount", address, blockRef); err != nil {
		return 0, fmt.Errorf("%w: nonce of %s at %s: %v", ErrTransport, address, blockHash, err)
	}
	return uint64(result), nil
}
