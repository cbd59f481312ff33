// Package storage implements the persistence half of C5: idempotent,
// duplicate-safe inserts into the transaction/beacon_block/full_miss
// tables behind a bounded queue, in the same spirit as go-ethereum's rawdb
// package's preference for explicit, hand-rolled persistence code over an
// ORM — here via github.com/jackc/pgx/v5 instead of rawdb's key-value
// accessors, since the destination is a relational store.
package storage

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	chaintypes "github.com/ethmiss/missmonitor/chain/types"
	"github.com/ethmiss/missmonitor/params"
)

// writeJob bundles the output of one completed head's detection pass:
// its beacon_block row and every miss that survived the eight checks.
// Misses carry their own transaction row data, so a job never needs a
// separate transaction upsert to be durable.
type writeJob struct {
	head                *chaintypes.Head
	misses              []*chaintypes.Miss
	numPoolTransactions int
	enqueued            time.Time
}

// Writer drains a bounded queue of write jobs fed by the chain tracker,
// applying idempotent "insert or do nothing" writes.
type Writer struct {
	pool *pgxpool.Pool
	log  log.Logger

	queue        chan writeJob
	blockTimeout time.Duration

	queueDepthGauge prometheus.Gauge
	droppedCounter  prometheus.Counter
}

// Option configures a Writer.
type Option func(*Writer)

// WithBlockTimeout overrides the default 30s sustained-blockage timeout.
func WithBlockTimeout(d time.Duration) Option {
	return func(w *Writer) { w.blockTimeout = d }
}

// NewWriter builds a Writer with the given queue depth (default 1024).
func NewWriter(pool *pgxpool.Pool, queueDepth int, opts ...Option) *Writer {
	if queueDepth <= 0 {
		queueDepth = params.DefaultWriterQueueDepth
	}
	w := &Writer{
		pool:         pool,
		log:          log.New("component", "writer"),
		queue:        make(chan writeJob, queueDepth),
		blockTimeout: 30 * time.Second,
		queueDepthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "missmonitor",
			Subsystem: "writer",
			Name:      "queue_depth",
			Help:      "Number of write jobs currently queued for persistence.",
		}),
		droppedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "missmonitor",
			Subsystem: "writer",
			Name:      "dropped_total",
			Help:      "Number of non-critical write jobs dropped under backpressure.",
		}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Collectors exposes this writer's Prometheus metrics for registration.
func (w *Writer) Collectors() []prometheus.Collector {
	return []prometheus.Collector{w.queueDepthGauge, w.droppedCounter}
}

// QueueDepth reports the number of jobs currently queued, for /healthz.
func (w *Writer) QueueDepth() int { return len(w.queue) }

// Enqueue submits a head's detection output for persistence. It bundles
// the head's beacon_block row with every surviving miss (misses are never
// dropped silently). If the queue is full, Enqueue
// blocks up to blockTimeout; sustained blockage beyond that returns an
// error, which the caller (the chain tracker) treats as grounds for a
// RESETTING transition.
func (w *Writer) Enqueue(ctx context.Context, head *chaintypes.Head, verdicts []chaintypes.Verdict, numPoolTransactions int) error {
	misses := make([]*chaintypes.Miss, 0, len(verdicts))
	for _, v := range verdicts {
		if v.ExcusedBy == chaintypes.CheckNone && v.Miss != nil {
			misses = append(misses, v.Miss)
		}
	}
	job := writeJob{head: head, misses: misses, numPoolTransactions: numPoolTransactions, enqueued: time.Now().UTC()}

	select {
	case w.queue <- job:
		w.queueDepthGauge.Set(float64(len(w.queue)))
		return nil
	default:
	}

	timer := time.NewTimer(w.blockTimeout)
	defer timer.Stop()
	select {
	case w.queue <- job:
		w.queueDepthGauge.Set(float64(len(w.queue)))
		return nil
	case <-timer.C:
		return fmt.Errorf("writer queue blocked for %s, %d misses at risk", w.blockTimeout, len(misses))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is canceled, applying each job's writes.
// A job that fails to write is logged and dropped rather than retried
// indefinitely, since a stuck writer would otherwise back up the whole
// correlator — the tracker's RESETTING path is the intended recovery.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-w.queue:
			w.queueDepthGauge.Set(float64(len(w.queue)))
			if err := w.applyJob(ctx, job); err != nil {
				w.log.Error("failed to persist write job", "slot", job.head.Slot, "error", err)
			}
		}
	}
}

func (w *Writer) applyJob(ctx context.Context, job writeJob) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	head := job.head
	_, err = tx.Exec(ctx, `
		INSERT INTO beacon_block
			(root, slot, proposer_index, execution_block_hash, execution_block_number, proposal_time, num_transactions, num_pool_transactions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (root) DO NOTHING`,
		head.Root.Hex(), head.Slot, head.ProposerIndex, head.ExecutionBlockHash.Hex(), head.ExecutionBlockNumber,
		head.ProposalTime, len(head.Included), job.numPoolTransactions)
	if err != nil {
		return fmt.Errorf("insert beacon_block: %w", err)
	}

	for _, m := range job.misses {
		_, err = tx.Exec(ctx, `
			INSERT INTO transaction (hash, sender, first_seen, quorum_reached)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (hash) DO NOTHING`,
			m.TxHash.Hex(), m.Sender.Hex(), m.TxFirstSeen, m.TxQuorumReached)
		if err != nil {
			return fmt.Errorf("insert transaction %s: %w", m.TxHash, err)
		}

		tip := int64(0)
		if m.Tip != nil {
			tip = tipToInt64(m.Tip)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO full_miss
				(block_hash, tx_hash, slot, block_number, proposal_time, proposer_index, tx_first_seen, tx_quorum_reached, sender, tip)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (block_hash, tx_hash) DO NOTHING`,
			m.BlockHash.Hex(), m.TxHash.Hex(), m.Slot, m.BlockNumber, m.ProposalTime, m.ProposerIndex,
			m.TxFirstSeen, m.TxQuorumReached, m.Sender.Hex(), tip)
		if err != nil {
			return fmt.Errorf("insert full_miss %s/%s: %w", m.BlockHash, m.TxHash, err)
		}
	}

	return tx.Commit(ctx)
}

// tipToInt64 clamps an effective-tip big.Int to the persisted INT8 column,
// since wei-denominated priority fees fit comfortably within int64 range
// for any tip a proposer would plausibly have accepted.
func tipToInt64(tip *big.Int) int64 {
	if !tip.IsInt64() {
		return int64(^uint64(0) >> 1) // max int64, on the (practically unreachable) overflow path
	}
	return tip.Int64()
}
