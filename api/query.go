package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MissRow is one row of the full_miss table, as returned to API consumers.
type MissRow struct {
	BlockHash       string
	TxHash          string
	Slot            uint64
	BlockNumber     uint64
	ProposerIndex   uint64
	ProposalTime    time.Time
	TxFirstSeen     time.Time
	TxQuorumReached time.Time
	Sender          string
	Tip             int64
}

// buildMissesQuery builds the inner query shared by all three endpoints:
// a row cap over full_miss ordered by the composite keyset cursor.
func buildMissesQuery(f Filter) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	cmpOp := ">"
	orderDir := "ASC"
	if f.Descending {
		cmpOp = "<"
		orderDir = "DESC"
	}

	if f.From != nil {
		if f.From.HasQuorum {
			conditions = append(conditions, fmt.Sprintf(
				"(proposal_time, tx_quorum_reached) %s (%s, %s)", cmpOp, arg(f.From.ProposalTime), arg(f.From.QuorumReached)))
		} else {
			inclusiveOp := ">="
			if f.Descending {
				inclusiveOp = "<="
			}
			conditions = append(conditions, fmt.Sprintf("proposal_time %s %s", inclusiveOp, arg(f.From.ProposalTime)))
		}
	}
	if f.To != nil {
		inclusiveOp := "<="
		if f.Descending {
			inclusiveOp = ">="
		}
		if f.To.HasQuorum {
			conditions = append(conditions, fmt.Sprintf(
				"(proposal_time, tx_quorum_reached) %s (%s, %s)", inclusiveOp, arg(f.To.ProposalTime), arg(f.To.QuorumReached)))
		} else {
			conditions = append(conditions, fmt.Sprintf("proposal_time %s %s", inclusiveOp, arg(f.To.ProposalTime)))
		}
	}
	if f.BlockNumber != nil {
		conditions = append(conditions, fmt.Sprintf("block_number = %s", arg(*f.BlockNumber)))
	}
	if f.ProposerIndex != nil {
		conditions = append(conditions, fmt.Sprintf("proposer_index = %s", arg(*f.ProposerIndex)))
	}
	if f.Sender != nil {
		conditions = append(conditions, fmt.Sprintf("sender = %s", arg(f.Sender.Hex())))
	}
	if f.PropagationTime != nil {
		conditions = append(conditions, fmt.Sprintf(
			"EXTRACT(EPOCH FROM (proposal_time - tx_quorum_reached)) >= %s", arg(f.PropagationTime.Seconds())))
	}
	if f.MinTip != nil {
		conditions = append(conditions, fmt.Sprintf("tip >= %s", arg(*f.MinTip)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT block_hash, tx_hash, slot, block_number, proposer_index, proposal_time,
		       tx_first_seen, tx_quorum_reached, sender, tip
		FROM full_miss
		%s
		ORDER BY proposal_time %s, tx_quorum_reached %s
		LIMIT %s`, where, orderDir, orderDir, arg(f.Limit+1))

	return query, args
}

// QueryMisses runs the inner capped query and reports whether the page was
// saturated (more rows exist beyond the cap), per the `complete = false`
// response semantics.
func QueryMisses(ctx context.Context, pool *pgxpool.Pool, f Filter) ([]MissRow, bool, error) {
	query, args := buildMissesQuery(f)
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("query misses: %w", err)
	}
	defer rows.Close()

	var out []MissRow
	for rows.Next() {
		var r MissRow
		if err := rows.Scan(&r.BlockHash, &r.TxHash, &r.Slot, &r.BlockNumber, &r.ProposerIndex,
			&r.ProposalTime, &r.TxFirstSeen, &r.TxQuorumReached, &r.Sender, &r.Tip); err != nil {
			return nil, false, fmt.Errorf("scan miss row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate misses: %w", err)
	}

	complete := true
	if len(out) > f.Limit {
		out = out[:f.Limit]
		complete = false
	}
	return out, complete, nil
}

// TxGroup is one grouped-by-transaction result for GET /v0/txs.
type TxGroup struct {
	TxHash string
	Sender string
	Blocks []MissRow
}

// GroupByTx folds a flat, already-capped miss slice into per-transaction
// groups. Grouping never pulls rows outside the inner limit: a group
// only ever contains the rows the caller already fetched.
func GroupByTx(rows []MissRow, minNumMisses *int) []TxGroup {
	order := make([]string, 0)
	byTx := make(map[string]*TxGroup)
	for _, r := range rows {
		g, ok := byTx[r.TxHash]
		if !ok {
			g = &TxGroup{TxHash: r.TxHash, Sender: r.Sender}
			byTx[r.TxHash] = g
			order = append(order, r.TxHash)
		}
		g.Blocks = append(g.Blocks, r)
	}
	out := make([]TxGroup, 0, len(order))
	for _, hash := range order {
		g := byTx[hash]
		if minNumMisses != nil && len(g.Blocks) < *minNumMisses {
			continue
		}
		out = append(out, *g)
	}
	return out
}

// BlockGroup is one grouped-by-block result for GET /v0/blocks.
type BlockGroup struct {
	BlockHash string
	Slot      uint64
	Txs       []MissRow
}

// GroupByBlock is GroupByTx's mirror image, grouping by block_hash.
func GroupByBlock(rows []MissRow, minNumMisses *int) []BlockGroup {
	order := make([]string, 0)
	byBlock := make(map[string]*BlockGroup)
	for _, r := range rows {
		g, ok := byBlock[r.BlockHash]
		if !ok {
			g = &BlockGroup{BlockHash: r.BlockHash, Slot: r.Slot}
			byBlock[r.BlockHash] = g
			order = append(order, r.BlockHash)
		}
		g.Txs = append(g.Txs, r)
	}
	out := make([]BlockGroup, 0, len(order))
	for _, hash := range order {
		g := byBlock[hash]
		if minNumMisses != nil && len(g.Txs) < *minNumMisses {
			continue
		}
		out = append(out, *g)
	}
	return out
}
