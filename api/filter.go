package api

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Filter captures the common query parameters shared by /v0/misses,
// /v0/txs and /v0/blocks.
type Filter struct {
	From *Cursor
	To   *Cursor

	BlockNumber     *uint64
	ProposerIndex   *uint64
	Sender          *common.Address
	PropagationTime *time.Duration
	MinTip          *int64
	MinNumMisses    *int

	Descending bool
	Limit      int
}

// ParseFilter parses the common query-string parameters. maxRows bounds
// Limit even if the caller did not specify one, enforcing the row cap.
func ParseFilter(q url.Values, maxRows int) (Filter, error) {
	f := Filter{Limit: maxRows}

	if v := q.Get("from"); v != "" {
		c, err := ParseCursor(v)
		if err != nil {
			return f, fmt.Errorf("from: %w", err)
		}
		f.From = &c
	}
	if v := q.Get("to"); v != "" {
		c, err := ParseCursor(v)
		if err != nil {
			return f, fmt.Errorf("to: %w", err)
		}
		f.To = &c
	}
	if v := q.Get("block_number"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("block_number: %w", err)
		}
		f.BlockNumber = &n
	}
	if v := q.Get("proposer_index"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("proposer_index: %w", err)
		}
		f.ProposerIndex = &n
	}
	if v := q.Get("sender"); v != "" {
		if !common.IsHexAddress(v) {
			return f, fmt.Errorf("sender: malformed address %q", v)
		}
		addr := common.HexToAddress(v)
		f.Sender = &addr
	}
	if v := q.Get("propagation_time"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("propagation_time: %w", err)
		}
		d := time.Duration(secs) * time.Second
		f.PropagationTime = &d
	}
	if v := q.Get("min_tip"); v != "" {
		tip, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("min_tip: %w", err)
		}
		f.MinTip = &tip
	}
	if v := q.Get("min_num_misses"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("min_num_misses: %w", err)
		}
		f.MinNumMisses = &n
	}
	if v := q.Get("order"); v == "desc" {
		f.Descending = true
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("limit: %w", err)
		}
		if n > 0 && n < f.Limit {
			f.Limit = n
		}
	}
	return f, nil
}
