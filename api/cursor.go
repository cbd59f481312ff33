// Package api implements the read-only Query API half of C5: paginated,
// filterable REST endpoints over the full_miss table with a keyset cursor
// over the composite ordering key (proposal_time, tx_quorum_reached).
package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor locates a point in the composite (proposal_time, tx_quorum_reached)
// ordering key. It is either a single epoch-seconds integer (a boundary on
// proposal_time alone) or a "<epoch>,<quorum_epoch>" pair locating an
// exact point in the composite key space.
type Cursor struct {
	ProposalTime  time.Time
	QuorumReached time.Time
	HasQuorum     bool
}

// ParseCursor parses a cursor string of either shape.
func ParseCursor(s string) (Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Cursor{}, fmt.Errorf("empty cursor")
	}
	parts := strings.SplitN(s, ",", 2)
	proposalSecs, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor %q: %w", s, err)
	}
	c := Cursor{ProposalTime: time.Unix(proposalSecs, 0).UTC()}
	if len(parts) == 2 {
		quorumSecs, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return Cursor{}, fmt.Errorf("malformed cursor %q: %w", s, err)
		}
		c.QuorumReached = time.Unix(quorumSecs, 0).UTC()
		c.HasQuorum = true
	}
	return c, nil
}

// String renders the cursor back to its wire form.
func (c Cursor) String() string {
	if !c.HasQuorum {
		return strconv.FormatInt(c.ProposalTime.Unix(), 10)
	}
	return fmt.Sprintf("%d,%d", c.ProposalTime.Unix(), c.QuorumReached.Unix())
}

// CursorFromRow builds the composite-key cursor for a returned row, with
// both times rendered at whole-second precision, used to set response.to
// when a page is saturated by the row cap.
func CursorFromRow(proposalTime, quorumReached time.Time) Cursor {
	return Cursor{ProposalTime: proposalTime, QuorumReached: quorumReached, HasQuorum: true}
}
