package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolSnapshot is an immutable set of transaction hashes captured from the
// main node immediately after a head observation.
type PoolSnapshot struct {
	FollowsHead common.Hash
	CapturedAt  time.Time
	Hashes      map[common.Hash]struct{}
}

// Contains reports whether hash was present in this snapshot.
func (s *PoolSnapshot) Contains(hash common.Hash) bool {
	_, ok := s.Hashes[hash]
	return ok
}

// NewPoolSnapshot builds a snapshot from a slice of hashes.
func NewPoolSnapshot(followsHead common.Hash, capturedAt time.Time, hashes []common.Hash) *PoolSnapshot {
	set := make(map[common.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return &PoolSnapshot{FollowsHead: followsHead, CapturedAt: capturedAt, Hashes: set}
}
