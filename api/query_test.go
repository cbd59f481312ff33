package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupByTx_GroupsRowsBelongingToSameTx(t *testing.T) {
	rows := []MissRow{
		{TxHash: "0x1", Sender: "0xaa", BlockHash: "0xb1"},
		{TxHash: "0x1", Sender: "0xaa", BlockHash: "0xb2"},
		{TxHash: "0x2", Sender: "0xbb", BlockHash: "0xb1"},
	}
	groups := GroupByTx(rows, nil)
	require.Len(t, groups, 2)
	require.Equal(t, "0x1", groups[0].TxHash)
	require.Len(t, groups[0].Blocks, 2)
	require.Equal(t, "0x2", groups[1].TxHash)
	require.Len(t, groups[1].Blocks, 1)
}

func TestGroupByTx_AppliesMinNumMisses(t *testing.T) {
	rows := []MissRow{
		{TxHash: "0x1", BlockHash: "0xb1"},
		{TxHash: "0x1", BlockHash: "0xb2"},
		{TxHash: "0x2", BlockHash: "0xb1"},
	}
	min := 2
	groups := GroupByTx(rows, &min)
	require.Len(t, groups, 1)
	require.Equal(t, "0x1", groups[0].TxHash)
}

func TestGroupByBlock_GroupsRowsBelongingToSameBlock(t *testing.T) {
	rows := []MissRow{
		{TxHash: "0x1", BlockHash: "0xb1", Slot: 10},
		{TxHash: "0x2", BlockHash: "0xb1", Slot: 10},
		{TxHash: "0x3", BlockHash: "0xb2", Slot: 11},
	}
	groups := GroupByBlock(rows, nil)
	require.Len(t, groups, 2)
	require.Equal(t, "0xb1", groups[0].BlockHash)
	require.Len(t, groups[0].Txs, 2)
}

func TestBuildMissesQuery_AppliesAscendingCursorAndFilters(t *testing.T) {
	one := uint64(42)
	query, args := buildMissesQuery(Filter{
		From:        &Cursor{HasQuorum: false},
		BlockNumber: &one,
		Limit:       100,
	})
	require.Contains(t, query, "ORDER BY proposal_time ASC, tx_quorum_reached ASC")
	require.Contains(t, query, "block_number = $2")
	require.Len(t, args, 3) // from-cursor, block_number, limit+1
}

func TestBuildMissesQuery_DescendingFlipsComparators(t *testing.T) {
	query, _ := buildMissesQuery(Filter{From: &Cursor{HasQuorum: true}, Descending: true, Limit: 10})
	require.Contains(t, query, "(proposal_time, tx_quorum_reached) < ($1, $2)")
	require.Contains(t, query, "ORDER BY proposal_time DESC, tx_quorum_reached DESC")
}
