package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCursor_RoundTripSingleEpoch(t *testing.T) {
	c, err := ParseCursor("1700000000")
	require.NoError(t, err)
	require.False(t, c.HasQuorum)
	require.Equal(t, "1700000000", c.String())
}

func TestCursor_RoundTripCompositePair(t *testing.T) {
	c, err := ParseCursor("1700000000,1700000005")
	require.NoError(t, err)
	require.True(t, c.HasQuorum)
	require.Equal(t, "1700000000,1700000005", c.String())
}

func TestCursor_RejectsMalformed(t *testing.T) {
	_, err := ParseCursor("not-a-number")
	require.Error(t, err)
}

func TestCursorFromRow(t *testing.T) {
	pt := time.Unix(100, 0).UTC()
	qr := time.Unix(95, 0).UTC()
	c := CursorFromRow(pt, qr)
	require.Equal(t, "100,95", c.String())
}
