package storage

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	chaintypes "github.com/ethmiss/missmonitor/chain/types"
)

func TestWriter_EnqueueSucceedsUnderCapacity(t *testing.T) {
	w := NewWriter(nil, 4)
	head := &chaintypes.Head{Root: common.HexToHash("0xa")}
	err := w.Enqueue(context.Background(), head, nil, 0)
	require.NoError(t, err)
	require.Equal(t, 1, w.QueueDepth())
}

func TestWriter_EnqueueBlocksThenErrorsWhenQueueSaturated(t *testing.T) {
	w := NewWriter(nil, 1, WithBlockTimeout(20*time.Millisecond))
	head := &chaintypes.Head{Root: common.HexToHash("0xa")}

	require.NoError(t, w.Enqueue(context.Background(), head, nil, 0))

	start := time.Now()
	err := w.Enqueue(context.Background(), head, nil, 0)
	require.Error(t, err)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWriter_EnqueueRespectsContextCancellation(t *testing.T) {
	w := NewWriter(nil, 1, WithBlockTimeout(time.Second))
	head := &chaintypes.Head{Root: common.HexToHash("0xa")}
	require.NoError(t, w.Enqueue(context.Background(), head, nil, 0))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := w.Enqueue(ctx, head, nil, 0)
	require.ErrorIs(t, err, context.Canceled)
}
