package workerpool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/contentfleet/go/common/workerpool"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := workerpool.New(2)
	var current, max atomic.Int32

	for i := 0; i < 8; i++ {
		err := p.Submit(context.Background(), func() {
			n := current.Add(1)
			for {
				m := max.Load()
				if n <= m || max.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
		})
		require.NoError(t, err)
	}
	p.Wait()

	require.LessOrEqual(t, max.Load(), int32(2))
}

func TestPoolSubmitRespectsContextCancellation(t *testing.T) {
	p := workerpool.New(1)
	ctx, cancel := context.WithCancel(context.Background())

	blocked := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() {
		<-blocked
	}))

	cancel()
	err := p.Submit(ctx, func() {})
	require.Error(t, err)

	close(blocked)
	p.Wait()
}

func TestPoolZeroOrNegativeSizeTreatedAsOne(t *testing.T) {
	p := workerpool.New(0)
	var ran atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func() { ran.Store(true) }))
	p.Wait()
	require.True(t, ran.Load())
}

func TestPoolWaitBlocksUntilAllSubmittedFunctionsReturn(t *testing.T) {
	p := workerpool.New(4)
	var done atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), func() {
			time.Sleep(time.Millisecond)
			done.Add(1)
		}))
	}
	p.Wait()
	require.EqualValues(t, 10, done.Load())
}
