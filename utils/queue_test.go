package utils

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Records [][]byte

func TestRecordQueue_Order(t *testing.T) {
	const N = 1 << 10
	const K = 8

	queue := NewRecordQueue[Records](N * K)
	ctx := context.Background()

	var wg sync.WaitGroup
	for k := 0; k < K; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			i := uint64(k) << 32
			for n := uint64(0); n < N; n++ {
				var b [8]byte
				binary.LittleEndian.PutUint64(b[:], i|n)
				assert.NoError(t, queue.Drain(ctx, Records{b[:]}))
			}
		}(k)
	}

	check := [K]int{}
	for total := 0; total < N*K; {
		nums, err := queue.Feed(ctx)
		require.NoError(t, err)
		for _, num := range nums {
			j := binary.LittleEndian.Uint64(num)
			k, n := int(j>>32), int(j&0xffffffff)
			assert.Equal(t, check[k], n)
			check[k] = n + 1
			total++
		}
	}
	wg.Wait()
}

func TestRecordQueue_Overflow(t *testing.T) {
	queue := NewRecordQueue[Records](2)
	ctx := context.Background()
	assert.NoError(t, queue.Drain(ctx, Records{{1}, {2}}))
	assert.ErrorIs(t, queue.Drain(ctx, Records{{3}}), ErrOverflow)
	assert.Equal(t, 2, queue.Len())
}

func TestRecordQueue_Close(t *testing.T) {
	queue := NewRecordQueue[Records](8)
	ctx := context.Background()
	assert.NoError(t, queue.Drain(ctx, Records{{1}}))
	assert.NoError(t, queue.Close())

	recs, err := queue.Feed(ctx)
	assert.NoError(t, err)
	assert.Equal(t, Records{{1}}, recs)

	_, err = queue.Feed(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, queue.Drain(ctx, Records{{2}}), ErrClosed)
}

func TestRecordQueue_FeedCancel(t *testing.T) {
	queue := NewRecordQueue[Records](8)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := queue.Feed(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, Clamp(5, 0, 3))
	assert.Equal(t, 0.5, Clamp(0.5, 0.0, 1.0))
	assert.Equal(t, time.Second, Clamp(0, time.Second, time.Minute))
}
