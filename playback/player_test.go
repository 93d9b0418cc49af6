package playback

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snaps(from, to int) (ret [][]byte) {
	for i := from; i <= to; i++ {
		ret = append(ret, []byte(fmt.Sprintf("S%d", i)))
	}
	return
}

func TestBuffer_DropOldest(t *testing.T) {
	b := NewBuffer(6)
	assert.Equal(t, Empty, b.State())
	var evicted int
	for _, s := range snaps(1, 8) {
		if b.Enqueue(s) {
			evicted++
		}
		assert.LessOrEqual(t, b.Len(), b.Cap())
	}
	assert.Equal(t, 2, evicted)
	assert.True(t, b.Full())
	assert.Equal(t, Buffering, b.State())
	assert.Equal(t, snaps(3, 8), b.Entries())

	s, ok := b.Dequeue()
	require.True(t, ok)
	assert.Equal(t, []byte("S3"), s)
	assert.False(t, b.Full())
	assert.Equal(t, Draining, b.State())
	// more snapshots arriving do not restart buffering
	b.Enqueue([]byte("S9"))
	assert.Equal(t, Draining, b.State())
	for b.Len() > 0 {
		_, _ = b.Dequeue()
	}
	assert.Equal(t, Empty, b.State())
	b.Enqueue([]byte("S10"))
	assert.Equal(t, Buffering, b.State())

	b.Clear()
	assert.Equal(t, 0, b.Len())
	_, ok = b.Dequeue()
	assert.False(t, ok)
}

func TestBuffer_CopiesSnapshots(t *testing.T) {
	b := NewBuffer(2)
	snap := []byte("pose")
	b.Enqueue(snap)
	snap[0] = 'X'
	got, _ := b.Dequeue()
	assert.Equal(t, []byte("pose"), got)
}

func TestBuffer_Wraps(t *testing.T) {
	b := NewBuffer(3)
	for round := 0; round < 5; round++ {
		b.Enqueue([]byte{byte(round), 0})
		b.Enqueue([]byte{byte(round), 1})
		first, ok := b.Dequeue()
		require.True(t, ok)
		assert.Equal(t, byte(round), first[0])
		second, _ := b.Dequeue()
		assert.Equal(t, []byte{byte(round), 1}, second)
	}
	assert.Equal(t, Empty, b.State())
}

func TestPlayer_DequeueAndApply(t *testing.T) {
	var applied [][]byte
	var delays []time.Duration
	p, err := NewPlayer(Config{}, ApplierFunc(func(_ context.Context, snap []byte, delay time.Duration) error {
		applied = append(applied, snap)
		delays = append(delays, delay)
		return nil
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, p.Buffer().Cap())

	ctx := context.Background()
	ok, err := p.DequeueAndApply(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, s := range snaps(1, 8) {
		p.Enqueue(s)
	}
	ok, err = p.DequeueAndApply(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, snaps(3, 3), applied)
	assert.Equal(t, []time.Duration{DefaultDelay}, delays)
	assert.Equal(t, 5, p.Buffer().Len())

	p.Reset()
	ok, err = p.DequeueAndApply(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlayer_ApplyError(t *testing.T) {
	boom := errors.New("boom")
	p, err := NewPlayer(Config{Capacity: 2}, ApplierFunc(func(context.Context, []byte, time.Duration) error {
		return boom
	}), nil)
	require.NoError(t, err)
	p.Enqueue([]byte("a"))
	ok, err := p.DequeueAndApply(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestConfig_Validate(t *testing.T) {
	c := Config{Capacity: 6, TickInterval: 100 * time.Millisecond, LatencyBudget: 500 * time.Millisecond}
	assert.ErrorIs(t, c.Validate(), ErrLatencyBudget)
	c.LatencyBudget = 600 * time.Millisecond
	assert.NoError(t, c.Validate())
	c.TickInterval = 0
	c.Capacity = 100
	assert.NoError(t, c.Validate())

	assert.ErrorIs(t, (&Config{Capacity: -1}).Validate(), ErrBadCapacity)
	assert.ErrorIs(t, (&Config{Capacity: 1, Delay: -time.Second}).Validate(), ErrBadDelay)

	_, err := NewPlayer(Config{Capacity: 10, TickInterval: time.Second, LatencyBudget: time.Second}, nil, nil)
	assert.ErrorIs(t, err, ErrLatencyBudget)
}
