// Package playback delays and smooths streamed snapshots on the
// receiving side. Snapshots are queued in a small ring that drops the
// oldest entry when full and are applied one per render tick, each with
// a playback delay for the interpolator.
package playback

import "bytes"

// State goes Empty → Buffering → Draining → Empty. Buffering lasts from
// the first snapshot until the first one is taken out; from then on the
// buffer is Draining until it runs dry.
type State int

const (
	Empty State = iota
	Buffering
	Draining
)

func (s State) String() string {
	return []string{"empty", "buffering", "draining"}[s]
}

// Buffer is a fixed-size FIFO of snapshots. It belongs to one consumer
// and is not safe for concurrent use.
type Buffer struct {
	data     [][]byte
	head     int
	count    int
	draining bool
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([][]byte, capacity)}
}

// Enqueue appends a copy of the snapshot. When the buffer is full the
// oldest entry is dropped first; evicted reports that.
func (b *Buffer) Enqueue(snapshot []byte) (evicted bool) {
	if b.count == len(b.data) {
		b.data[b.head] = nil
		b.head = (b.head + 1) % len(b.data)
		b.count--
		evicted = true
	}
	tail := (b.head + b.count) % len(b.data)
	b.data[tail] = bytes.Clone(snapshot)
	b.count++
	return
}

// Dequeue pops the oldest snapshot.
func (b *Buffer) Dequeue() ([]byte, bool) {
	if b.count == 0 {
		return nil, false
	}
	snap := b.data[b.head]
	b.data[b.head] = nil
	b.head = (b.head + 1) % len(b.data)
	b.count--
	b.draining = b.count > 0
	return snap, true
}

func (b *Buffer) Len() int {
	return b.count
}

func (b *Buffer) Cap() int {
	return len(b.data)
}

// Entries lists the queued snapshots oldest first, without copying.
func (b *Buffer) Entries() [][]byte {
	ret := make([][]byte, b.count)
	for i := range ret {
		ret[i] = b.data[(b.head+i)%len(b.data)]
	}
	return ret
}

func (b *Buffer) Clear() {
	for i := range b.data {
		b.data[i] = nil
	}
	b.head, b.count = 0, 0
	b.draining = false
}

func (b *Buffer) State() State {
	switch {
	case b.count == 0:
		return Empty
	case b.draining:
		return Draining
	default:
		return Buffering
	}
}

// Full tells whether the next Enqueue drops the oldest snapshot.
func (b *Buffer) Full() bool {
	return b.count == len(b.data)
}
