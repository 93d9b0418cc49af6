package utils

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("[metasync] feed/drain queue is closed")
var ErrOverflow = errors.New("[metasync] feed/drain queue is overflowed")

// RecordQueue is the outbound hose of one connection: the replica drains
// into it without ever blocking, the connection writer feeds from it.
// A receiver that falls more than limit records behind gets ErrOverflow
// instead of stalling the broadcast to everybody else.
type RecordQueue[T ~[][]byte] struct {
	lock   sync.Mutex
	recs   T
	limit  int
	closed bool
	signal chan struct{}
}

func NewRecordQueue[T ~[][]byte](limit int) *RecordQueue[T] {
	return &RecordQueue[T]{
		limit:  limit,
		signal: make(chan struct{}, 1),
	}
}

func (q *RecordQueue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *RecordQueue[T]) Drain(ctx context.Context, recs T) error {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return ErrClosed
	}
	if len(q.recs)+len(recs) > q.limit {
		return ErrOverflow
	}
	q.recs = append(q.recs, recs...)
	q.wake()
	return nil
}

// Feed blocks until there is something to return, the queue is closed
// (records left behind are still returned first) or ctx is done.
func (q *RecordQueue[T]) Feed(ctx context.Context) (recs T, err error) {
	for {
		q.lock.Lock()
		if len(q.recs) > 0 {
			recs = q.recs
			q.recs = nil
			q.lock.Unlock()
			return recs, nil
		}
		closed := q.closed
		q.lock.Unlock()
		if closed {
			return nil, ErrClosed
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *RecordQueue[T]) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.recs)
}

func (q *RecordQueue[T]) Close() error {
	q.lock.Lock()
	q.closed = true
	q.lock.Unlock()
	q.wake()
	return nil
}
