package session

import (
	"context"
	"sync"
	"time"
)

// byteQueue is an unbounded FIFO of notification payloads. Put never blocks,
// so transport callbacks can hand data off without stalling the BLE stack.
type byteQueue struct {
	mu     sync.Mutex
	items  [][]byte
	signal chan struct{}
}

func newByteQueue() *byteQueue {
	return &byteQueue{signal: make(chan struct{}, 1)}
}

// Put appends data.
func (q *byteQueue) Put(data []byte) {
	q.mu.Lock()
	q.items = append(q.items, data)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Next waits for the oldest payload. A timeout <= 0 waits until ctx is done.
// It returns ErrChunkTimeout when the timeout elapses first.
func (q *byteQueue) Next(ctx context.Context, timeout time.Duration) ([]byte, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			data := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return data, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-expired:
			return nil, ErrChunkTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Reset discards everything queued and returns how many payloads were dropped.
func (q *byteQueue) Reset() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Len returns the number of queued payloads.
func (q *byteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
