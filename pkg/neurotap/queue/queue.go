package queue

import (
	"context"
	"sync"

	"github.com/neurotap/neurotap/pkg/neurotap/block"
)

// DefaultCapacity matches the per-stage input queue depth used between
// acquisition and its consumers.
const DefaultCapacity = 20

// Bounded is a fixed-capacity FIFO connecting the acquisition thread to one
// downstream consumer. Enqueue never blocks: when the queue is full the
// incoming block is dropped and the overflow counter advances, because the
// producer must keep pace with the hardware.
type Bounded struct {
	mu        sync.Mutex
	items     []*block.AcquisitionBlock
	head      int
	count     int
	overflows uint64

	notify chan struct{}
}

// NewBounded creates a queue with the given capacity (DefaultCapacity when
// zero or negative).
func NewBounded(capacity int) *Bounded {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bounded{
		items:  make([]*block.AcquisitionBlock, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Cap returns the fixed capacity.
func (q *Bounded) Cap() int {
	return len(q.items)
}

// Len returns the number of queued blocks.
func (q *Bounded) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Overflows returns the total number of dropped blocks.
func (q *Bounded) Overflows() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflows
}

// TryPush enqueues b without blocking. It returns false when the queue is
// full; the block is dropped and counted as an overflow.
func (q *Bounded) TryPush(b *block.AcquisitionBlock) bool {
	q.mu.Lock()
	if q.count == len(q.items) {
		q.overflows++
		q.mu.Unlock()
		return false
	}
	q.items[(q.head+q.count)%len(q.items)] = b
	q.count++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// TryPop dequeues the oldest block, returning false when the queue is empty.
func (q *Bounded) TryPop() (*block.AcquisitionBlock, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil, false
	}
	b := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return b, true
}

// Flush discards all queued blocks.
func (q *Bounded) Flush() {
	q.mu.Lock()
	for i := range q.items {
		q.items[i] = nil
	}
	q.head = 0
	q.count = 0
	q.mu.Unlock()
}

// Pop blocks until a block is available or the context is done.
func (q *Bounded) Pop(ctx context.Context) (*block.AcquisitionBlock, error) {
	for {
		if b, ok := q.TryPop(); ok {
			return b, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}
