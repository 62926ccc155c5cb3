package ipc

import (
	"sync"
	"time"
)

// Queue is the in-process Channel backend: a mutex-guarded FIFO with no
// serialization, valid only when producer and consumer share an address
// space. Concurrent Put is safe; Poll peeks without dequeuing, so concurrent
// pollers never observe an item as consumed.
type Queue struct {
	mu     sync.Mutex
	items  []any
	closed bool

	// signal carries at most one pending wakeup for the consumer.
	signal chan struct{}
	done   chan struct{}
}

// NewQueue creates an empty in-process queue.
func NewQueue() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *Queue) Put(item any) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) Get(timeout time.Duration) (any, error) {
	timeoutC, stop := deadline(timeout)
	defer stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-q.signal:
		case <-q.done:
		case <-timeoutC:
			return nil, ErrTimeout
		}
	}
}

func (q *Queue) Poll(timeout time.Duration) (bool, error) {
	timeoutC, stop := deadline(timeout)
	defer stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			q.mu.Unlock()
			// A peek must not starve the consumer's wakeup.
			select {
			case q.signal <- struct{}{}:
			default:
			}
			return true, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return false, ErrClosed
		}

		select {
		case <-q.signal:
		case <-q.done:
		case <-timeoutC:
			return false, nil
		}
	}
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// deadline returns a timer channel for timeout, or a nil channel (blocks
// forever) when timeout <= 0.
func deadline(timeout time.Duration) (<-chan time.Time, func()) {
	if timeout <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(timeout)
	return t.C, func() { t.Stop() }
}
