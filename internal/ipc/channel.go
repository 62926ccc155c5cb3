package ipc

import (
	"errors"
	"time"
)

var (
	// ErrTimeout reports that nothing arrived before the deadline.
	ErrTimeout = errors.New("ipc: receive timed out")
	// ErrClosed reports that the channel was closed. It is distinct from
	// ErrTimeout so a blocked receiver can tell "nothing yet" from "never
	// again".
	ErrClosed = errors.New("ipc: channel closed")
)

// Channel moves response, error and telemetry records between coordinator and
// workers. Implementations must accept concurrent Put from multiple
// producers; Get is consumed by a single drain loop.
type Channel interface {
	// Put enqueues an item. It does not block beyond transport
	// backpressure.
	Put(item any) error

	// Get blocks up to timeout for the oldest unconsumed item, FIFO.
	// A timeout <= 0 blocks indefinitely. Returns ErrTimeout when
	// nothing arrived and ErrClosed when the channel was closed.
	Get(timeout time.Duration) (any, error)

	// Poll reports whether an item is available without consuming it.
	// It never blocks past timeout.
	Poll(timeout time.Duration) (bool, error)

	// Close releases transport resources and unblocks pending Get calls
	// with ErrClosed. Idempotent.
	Close() error
}
