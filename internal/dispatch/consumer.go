package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/aigoflow/executor-service/internal/model"
)

// ErrDone reports that a consumer's stream ended normally.
var ErrDone = errors.New("dispatch: no further responses for this client")

// Consumer receives the response stream for one client id. Select-based
// callers read C(); callers without a select loop block on Recv. The choice
// is made once per call site.
type Consumer struct {
	clientID int64
	ch       chan *model.Response

	mu       sync.Mutex
	err      error
	finished map[int]bool
}

func newConsumer(clientID int64) *Consumer {
	return &Consumer{
		clientID: clientID,
		ch:       make(chan *model.Response, 64),
		finished: make(map[int]bool),
	}
}

func (c *Consumer) ClientID() int64 {
	return c.clientID
}

// C exposes the stream for select-based callers. The channel is closed when
// the stream terminates; check Err to distinguish fatal from normal end.
func (c *Consumer) C() <-chan *model.Response {
	return c.ch
}

// Recv blocks for the next response. It returns ErrDone after a normal end
// of stream, or the fatal error that terminated dispatch.
func (c *Consumer) Recv(ctx context.Context) (*model.Response, error) {
	select {
	case resp, ok := <-c.ch:
		if !ok {
			if err := c.Err(); err != nil {
				return nil, err
			}
			return nil, ErrDone
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err reports the fatal error that terminated the stream, if any.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SequenceDone reports whether the given sequence index has delivered its
// final response. Parallel sequences under one client id terminate
// independently.
func (c *Consumer) SequenceDone(sequenceIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished[sequenceIndex]
}

// deliver and fail are called only from the dispatch loop goroutine, so a
// send never races a close.
func (c *Consumer) deliver(resp *model.Response) {
	if resp.IsFinal {
		c.mu.Lock()
		c.finished[resp.SequenceIndex] = true
		c.mu.Unlock()
	}
	c.ch <- resp
}

func (c *Consumer) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.ch)
}

func (c *Consumer) finish() {
	close(c.ch)
}
