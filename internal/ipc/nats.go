package ipc

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsChannel is the cross-process Channel backend, addressed by a NATS
// subject. Items are serialized into kind-tagged JSON envelopes on Put and
// decoded on Get. NATS preserves publish order per subject, which gives the
// per-client ordering guarantee for any single worker.
type NatsChannel struct {
	conn     *nats.Conn
	ownsConn bool
	subject  string

	mu      sync.Mutex
	sub     *nats.Subscription // created on first Get/Poll; a pure producer never subscribes
	msgs    chan *nats.Msg
	pending any // decoded item observed by Poll but not yet consumed
	closed  bool
	done    chan struct{}
}

// DialNats connects to a NATS server and opens a channel on subject. The
// returned channel owns the connection and closes it on Close.
func DialNats(url, subject string) (*NatsChannel, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	ch, err := NewNatsChannel(conn, subject)
	if err != nil {
		conn.Close()
		return nil, err
	}
	ch.ownsConn = true
	return ch, nil
}

// NewNatsChannel opens a channel on subject over an existing connection.
func NewNatsChannel(conn *nats.Conn, subject string) (*NatsChannel, error) {
	if subject == "" {
		return nil, fmt.Errorf("ipc: empty channel address")
	}
	return &NatsChannel{
		conn:    conn,
		subject: subject,
		msgs:    make(chan *nats.Msg, 256),
		done:    make(chan struct{}),
	}, nil
}

// ensureSub creates the consumer-side subscription on first use so a pure
// producer never accumulates its own traffic.
func (c *NatsChannel) ensureSub() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.sub != nil {
		return nil
	}
	sub, err := c.conn.ChanSubscribe(c.subject, c.msgs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.subject, err)
	}
	c.sub = sub
	return nil
}

func (c *NatsChannel) Put(item any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := encodeEnvelope(item)
	if err != nil {
		return err
	}
	if err := c.conn.Publish(c.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", c.subject, err)
	}
	return nil
}

func (c *NatsChannel) Get(timeout time.Duration) (any, error) {
	if err := c.ensureSub(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.pending != nil {
		item := c.pending
		c.pending = nil
		c.mu.Unlock()
		return item, nil
	}
	c.mu.Unlock()

	timeoutC, stop := deadline(timeout)
	defer stop()

	select {
	case msg := <-c.msgs:
		return decodeEnvelope(msg.Data)
	case <-c.done:
		return nil, ErrClosed
	case <-timeoutC:
		return nil, ErrTimeout
	}
}

// Poll stashes the next decoded item so a later Get still observes it.
func (c *NatsChannel) Poll(timeout time.Duration) (bool, error) {
	if err := c.ensureSub(); err != nil {
		return false, err
	}

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()

	timeoutC, stop := deadline(timeout)
	defer stop()

	select {
	case msg := <-c.msgs:
		item, err := decodeEnvelope(msg.Data)
		if err != nil {
			return false, err
		}
		c.mu.Lock()
		c.pending = item
		c.mu.Unlock()
		return true, nil
	case <-c.done:
		return false, ErrClosed
	case <-timeoutC:
		return false, nil
	}
}

func (c *NatsChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	sub := c.sub
	c.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil && !c.conn.IsClosed() {
			return fmt.Errorf("failed to unsubscribe from %s: %w", c.subject, err)
		}
	}
	if c.ownsConn {
		c.conn.Close()
	}
	return nil
}
