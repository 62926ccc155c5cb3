// Package dispatch drains the result channel and routes each record to the
// consumer registered for its client id, separating per-request errors, which
// touch one consumer, from service-fatal errors, which touch them all.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aigoflow/executor-service/internal/ipc"
	"github.com/aigoflow/executor-service/internal/metrics"
	"github.com/aigoflow/executor-service/internal/model"
)

// Dispatcher owns the background drain loop over the result channel.
type Dispatcher struct {
	ch ipc.Channel

	// interval > 0 makes the loop re-check the channel periodically
	// instead of blocking until the next item. Only cadence changes;
	// correctness does not depend on it.
	interval time.Duration

	mu        sync.Mutex
	consumers map[int64]*Consumer
	stopping  bool
	fatalErr  error

	stopOnce sync.Once
	done     chan struct{}
}

func NewDispatcher(ch ipc.Channel, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		ch:        ch,
		interval:  interval,
		consumers: make(map[int64]*Consumer),
		done:      make(chan struct{}),
	}
}

// Start launches the drain loop.
func (d *Dispatcher) Start() {
	go d.loop()
}

// Register creates the consumer for a client id. It fails once the
// dispatcher has stopped accepting work.
func (d *Dispatcher) Register(clientID int64) (*Consumer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopping {
		if d.fatalErr != nil {
			return nil, d.fatalErr
		}
		return nil, fmt.Errorf("dispatcher is stopped")
	}
	if _, ok := d.consumers[clientID]; ok {
		return nil, fmt.Errorf("client %d is already registered", clientID)
	}
	c := newConsumer(clientID)
	d.consumers[clientID] = c
	metrics.ActiveConsumers.Inc()
	return c, nil
}

// Unregister removes a client's consumer. Callers unregister after they have
// observed the finals they expect; the consumer's channel is not closed here
// because the loop may still be delivering.
func (d *Dispatcher) Unregister(clientID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.consumers[clientID]; ok {
		delete(d.consumers, clientID)
		metrics.ActiveConsumers.Dec()
	}
}

// Done is closed when the drain loop has terminated.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Err reports the fatal error that halted dispatch, if any.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatalErr
}

// Stop shuts the loop down gracefully: remaining consumers observe a normal
// end of stream, not an error.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopping = true
		d.mu.Unlock()
		d.ch.Close()
	})
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	slog.Info("Dispatch loop starting", "interval", d.interval)

	for {
		item, err := d.ch.Get(d.interval)
		if err != nil {
			if ClassifyReadErr(err) == TierNone {
				continue
			}
			if errors.Is(err, ipc.ErrClosed) && d.isStopping() {
				d.finishAll()
				slog.Info("Dispatch loop stopped")
				return
			}
			// The transport itself failed; nothing more can arrive.
			d.fatal(&FatalError{Cause: err})
			return
		}

		switch v := item.(type) {
		case *model.ErrorResponse:
			metrics.ResponsesTotal.WithLabelValues("error_response").Inc()
			slog.Debug("Routing request error", "client_id", v.ClientID,
				"request_id", v.RequestID, "error", v.ErrorMsg)
			d.route(&model.Response{
				ClientID: v.ClientID,
				Error:    model.RequestErr(v.ErrorMsg),
			})

		case *model.Response:
			metrics.ResponsesTotal.WithLabelValues("response").Inc()
			if Classify(v) == TierFatal {
				d.fatal(&FatalError{Cause: v.Error})
				return
			}
			if !v.Timestamp.IsZero() {
				metrics.TransportLatency.Observe(time.Since(v.Timestamp).Seconds())
			}
			d.route(v)

		default:
			slog.Warn("Unexpected record on result channel", "type", fmt.Sprintf("%T", item))
		}
	}
}

func (d *Dispatcher) route(resp *model.Response) {
	d.mu.Lock()
	c, ok := d.consumers[resp.ClientID]
	d.mu.Unlock()
	if !ok {
		slog.Warn("No consumer for response", "client_id", resp.ClientID)
		return
	}
	if resp.Error != nil {
		metrics.RequestErrorsTotal.Inc()
	}
	c.deliver(resp)
}

func (d *Dispatcher) isStopping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopping
}

// fatal stops accepting work and propagates err to every outstanding
// consumer before terminating the loop. Partial recovery is not attempted.
func (d *Dispatcher) fatal(err *FatalError) {
	metrics.FatalErrorsTotal.Inc()
	slog.Error("Fatal error, halting dispatch", "error", err)

	d.mu.Lock()
	d.stopping = true
	d.fatalErr = err
	outstanding := d.consumers
	d.consumers = make(map[int64]*Consumer)
	d.mu.Unlock()

	for _, c := range outstanding {
		c.fail(err)
		metrics.ActiveConsumers.Dec()
	}
	d.ch.Close()
}

func (d *Dispatcher) finishAll() {
	d.mu.Lock()
	outstanding := d.consumers
	d.consumers = make(map[int64]*Consumer)
	d.mu.Unlock()

	for _, c := range outstanding {
		c.finish()
		metrics.ActiveConsumers.Dec()
	}
}
