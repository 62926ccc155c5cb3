// Package stats drains the worker telemetry channels: load reports go into
// sqlite, cache events go to a registered listener.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aigoflow/executor-service/internal/ipc"
	"github.com/aigoflow/executor-service/internal/model"
)

// Sink drains the stats channel into the database and logs a periodic
// summary of the most loaded worker.
type Sink struct {
	db       *DB
	ch       ipc.Channel
	interval time.Duration
}

func NewSink(db *DB, ch ipc.Channel) *Sink {
	return &Sink{db: db, ch: ch, interval: time.Second}
}

// Run blocks until ctx is cancelled or the channel closes.
func (s *Sink) Run(ctx context.Context) {
	var maxPending int64
	lastSummary := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}
		item, err := s.ch.Get(s.interval)
		if errors.Is(err, ipc.ErrTimeout) {
			continue
		}
		if errors.Is(err, ipc.ErrClosed) {
			return
		}
		if err != nil {
			slog.Error("Failed to read stats channel", "error", err)
			continue
		}

		rep, ok := item.(*model.WorkerStats)
		if !ok {
			slog.Warn("Unexpected record on stats channel", "type", fmt.Sprintf("%T", item))
			continue
		}
		if err := s.db.Record(rep); err != nil {
			slog.Error("Failed to record worker stats", "worker_id", rep.WorkerID, "error", err)
		}

		if rep.Pending > maxPending {
			maxPending = rep.Pending
		}
		if time.Since(lastSummary) >= 10*time.Second {
			slog.Info("Worker load summary", "max_pending", maxPending)
			maxPending = 0
			lastSummary = time.Now()
		}
	}
}

// ForwardKVEvents drains the cache-event channel, invoking fn per event. A
// nil fn logs the event and drops it.
func ForwardKVEvents(ctx context.Context, ch ipc.Channel, fn func(*model.KVCacheEvent)) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := ch.Get(time.Second)
		if errors.Is(err, ipc.ErrTimeout) {
			continue
		}
		if err != nil {
			if !errors.Is(err, ipc.ErrClosed) {
				slog.Error("Failed to read KV cache events channel", "error", err)
			}
			return
		}

		ev, ok := item.(*model.KVCacheEvent)
		if !ok {
			slog.Warn("Unexpected record on KV cache events channel", "type", fmt.Sprintf("%T", item))
			continue
		}
		if fn != nil {
			fn(ev)
			continue
		}
		slog.Debug("KV cache event", "worker_id", ev.WorkerID, "event", ev.Event)
	}
}
