package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"

	"github.com/aigoflow/executor-service/internal/ipc"
	"github.com/aigoflow/executor-service/internal/model"
)

// RankServer is the worker-side counterpart of the NATS session backends:
// one rank of a group, serving task envelopes from the group's request
// address. Malformed or unknown submissions are rejected onto the
// request-error channel.
type RankServer struct {
	conn     *nats.Conn
	addrs    ipc.WorkerAddrs
	registry *Registry
	rank     int
	workerID string
	reqErrCh ipc.Channel
	resultCh ipc.Channel

	pendingCount int64 // atomic
	activeCount  int64 // atomic
}

func NewRankServer(conn *nats.Conn, addrs ipc.WorkerAddrs, registry *Registry, rank int) (*RankServer, error) {
	if err := addrs.Validate(); err != nil {
		return nil, err
	}
	reqErrCh, err := ipc.NewNatsChannel(conn, addrs.RequestError)
	if err != nil {
		return nil, fmt.Errorf("failed to open request-error channel: %w", err)
	}
	resultCh, err := ipc.NewNatsChannel(conn, addrs.Result)
	if err != nil {
		reqErrCh.Close()
		return nil, fmt.Errorf("failed to open result channel: %w", err)
	}
	return &RankServer{
		conn:     conn,
		addrs:    addrs,
		registry: registry,
		rank:     rank,
		workerID: fmt.Sprintf("worker-%d-%s", rank, ulid.Make().String()),
		reqErrCh: reqErrCh,
		resultCh: resultCh,
	}, nil
}

// WorkerID returns the rank's unique id.
func (s *RankServer) WorkerID() string {
	return s.workerID
}

// Results is the channel the engine pushes Response and ErrorResponse
// records through, one per generation step or failure. The coordinator's
// dispatch loop drains the other end.
func (s *RankServer) Results() ipc.Channel {
	return s.resultCh
}

// Serve blocks handling submissions until ctx is cancelled.
func (s *RankServer) Serve(ctx context.Context) error {
	msgs := make(chan *nats.Msg, 64)
	sub, err := s.conn.ChanSubscribe(s.addrs.Request, msgs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.addrs.Request, err)
	}
	defer sub.Unsubscribe()
	defer s.reqErrCh.Close()
	defer s.resultCh.Close()

	slog.Info("Worker rank serving", "worker_id", s.workerID, "rank", s.rank,
		"request_addr", s.addrs.Request)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker rank shutting down", "worker_id", s.workerID)
			return nil
		case msg := <-msgs:
			atomic.StoreInt64(&s.pendingCount, int64(len(msgs)))
			s.handle(ctx, msg)
		}
	}
}

// ReportStats publishes periodic load reports on the stats channel until ctx
// is cancelled. Run it alongside Serve.
func (s *RankServer) ReportStats(ctx context.Context, interval time.Duration) {
	statsCh, err := ipc.NewNatsChannel(s.conn, s.addrs.Stats)
	if err != nil {
		slog.Error("Failed to open stats channel", "worker_id", s.workerID, "error", err)
		return
	}
	defer statsCh.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep := &model.WorkerStats{
				WorkerID:  s.workerID,
				Pending:   atomic.LoadInt64(&s.pendingCount),
				Active:    atomic.LoadInt64(&s.activeCount),
				Timestamp: time.Now(),
			}
			if err := statsCh.Put(rep); err != nil {
				slog.Error("Failed to publish worker stats", "worker_id", s.workerID, "error", err)
			}
		}
	}
}

func (s *RankServer) handle(ctx context.Context, msg *nats.Msg) {
	atomic.AddInt64(&s.activeCount, 1)
	defer atomic.AddInt64(&s.activeCount, -1)

	var env taskEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		slog.Error("Failed to parse task envelope", "worker_id", s.workerID, "error", err)
		s.reject(0, fmt.Sprintf("malformed task envelope: %v", err))
		return
	}

	fn, ok := s.registry.lookup(env.Name)
	if !ok {
		slog.Error("Unknown task", "worker_id", s.workerID, "task", env.Name)
		s.reject(0, fmt.Sprintf("unknown task %q", env.Name))
		s.reply(env, nil, fmt.Errorf("unknown task %q", env.Name))
		return
	}

	payload, err := s.runRecovered(ctx, fn, env)
	s.reply(env, payload, err)
}

// runRecovered keeps a crashing task from killing the rank; the failure is
// reported to the coordinator like any other task error.
func (s *RankServer) runRecovered(ctx context.Context, fn TaskFunc, env taskEnvelope) (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Task crashed", "worker_id", s.workerID, "task", env.Name, "panic", r)
			err = fmt.Errorf("task %s crashed: %v", env.Name, r)
		}
	}()
	return fn(ctx, s.rank, env.Payload)
}

func (s *RankServer) reply(env taskEnvelope, payload []byte, err error) {
	if env.ReplyTo == "" {
		return
	}
	reply := taskReply{TaskID: env.TaskID, WorkerID: s.workerID, Payload: payload}
	if err != nil {
		reply.Error = err.Error()
	}
	data, marshalErr := json.Marshal(reply)
	if marshalErr != nil {
		slog.Error("Failed to marshal task reply", "worker_id", s.workerID, "error", marshalErr)
		return
	}
	if pubErr := s.conn.Publish(env.ReplyTo, data); pubErr != nil {
		slog.Error("Failed to publish task reply", "worker_id", s.workerID,
			"reply_subject", env.ReplyTo, "error", pubErr)
	}
}

func (s *RankServer) reject(clientID int64, msg string) {
	rejection := &model.ErrorResponse{ClientID: clientID, ErrorMsg: msg}
	if err := s.reqErrCh.Put(rejection); err != nil {
		slog.Error("Failed to publish request rejection", "worker_id", s.workerID, "error", err)
	}
}
