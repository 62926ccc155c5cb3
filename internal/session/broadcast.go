package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/executor-service/internal/metrics"
)

// taskEnvelope is the wire form of one broadcast submission.
type taskEnvelope struct {
	TaskID   string `json:"task_id"`
	Name     string `json:"name"`
	Payload  []byte `json:"payload,omitempty"`
	ReplyTo  string `json:"reply_to"`
	NWorkers int    `json:"n_workers"`
}

// taskReply is one worker's answer to a taskEnvelope.
type taskReply struct {
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id"`
	Payload  []byte `json:"payload,omitempty"`
	Error    string `json:"error,omitempty"`
}

// broadcaster is the NATS submit path shared by the attached-group and
// remote-proxy backends: publish one task envelope, collect one reply per
// worker on a per-task reply subject.
type broadcaster struct {
	backend  string
	natsURL  string
	subject  string
	nWorkers int

	mu       sync.Mutex
	conn     *nats.Conn
	shutdown bool
	done     chan struct{}
}

func newBroadcaster(backend, natsURL, subject string, nWorkers int) broadcaster {
	return broadcaster{
		backend:  backend,
		natsURL:  natsURL,
		subject:  subject,
		nWorkers: nWorkers,
		done:     make(chan struct{}),
	}
}

// ensureConn dials lazily so constructing a session never touches the
// network; configuration errors are caught earlier, at selection time.
func (b *broadcaster) ensureConn() (*nats.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return nil, fmt.Errorf("session is shut down")
	}
	if b.conn != nil {
		return b.conn, nil
	}
	conn, err := nats.Connect(b.natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	b.conn = conn
	return conn, nil
}

func (b *broadcaster) submit(ctx context.Context, task Task) ([]*Handle, error) {
	conn, err := b.ensureConn()
	if err != nil {
		return nil, err
	}
	if task.ID == "" {
		task = NewTask(task.Name, task.Payload)
	}

	replySubject := fmt.Sprintf("%s.reply.%s", b.subject, task.ID)
	handles := make([]*Handle, b.nWorkers)
	for i := range handles {
		handles[i] = newHandle()
	}

	// Subscribe to the reply subject before publishing so no reply can be
	// lost to the race.
	var next int
	var resolveMu sync.Mutex
	allDone := make(chan struct{})
	sub, err := conn.Subscribe(replySubject, func(msg *nats.Msg) {
		var reply taskReply
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			slog.Error("Failed to parse task reply", "task_id", task.ID, "error", err)
			return
		}
		res := Result{WorkerID: reply.WorkerID, Payload: reply.Payload}
		if reply.Error != "" {
			res.Err = fmt.Errorf("worker %s: %s", reply.WorkerID, reply.Error)
		}

		resolveMu.Lock()
		defer resolveMu.Unlock()
		if next >= len(handles) {
			slog.Warn("Dropping extra task reply", "task_id", task.ID, "worker_id", reply.WorkerID)
			return
		}
		handles[next].resolve(res)
		next++
		if next == len(handles) {
			close(allDone)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to reply subject: %w", err)
	}

	env := taskEnvelope{
		TaskID:   task.ID,
		Name:     task.Name,
		Payload:  task.Payload,
		ReplyTo:  replySubject,
		NWorkers: b.nWorkers,
	}
	data, err := json.Marshal(env)
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to marshal task envelope: %w", err)
	}
	if err := conn.Publish(b.subject, data); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to publish task to %s: %w", b.subject, err)
	}

	// Reap the subscription and resolve leftovers on shutdown so no
	// handle is ever leaked.
	go func() {
		select {
		case <-allDone:
		case <-b.done:
			for _, h := range handles {
				h.resolve(Result{Err: fmt.Errorf("session shut down before worker replied")})
			}
		}
		sub.Unsubscribe()
	}()

	metrics.SubmitsTotal.WithLabelValues(b.backend).Inc()
	slog.Debug("Broadcast task", "task_id", task.ID, "name", task.Name,
		"subject", b.subject, "n_workers", b.nWorkers)
	return handles, nil
}

func (b *broadcaster) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return
	}
	b.shutdown = true
	close(b.done)
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}
