package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aigoflow/executor-service/internal/metrics"
)

// LocalPoolSession runs tasks on a pool of in-process workers for the
// single-accelerator case. Each submission is replicated to all nWorkers
// members, mirroring the attached-group broadcast semantics so callers are
// backend-agnostic. A crashing task is recovered and reported as that
// worker's error instead of taking the group down, which the group-attach
// path cannot guarantee when one rank dies.
type LocalPoolSession struct {
	nWorkers int
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	shutdown bool
}

func NewLocalPool(nWorkers int, registry *Registry) (*LocalPoolSession, error) {
	if nWorkers < 1 {
		return nil, fmt.Errorf("local pool needs at least 1 worker, got %d", nWorkers)
	}
	if registry == nil {
		return nil, fmt.Errorf("local pool needs a task registry")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalPoolSession{
		nWorkers: nWorkers,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (s *LocalPoolSession) Submit(ctx context.Context, task Task) ([]*Handle, error) {
	s.mu.Lock()
	shutdown := s.shutdown
	s.mu.Unlock()
	if shutdown {
		return nil, fmt.Errorf("local pool is shut down")
	}

	fn, ok := s.registry.lookup(task.Name)
	if !ok {
		return nil, fmt.Errorf("unknown task %q", task.Name)
	}

	handles := make([]*Handle, s.nWorkers)
	for rank := 0; rank < s.nWorkers; rank++ {
		h := newHandle()
		handles[rank] = h
		go s.run(ctx, h, fn, task, rank)
	}
	metrics.SubmitsTotal.WithLabelValues(KindLocalPool.String()).Inc()
	return handles, nil
}

func (s *LocalPoolSession) run(ctx context.Context, h *Handle, fn TaskFunc, task Task, rank int) {
	workerID := fmt.Sprintf("local-%d", rank)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Local worker crashed", "worker_id", workerID, "task", task.Name, "panic", r)
			h.resolve(Result{
				WorkerID: workerID,
				Err:      fmt.Errorf("worker %s crashed running %s: %v", workerID, task.Name, r),
			})
		}
	}()

	// Shutdown cancels the pool context so in-flight tasks stop without
	// the pool waiting on them.
	runCtx, stop := mergeCancel(ctx, s.ctx)
	defer stop()

	payload, err := fn(runCtx, rank, task.Payload)
	h.resolve(Result{WorkerID: workerID, Payload: payload, Err: err})
}

func (s *LocalPoolSession) SubmitSync(ctx context.Context, task Task) ([]Result, error) {
	handles, err := s.Submit(ctx, task)
	if err != nil {
		return nil, err
	}
	return resolveAll(ctx, handles)
}

func (s *LocalPoolSession) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shutdown {
		s.shutdown = true
		s.cancel()
	}
}

// mergeCancel derives a context cancelled when either parent is done.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stopCh := make(chan struct{})
	go func() {
		select {
		case <-b.Done():
			cancel()
		case <-ctx.Done():
		case <-stopCh:
		}
	}()
	return ctx, func() {
		close(stopCh)
		cancel()
	}
}
