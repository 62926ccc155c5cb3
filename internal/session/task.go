package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Task is one unit of work broadcast to every worker in a session. Name
// selects a registered task function; Payload is opaque to the session.
type Task struct {
	ID      string `json:"task_id"`
	Name    string `json:"name"`
	Payload []byte `json:"payload,omitempty"`
}

// NewTask builds a task with a fresh ULID id.
func NewTask(name string, payload []byte) Task {
	return Task{ID: ulid.Make().String(), Name: name, Payload: payload}
}

// TaskFunc is the executable body of a task on one worker. rank identifies
// the worker within its group.
type TaskFunc func(ctx context.Context, rank int, payload []byte) ([]byte, error)

// Registry maps task names to functions. Workers and the local pool consult
// it when a task envelope arrives.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]TaskFunc
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]TaskFunc)}
}

func (r *Registry) Register(name string, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

func (r *Registry) lookup(name string) (TaskFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Result is one worker's outcome for one submitted task.
type Result struct {
	WorkerID string
	Payload  []byte
	Err      error
}

// Handle is a future for one worker's Result.
type Handle struct {
	once sync.Once
	done chan struct{}
	res  Result
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) resolve(res Result) {
	h.once.Do(func() {
		h.res = res
		close(h.done)
	})
}

// Wait blocks until the worker's result arrives or ctx is done. The task's
// own failure, if any, is returned as the error alongside the result.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.res, h.res.Err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("waiting for worker result: %w", ctx.Err())
	}
}

// resolveAll waits on every handle, never leaving one unresolved, and
// reports the first failure it saw.
func resolveAll(ctx context.Context, handles []*Handle) ([]Result, error) {
	results := make([]Result, 0, len(handles))
	var firstErr error
	for _, h := range handles {
		res, err := h.Wait(ctx)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		results = append(results, res)
	}
	return results, firstErr
}
