package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aigoflow/executor-service/internal/ipc"
)

// AttachedGroupSession binds to an already-running group of exactly nWorkers
// ranks, reachable on the group's request address. It spawns no processes;
// the group's lifetime is owned elsewhere.
type AttachedGroupSession struct {
	broadcaster
	addrs ipc.WorkerAddrs
}

func NewAttachedGroup(natsURL string, addrs ipc.WorkerAddrs, nWorkers int) (*AttachedGroupSession, error) {
	if err := addrs.Validate(); err != nil {
		return nil, err
	}
	if nWorkers < 1 {
		return nil, fmt.Errorf("attached group needs at least 1 worker, got %d", nWorkers)
	}
	slog.Info("Attaching to worker group", "request_addr", addrs.Request, "n_workers", nWorkers)
	return &AttachedGroupSession{
		broadcaster: newBroadcaster(KindAttachedGroup.String(), natsURL, addrs.Request, nWorkers),
		addrs:       addrs,
	}, nil
}

// Addrs exposes the address bundle the group was attached with.
func (s *AttachedGroupSession) Addrs() ipc.WorkerAddrs {
	return s.addrs
}

func (s *AttachedGroupSession) Submit(ctx context.Context, task Task) ([]*Handle, error) {
	return s.submit(ctx, task)
}

func (s *AttachedGroupSession) SubmitSync(ctx context.Context, task Task) ([]Result, error) {
	handles, err := s.submit(ctx, task)
	if err != nil {
		return nil, err
	}
	return resolveAll(ctx, handles)
}

func (s *AttachedGroupSession) Shutdown() {
	s.stop()
}
