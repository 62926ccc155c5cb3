// Package session obtains and addresses the worker processes that execute
// inference tasks on behalf of the coordinator. All backends broadcast each
// submitted task to every worker; callers stay backend-agnostic.
package session

import (
	"context"
	"fmt"

	"github.com/aigoflow/executor-service/internal/config"
	"github.com/aigoflow/executor-service/internal/ipc"
)

// Session is the capability set shared by every backend.
type Session interface {
	// Submit broadcasts the task, returning one handle per worker.
	Submit(ctx context.Context, task Task) ([]*Handle, error)

	// SubmitSync broadcasts the task and blocks until every worker
	// resolves. If any worker fails it reports the first failure, but it
	// never leaves another worker's handle unresolved.
	SubmitSync(ctx context.Context, task Task) ([]Result, error)

	// Shutdown requests termination of all workers without waiting for
	// in-flight work to drain. Idempotent.
	Shutdown()
}

// Kind identifies a session backend variant.
type Kind int

const (
	KindRemoteProxy Kind = iota + 1
	KindAttachedGroup
	KindLocalPool
)

func (k Kind) String() string {
	switch k {
	case KindRemoteProxy:
		return "remote-proxy"
	case KindAttachedGroup:
		return "attached-group"
	case KindLocalPool:
		return "local-pool"
	default:
		return "unknown"
	}
}

// Select decides which backend New constructs, as a pure function of the
// resolved configuration. The remote-proxy flag without an address is a
// configuration error and must fail before any worker interaction.
func Select(cfg *config.Config) (Kind, error) {
	if cfg.SpawnProxy {
		if cfg.SpawnProxyAddr == "" {
			return 0, fmt.Errorf("%s is set but %s is empty",
				config.EnvSpawnProxy, config.EnvSpawnProxyAddr)
		}
		return KindRemoteProxy, nil
	}
	return KindAttachedGroup, nil
}

// New constructs the session backend selected by cfg. The local pool is not
// part of the environment-driven selection; use NewLocalPool directly for the
// single-node case.
func New(cfg *config.Config, addrs ipc.WorkerAddrs, nWorkers int) (Session, error) {
	kind, err := Select(cfg)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindRemoteProxy:
		return NewRemoteProxy(cfg.NatsURL, cfg.SpawnProxyAddr, nWorkers)
	default:
		return NewAttachedGroup(cfg.NatsURL, addrs, nWorkers)
	}
}
