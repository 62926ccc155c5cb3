package session

import (
	"context"
	"fmt"
	"log/slog"
)

// RemoteProxySession delegates submissions to a session manager listening at
// a proxy IPC address, for deployments where the worker processes are
// launched and owned outside this process's lifetime. The manager fans each
// task out to its ranks; workers reply directly on the per-task reply
// subject, so collection is identical to the attached-group path.
type RemoteProxySession struct {
	broadcaster
}

func NewRemoteProxy(natsURL, proxyAddr string, nWorkers int) (*RemoteProxySession, error) {
	if proxyAddr == "" {
		return nil, fmt.Errorf("remote proxy session needs a proxy IPC address")
	}
	if nWorkers < 1 {
		return nil, fmt.Errorf("remote proxy session needs at least 1 worker, got %d", nWorkers)
	}
	slog.Info("Using remote proxy session", "proxy_addr", proxyAddr, "n_workers", nWorkers)
	return &RemoteProxySession{
		broadcaster: newBroadcaster(KindRemoteProxy.String(), natsURL, proxyAddr, nWorkers),
	}, nil
}

// ProxyAddr reports the address of the remote session manager.
func (s *RemoteProxySession) ProxyAddr() string {
	return s.subject
}

func (s *RemoteProxySession) Submit(ctx context.Context, task Task) ([]*Handle, error) {
	return s.submit(ctx, task)
}

func (s *RemoteProxySession) SubmitSync(ctx context.Context, task Task) ([]Result, error) {
	handles, err := s.submit(ctx, task)
	if err != nil {
		return nil, err
	}
	return resolveAll(ctx, handles)
}

func (s *RemoteProxySession) Shutdown() {
	s.stop()
}
