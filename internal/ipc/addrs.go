package ipc

import (
	"fmt"
	"os"

	"github.com/oklog/ulid/v2"
)

// WorkerAddrs bundles the five channel addresses that define the contract
// between coordinator and worker. It is created once per worker-group
// startup, handed to each worker at spawn time, and never mutated; there is
// no shared registry besides this bundle.
type WorkerAddrs struct {
	Request       string `json:"request_addr"`
	RequestError  string `json:"request_error_addr"`
	Result        string `json:"result_addr"`
	Stats         string `json:"stats_addr"`
	KVCacheEvents string `json:"kv_cache_events_addr"`
}

// NewWorkerAddrs mints a fresh address set under prefix. A ULID group id
// keeps concurrent groups on the same transport from colliding.
func NewWorkerAddrs(prefix string) WorkerAddrs {
	return GroupWorkerAddrs(prefix, ulid.Make().String())
}

// GroupWorkerAddrs derives the address set for a known group id. An
// externally-launched group and the coordinator attaching to it compute the
// same set from the shared prefix and id, with no registry in between.
func GroupWorkerAddrs(prefix, gid string) WorkerAddrs {
	return WorkerAddrs{
		Request:       fmt.Sprintf("%s.request.%s", prefix, gid),
		RequestError:  fmt.Sprintf("%s.request-error.%s", prefix, gid),
		Result:        fmt.Sprintf("%s.result.%s", prefix, gid),
		Stats:         fmt.Sprintf("%s.stats.%s", prefix, gid),
		KVCacheEvents: fmt.Sprintf("%s.kv-events.%s", prefix, gid),
	}
}

// Validate fails if any address is empty. It runs before any worker is
// allowed to start.
func (a WorkerAddrs) Validate() error {
	for _, f := range []struct{ name, addr string }{
		{"request", a.Request},
		{"request_error", a.RequestError},
		{"result", a.Result},
		{"stats", a.Stats},
		{"kv_cache_events", a.KVCacheEvents},
	} {
		if f.addr == "" {
			return fmt.Errorf("worker addrs: %s address is empty", f.name)
		}
	}
	return nil
}

// Env variable names used to pass the address set to spawned workers.
const (
	EnvRequestAddr       = "WORKER_REQUEST_ADDR"
	EnvRequestErrorAddr  = "WORKER_REQUEST_ERROR_ADDR"
	EnvResultAddr        = "WORKER_RESULT_ADDR"
	EnvStatsAddr         = "WORKER_STATS_ADDR"
	EnvKVCacheEventsAddr = "WORKER_KV_CACHE_EVENTS_ADDR"
)

// Env renders the set as environment assignments for a spawned worker.
func (a WorkerAddrs) Env() []string {
	return []string{
		EnvRequestAddr + "=" + a.Request,
		EnvRequestErrorAddr + "=" + a.RequestError,
		EnvResultAddr + "=" + a.Result,
		EnvStatsAddr + "=" + a.Stats,
		EnvKVCacheEventsAddr + "=" + a.KVCacheEvents,
	}
}

// AddrsFromEnv reads the address set inside a spawned worker and validates
// it before the worker is allowed to serve.
func AddrsFromEnv() (WorkerAddrs, error) {
	a := WorkerAddrs{
		Request:       os.Getenv(EnvRequestAddr),
		RequestError:  os.Getenv(EnvRequestErrorAddr),
		Result:        os.Getenv(EnvResultAddr),
		Stats:         os.Getenv(EnvStatsAddr),
		KVCacheEvents: os.Getenv(EnvKVCacheEventsAddr),
	}
	if err := a.Validate(); err != nil {
		return WorkerAddrs{}, err
	}
	return a, nil
}
