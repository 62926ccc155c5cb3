package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/aigoflow/executor-service/internal/model"
)

// One result subject carries heterogeneous records, so every cross-process
// item travels inside a kind-tagged envelope.
const (
	kindResponse      = "response"
	kindErrorResponse = "error_response"
	kindStats         = "stats"
	kindKVEvent       = "kv_event"
)

type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func encodeEnvelope(item any) ([]byte, error) {
	var kind string
	switch item.(type) {
	case *model.Response:
		kind = kindResponse
	case *model.ErrorResponse:
		kind = kindErrorResponse
	case *model.WorkerStats:
		kind = kindStats
	case *model.KVCacheEvent:
		kind = kindKVEvent
	default:
		return nil, fmt.Errorf("ipc: unsupported item type %T", item)
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("ipc: failed to marshal %s: %w", kind, err)
	}
	return json.Marshal(envelope{Kind: kind, Payload: payload})
}

func decodeEnvelope(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("ipc: failed to unmarshal envelope: %w", err)
	}

	var item any
	switch env.Kind {
	case kindResponse:
		item = &model.Response{}
	case kindErrorResponse:
		item = &model.ErrorResponse{}
	case kindStats:
		item = &model.WorkerStats{}
	case kindKVEvent:
		item = &model.KVCacheEvent{}
	default:
		return nil, fmt.Errorf("ipc: unknown envelope kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Payload, item); err != nil {
		return nil, fmt.Errorf("ipc: failed to unmarshal %s payload: %w", env.Kind, err)
	}
	return item, nil
}
