package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// FinishReason enumerates why a generated sequence stopped.
type FinishReason string

const (
	FinishNotFinished FinishReason = "not_finished"
	FinishEndID       FinishReason = "end_id"
	FinishStopWords   FinishReason = "stop_words"
	FinishMaxTokens   FinishReason = "max_tokens"
	FinishTimedOut    FinishReason = "timed_out"
	FinishCancelled   FinishReason = "cancelled"
)

// Logits carries logit values either inline or as the name of a shared-memory
// segment holding them. Large payloads go by reference so they are not
// serialized a second time when crossing the process boundary. Exactly one of
// the two fields is set; the zero value means logits were not requested.
type Logits struct {
	Values       [][]float32 `json:"values,omitempty"`
	SharedMemRef string      `json:"shm,omitempty"`
}

// InlineLogits wraps in-memory logit values.
func InlineLogits(values [][]float32) *Logits {
	return &Logits{Values: values}
}

// SharedLogits references a shared-memory segment by name.
func SharedLogits(ref string) *Logits {
	return &Logits{SharedMemRef: ref}
}

// IsShared reports whether the logits live in a shared-memory segment.
func (l *Logits) IsShared() bool {
	return l != nil && l.SharedMemRef != ""
}

// ResponseTensors is the per-step output of one generation step. The
// coordinator only carries these values; it never interprets them.
type ResponseTensors struct {
	OutputTokenIDs   [][]int32   `json:"output_token_ids"`
	ContextLogits    *Logits     `json:"context_logits,omitempty"`
	GenerationLogits *Logits     `json:"generation_logits,omitempty"`
	LogProbs         [][]float64 `json:"log_probs,omitempty"`
	CumLogProbs      []float64   `json:"cum_log_probs,omitempty"`
}

// ResponseError is the error payload of a Response. A request-scoped error
// carries only a message and is delivered to that request's consumer; a fatal
// error invalidates the whole session and stops the dispatch loop. The tag
// travels with the message so the tier survives serialization.
type ResponseError struct {
	Msg   string `json:"msg"`
	Fatal bool   `json:"fatal,omitempty"`
}

// RequestErr builds an error scoped to a single request.
func RequestErr(msg string) *ResponseError {
	return &ResponseError{Msg: msg}
}

// FatalErr builds a service-fatal error from an underlying cause.
func FatalErr(err error) *ResponseError {
	return &ResponseError{Msg: err.Error(), Fatal: true}
}

func (e *ResponseError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("fatal: %s", e.Msg)
	}
	return e.Msg
}

// Response is one message flowing from a worker to the coordinator for one
// client request. ClientID identifies the logical request stream, not the
// transport connection. Timestamp is set by the producing worker and is used
// only to measure transport latency, never for ordering.
type Response struct {
	ClientID      int64            `json:"client_id"`
	Tensors       *ResponseTensors `json:"tensors,omitempty"`
	FinishReasons []FinishReason   `json:"finish_reasons,omitempty"`
	IsFinal       bool             `json:"is_final,omitempty"`
	SequenceIndex int              `json:"sequence_index,omitempty"`
	Error         *ResponseError   `json:"error,omitempty"`
	Timestamp     time.Time        `json:"ts,omitempty"`

	// DisaggregatedParams is threaded through unmodified for disaggregated
	// serving; the coordinator never inspects its contents.
	DisaggregatedParams json.RawMessage `json:"disaggregated_params,omitempty"`
}

// ErrorResponse is a standalone per-request failure record. RequestID is
// assigned by the engine and may differ from ClientID.
type ErrorResponse struct {
	ClientID  int64  `json:"client_id"`
	ErrorMsg  string `json:"error_msg"`
	RequestID int64  `json:"request_id"`
}

// WorkerStats is a periodic load report published by a worker on the stats
// channel.
type WorkerStats struct {
	WorkerID  string    `json:"worker_id"`
	Pending   int64     `json:"pending"`
	Active    int64     `json:"active"`
	IterDurMs float64   `json:"iter_dur_ms,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// KVCacheEvent notifies the coordinator of a cache-state change on a worker.
// Data is engine-defined and passed through opaquely.
type KVCacheEvent struct {
	WorkerID string          `json:"worker_id"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
}
