package ipc

import (
	"strings"
	"testing"
	"time"

	"github.com/aigoflow/executor-service/internal/model"
)

func TestEnvelopePreservesErrorTier(t *testing.T) {
	fatal := &model.Response{
		ClientID: 7,
		Error:    model.FatalErr(errInjected{}),
	}
	data, err := encodeEnvelope(fatal)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resp, ok := decoded.(*model.Response)
	if !ok {
		t.Fatalf("Expected *model.Response, got %T", decoded)
	}
	if resp.Error == nil || !resp.Error.Fatal {
		t.Error("Fatal tag lost across the wire")
	}

	perRequest := &model.Response{ClientID: 7, Error: model.RequestErr("bad sampling params")}
	data, _ = encodeEnvelope(perRequest)
	decoded, _ = decodeEnvelope(data)
	if resp := decoded.(*model.Response); resp.Error.Fatal {
		t.Error("Request-scoped error decoded as fatal")
	}
}

func TestEnvelopeSharedMemoryLogits(t *testing.T) {
	resp := &model.Response{
		ClientID: 3,
		Tensors: &model.ResponseTensors{
			OutputTokenIDs:   [][]int32{{11, 12, 13}},
			GenerationLogits: model.SharedLogits("logits-seg-42"),
		},
		Timestamp: time.Now(),
	}
	data, err := encodeEnvelope(resp)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got := decoded.(*model.Response)
	if !got.Tensors.GenerationLogits.IsShared() {
		t.Error("Shared-memory reference lost")
	}
	if got.Tensors.GenerationLogits.SharedMemRef != "logits-seg-42" {
		t.Errorf("Wrong segment name: %q", got.Tensors.GenerationLogits.SharedMemRef)
	}
}

func TestEnvelopeErrorResponse(t *testing.T) {
	data, err := encodeEnvelope(&model.ErrorResponse{ClientID: 5, ErrorMsg: "oom", RequestID: 99})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	er, ok := decoded.(*model.ErrorResponse)
	if !ok {
		t.Fatalf("Expected *model.ErrorResponse, got %T", decoded)
	}
	if er.RequestID != 99 || er.ClientID != 5 {
		t.Errorf("Identity fields mangled: %+v", er)
	}
}

func TestEnvelopeRejectsUnknownKind(t *testing.T) {
	_, err := decodeEnvelope([]byte(`{"kind":"bogus","payload":{}}`))
	if err == nil {
		t.Fatal("Decoded an unknown envelope kind")
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Error("Error does not name the unknown kind")
	}
}

func TestEnvelopeRejectsUnsupportedType(t *testing.T) {
	if _, err := encodeEnvelope(42); err == nil {
		t.Error("Encoded an unsupported item type")
	}
}

type errInjected struct{}

func (errInjected) Error() string { return "engine crashed" }
