package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aigoflow/executor-service/internal/ipc"
	"github.com/aigoflow/executor-service/internal/model"
)

func startDispatcher(t *testing.T) (*Dispatcher, *ipc.Queue) {
	t.Helper()
	q := ipc.NewQueue()
	d := NewDispatcher(q, 50*time.Millisecond)
	d.Start()
	return d, q
}

func recvOne(t *testing.T, c *Consumer) *model.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	return resp
}

func TestRequestErrorReachesOnlyItsClient(t *testing.T) {
	d, q := startDispatcher(t)
	defer d.Stop()

	c7, err := d.Register(7)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	c8, err := d.Register(8)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	q.Put(&model.Response{ClientID: 7, Error: model.RequestErr("bad params")})

	resp := recvOne(t, c7)
	if resp.Error == nil || resp.Error.Msg != "bad params" {
		t.Errorf("Client 7 did not get its error: %+v", resp)
	}
	if resp.Error.Fatal {
		t.Error("Request-scoped error classified as fatal")
	}

	// The loop keeps running and other clients are untouched.
	q.Put(&model.Response{ClientID: 8, IsFinal: true})
	resp = recvOne(t, c8)
	if resp.ClientID != 8 || !resp.IsFinal {
		t.Errorf("Client 8's stream was disturbed: %+v", resp)
	}

	select {
	case <-c8.C():
		t.Error("Client 8 received a stray delivery")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestErrorResponseRouting(t *testing.T) {
	d, q := startDispatcher(t)
	defer d.Stop()

	c, err := d.Register(7)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	q.Put(&model.ErrorResponse{ClientID: 7, ErrorMsg: "request rejected", RequestID: 41})

	resp := recvOne(t, c)
	if resp.Error == nil || resp.Error.Msg != "request rejected" {
		t.Errorf("ErrorResponse not delivered as a per-request error: %+v", resp)
	}
	reqErr := AsRequestError(resp)
	if reqErr == nil || reqErr.ClientID != 7 {
		t.Errorf("AsRequestError = %v, expected client 7's error", reqErr)
	}
	if d.Err() != nil {
		t.Error("Per-request failure halted dispatch")
	}
}

func TestFatalErrorPropagatesToAllConsumers(t *testing.T) {
	d, q := startDispatcher(t)

	c7, _ := d.Register(7)
	c8, _ := d.Register(8)

	q.Put(&model.Response{ClientID: 7, Error: model.FatalErr(errors.New("executor process died"))})

	for _, c := range []*Consumer{c7, c8} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := c.Recv(ctx)
		cancel()
		var fatal *FatalError
		if !errors.As(err, &fatal) {
			t.Fatalf("Client %d got %v, expected a FatalError", c.ClientID(), err)
		}
	}

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch loop did not terminate after a fatal error")
	}

	if _, err := d.Register(9); err == nil {
		t.Error("Dispatcher accepted new work after a fatal error")
	}
}

func TestChannelFailureIsFatal(t *testing.T) {
	d, q := startDispatcher(t)

	c, _ := d.Register(7)

	// Closing the channel without a requested stop means the transport
	// died: consumers must see a fatal error, not a silent end.
	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Recv(ctx)
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Expected a FatalError after transport loss, got %v", err)
	}
	if !errors.Is(err, ipc.ErrClosed) {
		t.Error("Fatal error does not carry the transport cause")
	}
}

func TestPerSequenceFinality(t *testing.T) {
	d, q := startDispatcher(t)
	defer d.Stop()

	c, _ := d.Register(7)

	q.Put(&model.Response{ClientID: 7, SequenceIndex: 0, IsFinal: false})
	q.Put(&model.Response{ClientID: 7, SequenceIndex: 1, IsFinal: true})
	q.Put(&model.Response{ClientID: 7, SequenceIndex: 0, IsFinal: true})

	var finals int
	for i := 0; i < 3; i++ {
		resp := recvOne(t, c)
		if resp.IsFinal {
			finals++
			if !c.SequenceDone(resp.SequenceIndex) {
				t.Errorf("Sequence %d final not recorded", resp.SequenceIndex)
			}
		}
	}
	// Each sequence terminates independently, not in one combined final.
	if finals != 2 {
		t.Errorf("Expected 2 independent finals, saw %d", finals)
	}
	if !c.SequenceDone(0) || !c.SequenceDone(1) {
		t.Error("Sequence termination state incomplete")
	}
}

// Two workers feed the same result channel; client 7's consumer must see
// exactly its own two deliveries, the second flagged final, with the other
// worker's unrelated client never interleaved.
func TestTwoWorkerDeliveryIsolation(t *testing.T) {
	d, q := startDispatcher(t)
	defer d.Stop()

	c7, _ := d.Register(7)
	c9, _ := d.Register(9)

	step := func(clientID int64, step int32, final bool) *model.Response {
		return &model.Response{
			ClientID: clientID,
			Tensors:  &model.ResponseTensors{OutputTokenIDs: [][]int32{{step}}},
			IsFinal:  final,
		}
	}
	q.Put(step(7, 1, false))
	q.Put(step(9, 100, false))
	q.Put(step(7, 2, true))
	q.Put(step(9, 101, true))

	first := recvOne(t, c7)
	second := recvOne(t, c7)
	if first.IsFinal || !second.IsFinal {
		t.Errorf("Finality out of order: %v then %v", first.IsFinal, second.IsFinal)
	}
	if first.Tensors.OutputTokenIDs[0][0] != 1 || second.Tensors.OutputTokenIDs[0][0] != 2 {
		t.Error("Client 7 observed foreign or reordered responses")
	}

	for i := 0; i < 2; i++ {
		resp := recvOne(t, c9)
		if resp.ClientID != 9 {
			t.Errorf("Client 9 received client %d's response", resp.ClientID)
		}
	}
}

func TestGracefulStopEndsStreams(t *testing.T) {
	d, _ := startDispatcher(t)
	c, _ := d.Register(7)

	d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Recv(ctx)
	if !errors.Is(err, ErrDone) {
		t.Errorf("Expected ErrDone after a requested stop, got %v", err)
	}
	if d.Err() != nil {
		t.Errorf("Graceful stop recorded a fatal error: %v", d.Err())
	}
}

func TestDuplicateRegistration(t *testing.T) {
	d, _ := startDispatcher(t)
	defer d.Stop()

	if _, err := d.Register(7); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := d.Register(7); err == nil {
		t.Error("Registered the same client twice")
	}
	d.Unregister(7)
	if _, err := d.Register(7); err != nil {
		t.Errorf("Re-registration after Unregister failed: %v", err)
	}
}

func TestTransportLatencyTolerance(t *testing.T) {
	d, q := startDispatcher(t)
	defer d.Stop()

	c, _ := d.Register(7)
	// Timestamp is telemetry only; an old timestamp must not affect
	// delivery or ordering.
	q.Put(&model.Response{ClientID: 7, Timestamp: time.Now().Add(-time.Hour)})
	q.Put(&model.Response{ClientID: 7, IsFinal: true})

	if resp := recvOne(t, c); resp.IsFinal {
		t.Error("Responses reordered on timestamp")
	}
	if resp := recvOne(t, c); !resp.IsFinal {
		t.Error("Final response lost")
	}
}

func TestClassifyTiers(t *testing.T) {
	cases := []struct {
		resp *model.Response
		want Tier
	}{
		{&model.Response{ClientID: 1}, TierNone},
		{&model.Response{ClientID: 1, Error: model.RequestErr("x")}, TierRequest},
		{&model.Response{ClientID: 1, Error: model.FatalErr(fmt.Errorf("y"))}, TierFatal},
	}
	for i, tc := range cases {
		if got := Classify(tc.resp); got != tc.want {
			t.Errorf("Case %d: Classify = %v, want %v", i, got, tc.want)
		}
	}

	if ClassifyReadErr(ipc.ErrTimeout) != TierNone {
		t.Error("Timeout classified as an error")
	}
	if ClassifyReadErr(ipc.ErrClosed) != TierFatal {
		t.Error("Transport loss not classified as fatal")
	}
	if ClassifyReadErr(nil) != TierNone {
		t.Error("nil classified as an error")
	}
}
