package dispatch

import (
	"fmt"

	"github.com/aigoflow/executor-service/internal/model"
)

// RequestError reports a failure scoped to a single client request. The
// drain loop keeps running; no other request is affected.
type RequestError struct {
	ClientID  int64
	RequestID int64
	Msg       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed (client_id=%d): %s", e.ClientID, e.Msg)
}

// FatalError invalidates the whole session. It is propagated to every
// outstanding consumer and halts the dispatch loop; the caller is expected to
// tear the session down and recreate it from scratch.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal executor error: %v", e.Cause)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// AsRequestError converts a delivered response carrying a request-scoped
// error into the error the serving layer reports to its caller. It returns
// nil for clean responses; fatal errors never reach consumers this way.
func AsRequestError(resp *model.Response) *RequestError {
	if resp.Error == nil || resp.Error.Fatal {
		return nil
	}
	return &RequestError{ClientID: resp.ClientID, Msg: resp.Error.Msg}
}
