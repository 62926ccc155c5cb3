package dispatch

import (
	"errors"

	"github.com/aigoflow/executor-service/internal/ipc"
	"github.com/aigoflow/executor-service/internal/model"
)

// Tier is the severity of a failure observed by the drain loop.
type Tier int

const (
	// TierNone: not an error.
	TierNone Tier = iota
	// TierRequest: scoped to one client id; the service continues.
	TierRequest
	// TierFatal: invalidates the session; dispatch halts.
	TierFatal
)

// Classify maps a response's error payload onto the two-tier taxonomy.
func Classify(resp *model.Response) Tier {
	switch {
	case resp.Error == nil:
		return TierNone
	case resp.Error.Fatal:
		return TierFatal
	default:
		return TierRequest
	}
}

// ClassifyReadErr maps a channel read failure. A timeout is benign; a closed
// or broken transport means nothing more can arrive, which is fatal unless
// the close was requested.
func ClassifyReadErr(err error) Tier {
	if err == nil || errors.Is(err, ipc.ErrTimeout) {
		return TierNone
	}
	return TierFatal
}
