package session

import (
	"context"
	"fmt"
)

// TaskPing is answered by every rank with its rank number. The coordinator
// broadcasts it after attach to verify the whole group responds.
const TaskPing = "ping"

// RegisterBuiltins installs the tasks every worker serves regardless of the
// engine wired in.
func RegisterBuiltins(r *Registry) {
	r.Register(TaskPing, func(ctx context.Context, rank int, payload []byte) ([]byte, error) {
		return []byte(fmt.Sprintf("pong rank=%d", rank)), nil
	})
}
