package walpool

import (
	"errors"
	"fmt"
)

// Sentinel errors reported by Pool entry points.
var (
	// ErrClosed is returned by every entry point after Close.
	ErrClosed = errors.New("walpool: pool is closed")

	// ErrReentrantCall is returned when a block passed to one entry point
	// calls back into the same Pool. Nesting would deadlock on the
	// connection's own serialized queue, so it is refused up front.
	ErrReentrantCall = errors.New("walpool: reentrant call from inside a database access block")

	// ErrNoRows is returned by Conn.QueryScalar when the query produces no
	// rows.
	ErrNoRows = errors.New("walpool: no rows in result set")
)

// CheckpointError reports a WAL checkpoint that the engine could not
// complete, typically because a reader still holds an older snapshot open.
// Log and Checkpointed are the engine's frame counters at the time of the
// attempt.
type CheckpointError struct {
	Mode         CheckpointMode
	Log          int64
	Checkpointed int64
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("walpool: %s checkpoint incomplete: engine busy (%d of %d wal frames checkpointed)",
		e.Mode, e.Checkpointed, e.Log)
}
