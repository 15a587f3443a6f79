package walpool

// TxKind selects how an explicit transaction acquires its lock at the
// engine level.
type TxKind int

// Transaction kinds. TxDefault defers the choice to Config.DefaultTx.
const (
	TxDefault TxKind = iota
	TxDeferred
	TxImmediate
	TxExclusive
)

// keyword returns the SQL keyword for the BEGIN statement.
func (k TxKind) keyword() string {
	switch k {
	case TxImmediate:
		return "IMMEDIATE"
	case TxExclusive:
		return "EXCLUSIVE"
	default:
		return "DEFERRED"
	}
}

func (k TxKind) String() string {
	if k == TxDefault {
		return "DEFAULT"
	}
	return k.keyword()
}

// TxCompletion is the verdict a transactional write block returns to end
// its transaction.
type TxCompletion int

const (
	// TxCommit finalises the transaction.
	TxCommit TxCompletion = iota
	// TxRollback discards the transaction without reporting an error.
	TxRollback
)

// CheckpointMode maps 1:1 onto the engine's WAL checkpoint modes.
type CheckpointMode int

const (
	// CheckpointPassive checkpoints as many frames as possible without
	// waiting on readers or writers.
	CheckpointPassive CheckpointMode = iota
	// CheckpointFull waits for writers, then checkpoints all frames.
	CheckpointFull
	// CheckpointRestart additionally ensures the next writer restarts the
	// log from the beginning.
	CheckpointRestart
	// CheckpointTruncate additionally truncates the log file to zero bytes.
	CheckpointTruncate
)

func (m CheckpointMode) String() string {
	switch m {
	case CheckpointFull:
		return "FULL"
	case CheckpointRestart:
		return "RESTART"
	case CheckpointTruncate:
		return "TRUNCATE"
	default:
		return "PASSIVE"
	}
}
