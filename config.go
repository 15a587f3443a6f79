package walpool

import (
	"fmt"
	"log/slog"
	"time"
)

// Configuration defaults.
const (
	// DefaultBusyTimeout is how long a connection waits for a database lock
	// before the engine reports SQLITE_BUSY.
	DefaultBusyTimeout = 5 * time.Second

	// DefaultMaxReaders is the reader pool capacity used when Config leaves
	// MaxReaders unset.
	DefaultMaxReaders = 5

	// minReaders is the smallest usable pool: one fewer than capacity must
	// still let a reader proceed while another is checked out.
	minReaders = 2
)

// Config carries the per-connection session options and the pool sizing for
// a Pool. The zero value is usable; unset fields take the defaults above.
//
// Config is a value type. Open copies and specialises it per connection
// role: the writer copy forces read-write access, every reader copy forces
// read-only access and a Deferred default transaction kind.
type Config struct {
	// BusyTimeout is the maximum time to wait for a database lock.
	// Prevents "database is locked" errors under contention.
	BusyTimeout time.Duration

	// Synchronous selects the engine's fsync discipline ("OFF", "NORMAL",
	// "FULL", "EXTRA"). NORMAL is the recommended pairing with WAL.
	Synchronous string

	// DefaultTx is the transaction kind used by WriteInTransaction when the
	// caller passes TxDefault.
	DefaultTx TxKind

	// MaxReaders is the reader pool capacity. Must be at least 2.
	MaxReaders int

	// Logger receives pool lifecycle events (WAL activation, reader
	// construction, checkpoints, evictions). Nil means slog.Default().
	Logger *slog.Logger

	// readOnly is set by the per-role specialisations below, never by
	// callers.
	readOnly bool
}

// withDefaults returns a copy of c with unset fields filled in.
func (c Config) withDefaults() Config {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = DefaultBusyTimeout
	}
	if c.Synchronous == "" {
		c.Synchronous = "NORMAL"
	}
	if c.DefaultTx == TxDefault {
		c.DefaultTx = TxDeferred
	}
	if c.MaxReaders == 0 {
		c.MaxReaders = DefaultMaxReaders
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// writer returns the configuration for the single writer connection.
func (c Config) writer() Config {
	c.readOnly = false
	return c
}

// reader returns the configuration applied to every reader connection.
// Readers never write, and a Deferred transaction is the only kind that
// makes sense on a snapshot.
func (c Config) reader() Config {
	c.readOnly = true
	c.DefaultTx = TxDeferred
	return c
}

// dsn renders the mattn/go-sqlite3 connection string for path.
//
// Foreign key enforcement is always on. WAL activation is not part of the
// DSN: the writer activates it explicitly and verifies the engine's answer
// (see Open), and readers inherit the mode from the database file.
func (c Config) dsn(path string) string {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on&_synchronous=%s",
		path,
		c.BusyTimeout.Milliseconds(),
		c.Synchronous,
	)
	if c.readOnly {
		dsn += "&mode=ro&_query_only=true"
	}
	return dsn
}
