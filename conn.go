package walpool

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// sqliteDriver opens raw driver connections. The pool owns every connection
// directly rather than going through database/sql, because broadcast of
// functions and collations needs to reach each live connection individually.
var sqliteDriver = &sqlite3.SQLiteDriver{}

// Conn is one physical SQLite connection. Callers only ever see a Conn
// inside a block passed to a Pool entry point; the pool guarantees the Conn
// is used by exactly one block at a time.
//
// A Conn must not be retained past the end of its block.
type Conn struct {
	raw *sqlite3.SQLiteConn
}

// openConn opens a connection to the database at path with cfg's session
// options applied.
func openConn(path string, cfg Config) (*Conn, error) {
	dc, err := sqliteDriver.Open(cfg.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	raw, ok := dc.(*sqlite3.SQLiteConn)
	if !ok {
		_ = dc.Close()
		return nil, fmt.Errorf("opening database %s: unexpected driver connection type %T", path, dc)
	}
	return &Conn{raw: raw}, nil
}

// Exec executes one or more SQL statements that return no rows.
func (c *Conn) Exec(query string, args ...any) error {
	vals, err := driverArgs(args)
	if err != nil {
		return err
	}
	if _, err := c.raw.Exec(query, vals); err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}
	return nil
}

// Query executes a SQL statement and returns its rows. The caller must
// close the returned Rows before the enclosing block finishes.
func (c *Conn) Query(query string, args ...any) (*Rows, error) {
	vals, err := driverArgs(args)
	if err != nil {
		return nil, err
	}
	dr, err := c.raw.Query(query, vals)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	cols := dr.Columns()
	return &Rows{rows: dr, cols: cols, vals: make([]driver.Value, len(cols))}, nil
}

// QueryScalar executes a query and returns the first column of its first
// row, or ErrNoRows if the query produces none.
func (c *Conn) QueryScalar(query string, args ...any) (any, error) {
	rows, err := c.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // read-only cleanup
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoRows
	}
	if len(rows.vals) == 0 {
		return nil, ErrNoRows
	}
	return exportValue(rows.vals[0]), nil
}

// begin opens an explicit transaction of the given kind.
func (c *Conn) begin(kind TxKind) error {
	return c.Exec("BEGIN " + kind.keyword())
}

func (c *Conn) commit() error {
	return c.Exec("COMMIT")
}

func (c *Conn) rollback() error {
	return c.Exec("ROLLBACK")
}

// registerFunc makes f callable from SQL on this connection.
func (c *Conn) registerFunc(f Func) error {
	if err := c.raw.RegisterFunc(f.Name, f.Impl, f.Pure); err != nil {
		return fmt.Errorf("registering function %s: %w", f.Name, err)
	}
	return nil
}

// registerCollation makes col usable in COLLATE clauses on this connection.
func (c *Conn) registerCollation(col Collation) error {
	if err := c.raw.RegisterCollation(col.Name, col.Cmp); err != nil {
		return fmt.Errorf("registering collation %s: %w", col.Name, err)
	}
	return nil
}

// shrinkMemory asks the engine to free as much memory as it can for this
// connection (statement caches, schema caches, internal buffers).
func (c *Conn) shrinkMemory() error {
	return c.Exec("PRAGMA shrink_memory")
}

// checkpointResult carries the engine's wal_checkpoint report.
type checkpointResult struct {
	busy         bool
	logFrames    int64
	checkpointed int64
}

// walCheckpoint runs the engine's checkpoint primitive in the given mode.
func (c *Conn) walCheckpoint(mode CheckpointMode) (checkpointResult, error) {
	var res checkpointResult
	rows, err := c.Query("PRAGMA wal_checkpoint(" + mode.String() + ")")
	if err != nil {
		return res, err
	}
	defer rows.Close() //nolint:errcheck // read-only cleanup
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return res, err
		}
		return res, errors.New("wal_checkpoint returned no status row")
	}
	var busy int64
	if err := rows.Scan(&busy, &res.logFrames, &res.checkpointed); err != nil {
		return res, err
	}
	res.busy = busy != 0
	return res, nil
}

// Close releases the underlying connection.
func (c *Conn) Close() error {
	if err := c.raw.Close(); err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}
	return nil
}

// driverArgs converts caller arguments to the driver's value types.
func driverArgs(args []any) ([]driver.Value, error) {
	if len(args) == 0 {
		return nil, nil
	}
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case nil, int64, float64, bool, string, []byte, time.Time:
			vals[i] = v
		case int:
			vals[i] = int64(v)
		case int32:
			vals[i] = int64(v)
		case uint32:
			vals[i] = int64(v)
		case float32:
			vals[i] = float64(v)
		default:
			return nil, fmt.Errorf("unsupported statement argument %d of type %T", i, a)
		}
	}
	return vals, nil
}

// exportValue normalises a driver value for callers: TEXT columns arrive
// from the driver as byte slices backed by driver-owned memory, so they are
// copied out as strings.
func exportValue(v driver.Value) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
