// Package walpool coordinates concurrent access to a single file-backed
// SQLite database running in WAL (write-ahead log) journaling mode.
//
// SQLite permits one writer at a time; under WAL, readers may proceed
// concurrently with that writer, each on its own consistent snapshot. This
// package turns that into a safe multi-client access layer:
//   - exactly one writer connection, owned for the pool's whole lifetime
//   - a bounded pool of reader connections, constructed lazily on demand
//   - snapshot-isolated reads (every read block runs inside a deferred
//     transaction, so all its statements observe one point-in-time view)
//   - session-scoped SQL functions and collations, broadcast to every
//     connection, present and future
//
// Each connection is driven by its own serialized execution context: a
// single goroutine consuming a FIFO job queue, so the engine's
// one-operation-per-connection rule can never be violated. Entry points
// block the caller until their block has run to completion.
//
// Thread Safety:
//   - All Pool methods are safe for concurrent use from multiple goroutines.
//   - Entry points are not reentrant: calling back into the same Pool from
//     inside a block fails fast with ErrReentrantCall.
//
// Usage:
//
//	pool, err := walpool.Open("data/app.db", walpool.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	err = pool.Write(ctx, func(ctx context.Context, conn *walpool.Conn) error {
//	    return conn.Exec("CREATE TABLE IF NOT EXISTS t (x INTEGER)")
//	})
//
//	var n int64
//	err = pool.Read(ctx, func(ctx context.Context, conn *walpool.Conn) error {
//	    v, err := conn.QueryScalar("SELECT count(*) FROM t")
//	    if err != nil {
//	        return err
//	    }
//	    n = v.(int64)
//	    return nil
//	})
package walpool
