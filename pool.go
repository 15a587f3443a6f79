package walpool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/cgault/walpool/internal/bpool"
)

// Database file permission modes, matching the engine's expectation that
// only the owning service touches the file.
const (
	dirPermissions  = 0o750
	filePermissions = 0o600
)

// Pool coordinates access to one WAL-mode SQLite database: a single writer
// connection plus a bounded, lazily populated pool of read-only
// connections.
//
// The writer is created in Open and lives until Close; it is never pooled
// and never evicted. Readers are constructed on first checkout, up to
// Config.MaxReaders, and may be evicted by ReleaseMemory; the next read
// reconstructs one, re-applying the full current function and collation
// registry.
type Pool struct {
	path    string
	cfg     Config // writer-specialised
	rcfg    Config // reader-specialised
	log     *slog.Logger
	writer  *access
	readers *bpool.Pool[*access]
	reg     *registry
	closed  atomic.Bool
}

// Stats reports pool occupancy, after the fashion of sql.DBStats.
type Stats struct {
	// MaxReaders is the reader pool capacity.
	MaxReaders int
	// LiveReaders is the number of reader connections currently open,
	// whether idle or checked out.
	LiveReaders int
	// IdleReaders is the number of open reader connections not currently
	// serving a read block.
	IdleReaders int
}

// Open creates a Pool for the database at path.
//
// It performs the following setup:
//  1. Creates the database directory if it doesn't exist
//  2. Opens the single writer connection (creating the file if needed)
//  3. Activates WAL journaling and verifies the engine's reported mode
//  4. Sets restrictive file permissions (0600)
//
// The reader-isolation protocol depends on WAL semantics, so a database
// that cannot enter WAL mode (some network filesystems refuse it) fails
// construction with a descriptive error rather than limping along. No
// reader connection is opened here; readers are built on first checkout.
func Open(path string, cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()
	if cfg.MaxReaders < minReaders {
		return nil, fmt.Errorf("walpool: max readers must be at least %d, got %d", minReaders, cfg.MaxReaders)
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	wcfg := cfg.writer()
	conn, err := openConn(path, wcfg)
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}

	mode, err := conn.QueryScalar("PRAGMA journal_mode=wal")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("activating WAL mode on %s: %w", path, err)
	}
	if s, _ := mode.(string); !strings.EqualFold(s, "wal") {
		_ = conn.Close()
		return nil, fmt.Errorf("activating WAL mode on %s: engine reports journal_mode=%v", path, mode)
	}

	// File might already have stricter permissions; best effort.
	_ = os.Chmod(path, filePermissions)

	p := &Pool{
		path:   path,
		cfg:    wcfg,
		rcfg:   cfg.reader(),
		log:    cfg.Logger,
		writer: newAccess(conn),
		reg:    newRegistry(),
	}
	p.readers = bpool.New(cfg.MaxReaders, p.newReader, func(a *access) {
		_ = a.close()
	})

	p.log.Debug("database pool opened", "path", path, "max_readers", cfg.MaxReaders)
	return p, nil
}

// newReader is the reader pool's element factory. It applies the full
// current registry before the connection serves any request, so a reader
// built after several add/remove cycles carries exactly the registry's
// present state.
func (p *Pool) newReader() (*access, error) {
	conn, err := openConn(p.path, p.rcfg)
	if err != nil {
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	if err := p.reg.applyAll(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("preparing reader: %w", err)
	}
	p.log.Debug("reader connection opened", "path", p.path)
	return newAccess(conn), nil
}

// poolKey marks a context as belonging to a block already executing on this
// pool, for reentrancy detection.
type poolKey struct{}

// enter gates every entry point: the pool must be open and the call must
// not originate from inside one of this pool's own blocks.
func (p *Pool) enter(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if v, ok := ctx.Value(poolKey{}).(*Pool); ok && v == p {
		return ErrReentrantCall
	}
	return nil
}

// blockCtx returns the context handed to caller blocks, stamped for
// reentrancy detection.
func (p *Pool) blockCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, poolKey{}, p)
}

// Read checks out a reader connection and runs fn inside an explicit
// deferred transaction, committing when fn returns nil.
//
// The wrapping transaction is what gives the block snapshot isolation:
// without it, two statements in the same block could observe different
// states if the writer committed between them. With it, every statement in
// fn sees one consistent point-in-time view, unaffected by concurrent
// writer commits.
//
// Read blocks until a reader is idle or one more can be constructed
// (Config.MaxReaders bounds the total). The reader returns to the pool when
// fn completes, by any exit path; a reader whose transaction could not be
// cleanly finished is destroyed instead, never handed to a later block.
// fn's error is propagated unchanged, after the transaction is rolled back.
func (p *Pool) Read(ctx context.Context, fn func(context.Context, *Conn) error) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	bctx := p.blockCtx(ctx)
	return p.readers.WithDiscard(ctx, func(a *access) (bool, error) {
		var broken bool
		err := a.run(ctx, func(conn *Conn) error {
			if err := conn.begin(TxDeferred); err != nil {
				return err
			}
			if err := fn(bctx, conn); err != nil {
				if rbErr := conn.rollback(); rbErr != nil {
					broken = true
					p.log.Warn("read rollback failed, discarding reader", "error", rbErr)
				}
				return err
			}
			if err := conn.commit(); err != nil {
				broken = true
				p.log.Warn("read commit failed, discarding reader", "error", err)
				return err
			}
			return nil
		})
		return broken, err
	})
}

// Write runs fn directly on the writer connection with no implicit
// transaction. Statement atomicity is the caller's responsibility; use
// WriteInTransaction when the block must be all-or-nothing.
//
// Because there is exactly one writer connection, write blocks never
// interleave: fn waits its turn behind any in-flight writer access.
func (p *Pool) Write(ctx context.Context, fn func(context.Context, *Conn) error) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	bctx := p.blockCtx(ctx)
	return p.writer.run(ctx, func(conn *Conn) error {
		return fn(bctx, conn)
	})
}

// WriteInTransaction runs fn on the writer connection inside an explicit
// transaction of the given kind (TxDefault selects Config.DefaultTx).
//
// fn's verdict ends the transaction: TxCommit finalises it, TxRollback
// discards it without error. If fn returns an error, the transaction is
// rolled back and the original error is propagated; a secondary rollback
// failure is logged, never returned in its place.
func (p *Pool) WriteInTransaction(ctx context.Context, kind TxKind, fn func(context.Context, *Conn) (TxCompletion, error)) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	if kind == TxDefault {
		kind = p.cfg.DefaultTx
	}
	bctx := p.blockCtx(ctx)
	return p.writer.run(ctx, func(conn *Conn) error {
		if err := conn.begin(kind); err != nil {
			return err
		}
		completion, err := fn(bctx, conn)
		if err != nil {
			if rbErr := conn.rollback(); rbErr != nil {
				p.log.Warn("write rollback failed", "error", rbErr)
			}
			return err
		}
		if completion == TxRollback {
			return conn.rollback()
		}
		if err := conn.commit(); err != nil {
			// COMMIT can fail and leave the transaction open (a deferred
			// foreign key violation, for one); roll back so the writer
			// stays usable for the next block.
			if rbErr := conn.rollback(); rbErr != nil {
				p.log.Warn("write rollback failed", "error", rbErr)
			}
			return err
		}
		return nil
	})
}

// Checkpoint folds the write-ahead log back into the database file using
// the engine's checkpoint primitive, routed through the writer connection.
// No transaction is opened.
//
// If the engine reports the checkpoint could not complete (typically a
// long-lived reader still holds an older snapshot open), Checkpoint returns
// a *CheckpointError carrying the engine's frame counters.
func (p *Pool) Checkpoint(ctx context.Context, mode CheckpointMode) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	return p.writer.run(ctx, func(conn *Conn) error {
		res, err := conn.walCheckpoint(mode)
		if err != nil {
			return fmt.Errorf("checkpointing %s: %w", p.path, err)
		}
		if res.busy {
			return &CheckpointError{Mode: mode, Log: res.logFrames, Checkpointed: res.checkpointed}
		}
		p.log.Debug("checkpoint complete",
			"mode", mode.String(),
			"wal_frames", res.logFrames,
			"checkpointed", res.checkpointed,
		)
		return nil
	})
}

// AddFunction registers f on the writer and on every live reader, and
// records it so that readers constructed later receive it too. Adding a
// function whose name and argument count match an existing one replaces it.
//
// The writer is the acceptance point: a definition the engine rejects (an
// Impl the driver cannot bind, say) is never recorded, so it cannot taint
// reader construction later.
func (p *Pool) AddFunction(ctx context.Context, f Func) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	if err := validateFunc(f); err != nil {
		return fmt.Errorf("adding function %s: %w", f.Name, err)
	}
	if err := p.writer.run(ctx, func(conn *Conn) error {
		return conn.registerFunc(f)
	}); err != nil {
		return err
	}
	if err := p.reg.addFunc(f); err != nil {
		return fmt.Errorf("adding function %s: %w", f.Name, err)
	}
	return p.readers.ForEach(func(a *access) error {
		return a.run(ctx, func(conn *Conn) error {
			return conn.registerFunc(f)
		})
	})
}

// RemoveFunction removes the function identified by name and argument count
// (use nArgs -1 for a variadic registration). Readers constructed later
// never see it; on connections already live, any further call to it fails
// with the engine's missing-function error.
func (p *Pool) RemoveFunction(ctx context.Context, name string, nArgs int) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	p.reg.removeFunc(name, nArgs)
	ts := tombstoneFunc(name, nArgs)
	return p.broadcast(ctx, func(conn *Conn) error {
		return conn.registerFunc(ts)
	})
}

// AddCollation registers col on the writer and on every live reader, and
// records it for readers constructed later. Adding a collation with an
// existing name replaces it. As with AddFunction, the registry records the
// collation only once the writer has accepted it.
func (p *Pool) AddCollation(ctx context.Context, col Collation) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	if err := validateCollation(col); err != nil {
		return fmt.Errorf("adding collation %s: %w", col.Name, err)
	}
	if err := p.writer.run(ctx, func(conn *Conn) error {
		return conn.registerCollation(col)
	}); err != nil {
		return err
	}
	if err := p.reg.addCollation(col); err != nil {
		return fmt.Errorf("adding collation %s: %w", col.Name, err)
	}
	return p.readers.ForEach(func(a *access) error {
		return a.run(ctx, func(conn *Conn) error {
			return conn.registerCollation(col)
		})
	})
}

// RemoveCollation removes the named collation from the registry and evicts
// idle readers, so subsequently constructed readers do not carry it. The
// engine offers no way to drop a collation from a connection that is
// already live; the writer and any checked-out reader keep it until they
// are recycled.
func (p *Pool) RemoveCollation(ctx context.Context, name string) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	p.reg.removeCollation(name)
	p.readers.EvictIdle()
	return nil
}

// broadcast applies op to the writer and then to every currently live
// reader, queueing behind whatever each connection is doing.
func (p *Pool) broadcast(ctx context.Context, op func(*Conn) error) error {
	if err := p.writer.run(ctx, op); err != nil {
		return err
	}
	return p.readers.ForEach(func(a *access) error {
		return a.run(ctx, op)
	})
}

// ReleaseMemory asks every connection to free cached memory (prepared
// statements, schema caches, internal buffers), then evicts all idle
// readers. Each connection's release queues behind any in-flight access, so
// ReleaseMemory returns only once every connection has gone quiet and
// released. The next Read reconstructs a reader lazily, re-applying the
// full function and collation registry.
func (p *Pool) ReleaseMemory(ctx context.Context) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	if err := p.writer.run(ctx, (*Conn).shrinkMemory); err != nil {
		return err
	}
	if err := p.readers.ForEach(func(a *access) error {
		return a.run(ctx, (*Conn).shrinkMemory)
	}); err != nil {
		return err
	}
	p.readers.EvictIdle()
	p.log.Debug("cached memory released", "path", p.path)
	return nil
}

// Stats returns current pool occupancy.
func (p *Pool) Stats() Stats {
	live, idle := p.readers.Stats()
	return Stats{
		MaxReaders:  p.rcfg.MaxReaders,
		LiveReaders: live,
		IdleReaders: idle,
	}
}

// Path returns the filesystem path to the database file.
func (p *Pool) Path() string {
	return p.path
}

// Close rejects further entry points, closes every reader, and closes the
// writer after its queued work drains. Safe to call more than once.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.readers.Close()
	if err := p.writer.close(); err != nil {
		return fmt.Errorf("closing writer: %w", err)
	}
	p.log.Debug("database pool closed", "path", p.path)
	return nil
}
