// walpoolctl is an operator tool for WAL-mode SQLite databases managed with
// the walpool library. It can run ad-hoc statements through the pool's
// write path, snapshot-isolated queries through the read path, force WAL
// checkpoints, and report pool statistics.
//
// Usage:
//
//	walpoolctl [-config walpool.yaml] checkpoint [-mode passive|full|restart|truncate]
//	walpoolctl [-config walpool.yaml] exec [-read] -q "SQL"
//	walpoolctl [-config walpool.yaml] stats
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cgault/walpool"
)

// Version information - set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "walpool.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual tool logic, separated from main for testability.
func run(ctx context.Context, args []string) error {
	global := flag.NewFlagSet("walpoolctl", flag.ContinueOnError)
	configPath := global.String("config", defaultConfigPath, "path to configuration file")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() < 1 {
		return fmt.Errorf("usage: walpoolctl [-config FILE] <checkpoint|exec|stats>")
	}
	command, rest := global.Arg(0), global.Args()[1:]

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := newLogger(cfg.Logging)
	log.Debug("starting walpoolctl", "version", version, "commit", commit, "command", command)

	pool, err := walpool.Open(cfg.Database.Path, walpool.Config{
		BusyTimeout: cfg.GetBusyTimeout(),
		MaxReaders:  cfg.Database.MaxReaders,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close() //nolint:errcheck // best effort on exit

	switch command {
	case "checkpoint":
		return runCheckpoint(ctx, pool, rest)
	case "exec":
		return runExec(ctx, pool, rest)
	case "stats":
		return runStats(ctx, pool)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// runCheckpoint forces a WAL checkpoint in the requested mode.
func runCheckpoint(ctx context.Context, pool *walpool.Pool, args []string) error {
	fs := flag.NewFlagSet("checkpoint", flag.ContinueOnError)
	modeName := fs.String("mode", "passive", "checkpoint mode: passive, full, restart or truncate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mode, err := parseCheckpointMode(*modeName)
	if err != nil {
		return err
	}
	if err := pool.Checkpoint(ctx, mode); err != nil {
		return err
	}
	fmt.Printf("%s checkpoint complete\n", mode)
	return nil
}

func parseCheckpointMode(name string) (walpool.CheckpointMode, error) {
	switch strings.ToLower(name) {
	case "passive":
		return walpool.CheckpointPassive, nil
	case "full":
		return walpool.CheckpointFull, nil
	case "restart":
		return walpool.CheckpointRestart, nil
	case "truncate":
		return walpool.CheckpointTruncate, nil
	default:
		return 0, fmt.Errorf("unknown checkpoint mode %q", name)
	}
}

// runExec executes SQL: through a write transaction by default, or through
// a snapshot read (printing rows) with -read.
func runExec(ctx context.Context, pool *walpool.Pool, args []string) error {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	query := fs.String("q", "", "SQL to execute")
	read := fs.Bool("read", false, "run as a snapshot-isolated read and print rows")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *query == "" {
		return fmt.Errorf("exec requires -q \"SQL\"")
	}

	if *read {
		return pool.Read(ctx, func(ctx context.Context, conn *walpool.Conn) error {
			return printQuery(conn, *query)
		})
	}
	return pool.WriteInTransaction(ctx, walpool.TxDefault,
		func(ctx context.Context, conn *walpool.Conn) (walpool.TxCompletion, error) {
			if err := conn.Exec(*query); err != nil {
				return walpool.TxRollback, err
			}
			return walpool.TxCommit, nil
		})
}

// printQuery runs query on conn and writes tab-separated rows to stdout.
func printQuery(conn *walpool.Conn, query string) error {
	rows, err := conn.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck // read-only cleanup

	cols := rows.Columns()
	fmt.Println(strings.Join(cols, "\t"))
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		parts := make([]string, len(dest))
		for i, v := range dest {
			parts[i] = fmt.Sprint(v)
		}
		fmt.Println(strings.Join(parts, "\t"))
	}
	return rows.Err()
}

// runStats prints pool occupancy and the database's journaling mode.
func runStats(ctx context.Context, pool *walpool.Pool) error {
	var mode any
	err := pool.Read(ctx, func(ctx context.Context, conn *walpool.Conn) error {
		var err error
		mode, err = conn.QueryScalar("PRAGMA journal_mode")
		return err
	})
	if err != nil {
		return err
	}
	stats := pool.Stats()
	fmt.Printf("path:         %s\n", pool.Path())
	fmt.Printf("journal_mode: %v\n", mode)
	fmt.Printf("max_readers:  %d\n", stats.MaxReaders)
	fmt.Printf("live_readers: %d\n", stats.LiveReaders)
	fmt.Printf("idle_readers: %d\n", stats.IdleReaders)
	return nil
}
