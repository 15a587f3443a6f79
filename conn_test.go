package walpool

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// newTestConn opens a raw writer connection on a fresh database file.
func newTestConn(t *testing.T) *Conn {
	t.Helper()

	path := filepath.Join(t.TempDir(), "conn.db")
	conn, err := openConn(path, Config{}.withDefaults().writer())
	if err != nil {
		t.Fatalf("openConn() error = %v", err)
	}
	t.Cleanup(func() {
		conn.Close() //nolint:errcheck // test cleanup
	})
	return conn
}

func TestConnExecAndQuery(t *testing.T) {
	conn := newTestConn(t)

	if err := conn.Exec("CREATE TABLE t (id INTEGER, name TEXT, score REAL, blob BLOB, at TIMESTAMP)"); err != nil {
		t.Fatalf("Exec(create) error = %v", err)
	}

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	err := conn.Exec("INSERT INTO t VALUES (?, ?, ?, ?, ?)",
		1, "alice", 9.5, []byte{0xde, 0xad}, at)
	if err != nil {
		t.Fatalf("Exec(insert) error = %v", err)
	}

	rows, err := conn.Query("SELECT id, name, score, blob, at FROM t")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer rows.Close() //nolint:errcheck // test cleanup

	if !rows.Next() {
		t.Fatalf("Next() = false, err = %v", rows.Err())
	}
	var (
		id    int64
		name  string
		score float64
		blob  []byte
		when  time.Time
	)
	if err := rows.Scan(&id, &name, &score, &blob, &when); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if id != 1 || name != "alice" || score != 9.5 {
		t.Errorf("row = (%d, %q, %v), want (1, alice, 9.5)", id, name, score)
	}
	if len(blob) != 2 || blob[0] != 0xde || blob[1] != 0xad {
		t.Errorf("blob = %x, want dead", blob)
	}
	if !when.Equal(at) {
		t.Errorf("timestamp = %v, want %v", when, at)
	}
	if rows.Next() {
		t.Error("Next() = true after last row")
	}
	if err := rows.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
}

func TestConnQueryScalar(t *testing.T) {
	conn := newTestConn(t)

	t.Run("integer", func(t *testing.T) {
		v, err := conn.QueryScalar("SELECT 40 + ?", 2)
		if err != nil {
			t.Fatalf("QueryScalar() error = %v", err)
		}
		if v.(int64) != 42 {
			t.Errorf("value = %v, want 42", v)
		}
	})

	t.Run("text arrives as string", func(t *testing.T) {
		v, err := conn.QueryScalar("SELECT 'hello'")
		if err != nil {
			t.Fatalf("QueryScalar() error = %v", err)
		}
		if s, ok := v.(string); !ok || s != "hello" {
			t.Errorf("value = %#v, want string \"hello\"", v)
		}
	})

	t.Run("no rows", func(t *testing.T) {
		if err := conn.Exec("CREATE TABLE empty (x)"); err != nil {
			t.Fatalf("Exec() error = %v", err)
		}
		_, err := conn.QueryScalar("SELECT x FROM empty")
		if !errors.Is(err, ErrNoRows) {
			t.Errorf("error = %v, want ErrNoRows", err)
		}
	})

	t.Run("bad SQL surfaces engine error", func(t *testing.T) {
		_, err := conn.QueryScalar("SELECT FROM nothing")
		if err == nil {
			t.Error("QueryScalar(bad SQL) succeeded, want error")
		}
	})
}

func TestConnTransactions(t *testing.T) {
	conn := newTestConn(t)
	if err := conn.Exec("CREATE TABLE t (x INTEGER)"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	count := func(t *testing.T) int64 {
		t.Helper()
		v, err := conn.QueryScalar("SELECT count(*) FROM t")
		if err != nil {
			t.Fatalf("count error = %v", err)
		}
		return v.(int64)
	}

	t.Run("commit persists", func(t *testing.T) {
		if err := conn.begin(TxImmediate); err != nil {
			t.Fatalf("begin() error = %v", err)
		}
		if err := conn.Exec("INSERT INTO t VALUES (1)"); err != nil {
			t.Fatalf("Exec() error = %v", err)
		}
		if err := conn.commit(); err != nil {
			t.Fatalf("commit() error = %v", err)
		}
		if n := count(t); n != 1 {
			t.Errorf("count = %d, want 1", n)
		}
	})

	t.Run("rollback discards", func(t *testing.T) {
		if err := conn.begin(TxDeferred); err != nil {
			t.Fatalf("begin() error = %v", err)
		}
		if err := conn.Exec("INSERT INTO t VALUES (2)"); err != nil {
			t.Fatalf("Exec() error = %v", err)
		}
		if err := conn.rollback(); err != nil {
			t.Fatalf("rollback() error = %v", err)
		}
		if n := count(t); n != 1 {
			t.Errorf("count = %d, want 1", n)
		}
	})
}

func TestDriverArgs(t *testing.T) {
	t.Run("converts narrow numeric types", func(t *testing.T) {
		vals, err := driverArgs([]any{int(1), int32(2), uint32(3), float32(1.5)})
		if err != nil {
			t.Fatalf("driverArgs() error = %v", err)
		}
		if vals[0].(int64) != 1 || vals[1].(int64) != 2 || vals[2].(int64) != 3 {
			t.Errorf("integer conversions = %v", vals[:3])
		}
		if vals[3].(float64) != 1.5 {
			t.Errorf("float conversion = %v, want 1.5", vals[3])
		}
	})

	t.Run("rejects unsupported types", func(t *testing.T) {
		_, err := driverArgs([]any{struct{}{}})
		if err == nil {
			t.Error("driverArgs(struct{}{}) succeeded, want error")
		}
	})

	t.Run("empty args", func(t *testing.T) {
		vals, err := driverArgs(nil)
		if err != nil || vals != nil {
			t.Errorf("driverArgs(nil) = %v, %v; want nil, nil", vals, err)
		}
	})
}

func TestRowsScanConversions(t *testing.T) {
	conn := newTestConn(t)

	t.Run("int64 into int and bool", func(t *testing.T) {
		rows, err := conn.Query("SELECT 7, 1")
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		defer rows.Close() //nolint:errcheck // test cleanup
		if !rows.Next() {
			t.Fatalf("Next() = false, err = %v", rows.Err())
		}
		var n int
		var b bool
		if err := rows.Scan(&n, &b); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if n != 7 || !b {
			t.Errorf("scanned (%d, %v), want (7, true)", n, b)
		}
	})

	t.Run("null into any", func(t *testing.T) {
		rows, err := conn.Query("SELECT NULL")
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		defer rows.Close() //nolint:errcheck // test cleanup
		if !rows.Next() {
			t.Fatalf("Next() = false, err = %v", rows.Err())
		}
		var v any = "sentinel"
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if v != nil {
			t.Errorf("scanned %#v, want nil", v)
		}
	})

	t.Run("null into string fails", func(t *testing.T) {
		rows, err := conn.Query("SELECT NULL")
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		defer rows.Close() //nolint:errcheck // test cleanup
		if !rows.Next() {
			t.Fatalf("Next() = false, err = %v", rows.Err())
		}
		var s string
		if err := rows.Scan(&s); err == nil {
			t.Error("Scan(NULL into *string) succeeded, want error")
		}
	})

	t.Run("column count mismatch", func(t *testing.T) {
		rows, err := conn.Query("SELECT 1, 2")
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		defer rows.Close() //nolint:errcheck // test cleanup
		if !rows.Next() {
			t.Fatalf("Next() = false, err = %v", rows.Err())
		}
		var n int64
		if err := rows.Scan(&n); err == nil {
			t.Error("Scan with one destination for two columns succeeded, want error")
		}
	})
}

func TestRowsCloseIdempotent(t *testing.T) {
	conn := newTestConn(t)
	rows, err := conn.Query("SELECT 1")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if err := rows.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := rows.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
	if rows.Next() {
		t.Error("Next() after Close = true, want false")
	}
}
