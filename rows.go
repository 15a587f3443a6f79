package walpool

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"time"
)

// Rows is the result of Conn.Query. Iteration follows the familiar
// database/sql shape:
//
//	rows, err := conn.Query("SELECT id, name FROM t")
//	if err != nil {
//	    return err
//	}
//	defer rows.Close()
//	for rows.Next() {
//	    var id int64
//	    var name string
//	    if err := rows.Scan(&id, &name); err != nil {
//	        return err
//	    }
//	}
//	return rows.Err()
type Rows struct {
	rows   driver.Rows
	cols   []string
	vals   []driver.Value
	err    error
	done   bool
	closed bool
}

// Columns returns the result column names.
func (r *Rows) Columns() []string {
	return r.cols
}

// Next advances to the next row. It returns false when the rows are
// exhausted or an error occurred; check Err afterwards.
func (r *Rows) Next() bool {
	if r.done || r.closed {
		return false
	}
	err := r.rows.Next(r.vals)
	if err != nil {
		r.done = true
		if !errors.Is(err, io.EOF) {
			r.err = fmt.Errorf("fetching row: %w", err)
		}
		return false
	}
	return true
}

// Err returns the error, if any, that ended iteration early.
func (r *Rows) Err() error {
	return r.err
}

// Scan copies the current row's columns into dest, which must hold one
// pointer per column.
func (r *Rows) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.cols) {
		return fmt.Errorf("scanning row: %d destinations for %d columns", len(dest), len(r.cols))
	}
	for i, d := range dest {
		if err := assignValue(d, r.vals[i]); err != nil {
			return fmt.Errorf("scanning column %q: %w", r.cols[i], err)
		}
	}
	return nil
}

// Close releases the result set. It is safe to call more than once.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.rows.Close()
}

// assignValue converts one driver value into the caller's destination.
func assignValue(dest any, v driver.Value) error {
	switch d := dest.(type) {
	case *any:
		*d = exportValue(v)
		return nil
	case *string:
		switch s := v.(type) {
		case string:
			*d = s
			return nil
		case []byte:
			*d = string(s)
			return nil
		}
	case *[]byte:
		switch s := v.(type) {
		case []byte:
			b := make([]byte, len(s))
			copy(b, s)
			*d = b
			return nil
		case string:
			*d = []byte(s)
			return nil
		}
	case *int64:
		if n, ok := v.(int64); ok {
			*d = n
			return nil
		}
	case *int:
		if n, ok := v.(int64); ok {
			*d = int(n)
			return nil
		}
	case *float64:
		switch n := v.(type) {
		case float64:
			*d = n
			return nil
		case int64:
			*d = float64(n)
			return nil
		}
	case *bool:
		switch n := v.(type) {
		case bool:
			*d = n
			return nil
		case int64:
			*d = n != 0
			return nil
		}
	case *time.Time:
		if t, ok := v.(time.Time); ok {
			*d = t
			return nil
		}
	default:
		return fmt.Errorf("unsupported destination type %T", dest)
	}
	if v == nil {
		return fmt.Errorf("cannot scan NULL into %T", dest)
	}
	return fmt.Errorf("cannot scan %T into %T", v, dest)
}
