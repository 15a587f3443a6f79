package walpool

import (
	"context"
	"sync"
)

// access is the serialized execution context for one connection: a single
// worker goroutine consuming a FIFO job queue. Every operation against the
// connection is submitted as a job, so exactly one operation runs against
// the connection at any instant and jobs execute strictly in submission
// order.
type access struct {
	conn *Conn
	jobs chan func()

	mu     sync.Mutex // guards closed and submission vs close
	closed bool
}

func newAccess(conn *Conn) *access {
	a := &access{
		conn: conn,
		jobs: make(chan func()),
	}
	go a.loop()
	return a
}

func (a *access) loop() {
	for job := range a.jobs {
		job()
	}
}

// run submits fn to the worker and blocks until it completes. Submission
// honours ctx cancellation; once submitted, the job runs to completion. A
// job queued behind an in-flight one therefore also waits for that one to
// finish first.
func (a *access) run(ctx context.Context, fn func(*Conn) error) error {
	done := make(chan error, 1)
	job := func() { done <- fn(a.conn) }

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	select {
	case a.jobs <- job:
		a.mu.Unlock()
	case <-ctx.Done():
		a.mu.Unlock()
		return ctx.Err()
	}
	return <-done
}

// close waits for queued jobs to finish, closes the connection on the
// worker, and stops the worker. Safe to call more than once.
func (a *access) close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	done := make(chan error, 1)
	a.jobs <- func() { done <- a.conn.Close() }
	close(a.jobs)
	a.mu.Unlock()
	return <-done
}
