package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Gateway is the exclusive handle to the single shared SQLite session.
//
// Every operation runs inside Do, which blocks until no other operation
// holds the session. Operations therefore appear strictly serialised:
// prepare, bind, execute and row-drain of one call never interleave with
// another call's.
//
// If an operation panics while holding the session the gateway is poisoned.
// The panicking call gets ErrOperationPanicked and every later call gets
// ErrLockPoisoned, because the session may have been left mid-statement.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Gateway struct {
	conn *sql.Conn

	// slot is a one-element semaphore. Holding the token means holding the
	// session; a channel lets waiters give up when their context ends.
	slot chan struct{}

	// mu guards the fields below. It is never held while an operation runs.
	mu       sync.Mutex
	poisoned bool
	cause    any
	closed   bool
}

// NewGateway pins one connection from db and wraps it in a Gateway.
//
// Parameters:
//   - ctx: Context for acquiring the connection
//   - db: Open database (its pool is limited to one connection)
//
// Returns:
//   - *Gateway: Ready-to-use gateway; call Close before closing db
//   - error: If the connection cannot be acquired
func NewGateway(ctx context.Context, db *DB) (*Gateway, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring database session: %w", err)
	}
	return newGateway(conn), nil
}

func newGateway(conn *sql.Conn) *Gateway {
	g := &Gateway{
		conn: conn,
		slot: make(chan struct{}, 1),
	}
	g.slot <- struct{}{}
	return g
}

// Do runs fn with exclusive use of the session.
//
// Do blocks until the session is free or ctx is done. Once fn has started
// it runs to completion; ctx is not consulted again by the gateway.
//
// Returns:
//   - error: fn's error, ctx.Err() while waiting, ErrLockPoisoned,
//     ErrGatewayClosed, or ErrOperationPanicked if fn panicked
func (g *Gateway) Do(ctx context.Context, fn func(conn *sql.Conn) error) (err error) {
	select {
	case <-g.slot:
	case <-ctx.Done():
		return fmt.Errorf("waiting for database session: %w", ctx.Err())
	}
	defer func() {
		if r := recover(); r != nil {
			g.mu.Lock()
			g.poisoned = true
			g.cause = r
			g.mu.Unlock()
			err = fmt.Errorf("%w: %v", ErrOperationPanicked, r)
		}
		g.slot <- struct{}{}
	}()

	if err := g.usable(); err != nil {
		return err
	}

	return fn(g.conn)
}

// usable checks poisoning and closure under mu.
func (g *Gateway) usable() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrGatewayClosed
	}
	if g.poisoned {
		return fmt.Errorf("%w: %v", ErrLockPoisoned, g.cause)
	}
	return nil
}

// Poisoned reports whether an earlier operation panicked while holding the
// session.
func (g *Gateway) Poisoned() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.poisoned
}

// HealthCheck verifies the session is alive by running SELECT 1 through the
// gate.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (g *Gateway) HealthCheck(ctx context.Context) error {
	err := g.Do(ctx, func(conn *sql.Conn) error {
		var result int
		return conn.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	})
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close waits for the running operation, if any, then returns the session
// to the pool. Later calls to Do return ErrGatewayClosed.
//
// Returns:
//   - error: If releasing the connection fails
func (g *Gateway) Close() error {
	<-g.slot
	defer func() { g.slot <- struct{}{} }()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	if err := g.conn.Close(); err != nil {
		return fmt.Errorf("closing database session: %w", err)
	}
	return nil
}
