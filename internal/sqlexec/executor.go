package sqlexec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/sqlbridge/internal/scalar"
)

// DefaultMaxParams is the parameter limit used when Config.MaxParams is
// unset. It matches SQLite's historical SQLITE_MAX_VARIABLE_NUMBER.
const DefaultMaxParams = 999

// Statement modes, used for logging and metrics.
const (
	ModeExecute     = "execute"
	ModeQueryRows   = "query"
	ModeQueryTuples = "query_tuple"
	ModeLastID      = "last_id"
)

// Gateway grants exclusive use of the shared session.
// Implemented by database.Gateway.
type Gateway interface {
	Do(ctx context.Context, fn func(conn *sql.Conn) error) error
}

// Observer receives one callback per finished operation.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	ObserveStatement(mode string, elapsed time.Duration, rows int, err error)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Config controls executor limits.
type Config struct {
	// MaxParams is the largest accepted parameter count. Zero means
	// DefaultMaxParams.
	MaxParams int
}

// Record is one keyed result row. Columns keeps declaration order and is
// shared by every Record of the same result set.
type Record struct {
	Columns []string
	Values  []scalar.Value
}

// Get returns the value of the first column named name.
func (r Record) Get(name string) (scalar.Value, bool) {
	for i, c := range r.Columns {
		if c == name {
			return r.Values[i], true
		}
	}
	return scalar.Value{}, false
}

// Executor runs statements against the shared session.
//
// Thread Safety:
//   - All methods are safe for concurrent use; the gateway serialises
//     the actual database work.
type Executor struct {
	gw        Gateway
	maxParams int

	observer Observer
	logger   Logger
	hookMu   sync.RWMutex
}

// New creates an Executor over gw.
func New(gw Gateway, cfg Config) *Executor {
	maxParams := cfg.MaxParams
	if maxParams <= 0 {
		maxParams = DefaultMaxParams
	}
	return &Executor{
		gw:        gw,
		maxParams: maxParams,
	}
}

// MaxParams returns the largest accepted parameter count.
func (e *Executor) MaxParams() int {
	return e.maxParams
}

// SetLogger sets a logger for per-statement debug logging.
func (e *Executor) SetLogger(logger Logger) {
	e.hookMu.Lock()
	e.logger = logger
	e.hookMu.Unlock()
}

// SetObserver sets an observer notified after every operation.
func (e *Executor) SetObserver(observer Observer) {
	e.hookMu.Lock()
	e.observer = observer
	e.hookMu.Unlock()
}

// Bind turns owned scalars into a positional argument list of exactly
// len(params) entries. Null binds as nil (SQL NULL).
//
// Returns:
//   - []any: Arguments in placeholder order
//   - error: ErrArityExceeded if len(params) > maxParams
func Bind(params []scalar.Value, maxParams int) ([]any, error) {
	if len(params) > maxParams {
		return nil, fmt.Errorf("%w: got %d, maximum is %d", ErrArityExceeded, len(params), maxParams)
	}
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p.Arg()
	}
	return args, nil
}

// Execute prepares query, binds params and runs it for effect.
//
// The returned id is the session's last-inserted-row id after the
// statement, which is the most recent insert on the session, not
// necessarily one made by this statement.
func (e *Executor) Execute(ctx context.Context, query string, params []scalar.Value) (int64, error) {
	args, err := Bind(params, e.maxParams)
	if err != nil {
		return 0, err
	}

	var id int64
	start := time.Now()
	err = e.gw.Do(ctx, func(conn *sql.Conn) error {
		run := context.WithoutCancel(ctx)

		stmt, err := conn.PrepareContext(run, query)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPrepare, err)
		}
		defer stmt.Close() //nolint:errcheck // Close error carries no extra information here

		res, err := stmt.ExecContext(run, args...)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrExecute, err)
		}

		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: reading last insert id: %w", ErrExecute, err)
		}
		return nil
	})
	e.finish(ModeExecute, query, start, 0, err)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// QueryRows prepares query, binds params and returns every row as a keyed
// Record in cursor order. An empty result is an empty, non-nil slice.
func (e *Executor) QueryRows(ctx context.Context, query string, params []scalar.Value) ([]Record, error) {
	out := []Record{}
	err := e.query(ctx, ModeQueryRows, query, params, func(cols []string, vals []scalar.Value) {
		out = append(out, Record{Columns: cols, Values: vals})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QueryTuples is QueryRows with positional rows and no column names.
func (e *Executor) QueryTuples(ctx context.Context, query string, params []scalar.Value) ([][]scalar.Value, error) {
	out := [][]scalar.Value{}
	err := e.query(ctx, ModeQueryTuples, query, params, func(_ []string, vals []scalar.Value) {
		out = append(out, vals)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QueryOne returns the first keyed row of query, or ErrNotFound.
// The whole result set is still drained.
func (e *Executor) QueryOne(ctx context.Context, query string, params []scalar.Value) (Record, error) {
	rows, err := e.QueryRows(ctx, query, params)
	if err != nil {
		return Record{}, err
	}
	if len(rows) == 0 {
		return Record{}, ErrNotFound
	}
	return rows[0], nil
}

// LastInsertID returns the session's last-inserted-row id without running
// any caller statement.
func (e *Executor) LastInsertID(ctx context.Context) (int64, error) {
	var id int64
	start := time.Now()
	err := e.gw.Do(ctx, func(conn *sql.Conn) error {
		if err := conn.QueryRowContext(context.WithoutCancel(ctx), "SELECT last_insert_rowid()").Scan(&id); err != nil {
			return fmt.Errorf("%w: reading last insert id: %w", ErrExecute, err)
		}
		return nil
	})
	e.finish(ModeLastID, "", start, 0, err)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// query runs the shared prepare/bind/execute/drain sequence and hands each
// decoded row to emit. cols is captured once before the first row.
//
// Rows are read from the driver connection directly so that every cell
// keeps the storage class SQLite reports for it. database/sql would hand
// back the driver's conversions for BOOLEAN, DATE, DATETIME and TIMESTAMP
// columns instead.
func (e *Executor) query(ctx context.Context, mode, query string, params []scalar.Value, emit func(cols []string, vals []scalar.Value)) error {
	args, err := Bind(params, e.maxParams)
	if err != nil {
		return err
	}

	count := 0
	start := time.Now()
	err = e.gw.Do(ctx, func(conn *sql.Conn) error {
		run := context.WithoutCancel(ctx)
		return conn.Raw(func(driverConn any) error {
			sc, ok := driverConn.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("%w: unexpected driver connection %T", ErrExecute, driverConn)
			}
			return drain(run, sc, query, args, func(cols []string, vals []scalar.Value) {
				emit(cols, vals)
				count++
			})
		})
	})
	e.finish(mode, query, start, count, err)
	return err
}

// drain prepares query on sc, runs it with args and decodes every row.
func drain(ctx context.Context, sc *sqlite3.SQLiteConn, query string, args []any, emit func(cols []string, vals []scalar.Value)) error {
	ds, err := sc.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPrepare, err)
	}
	defer ds.Close() //nolint:errcheck // Close error carries no extra information here

	stmt, ok := ds.(*sqlite3.SQLiteStmt)
	if !ok {
		return fmt.Errorf("%w: unexpected driver statement %T", ErrExecute, ds)
	}

	named := make([]driver.NamedValue, len(args))
	for i, a := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: a}
	}

	dr, err := stmt.QueryContext(ctx, named)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecute, err)
	}
	defer dr.Close() //nolint:errcheck // Next errors are checked below

	rows, ok := dr.(*sqlite3.SQLiteRows)
	if !ok {
		return fmt.Errorf("%w: unexpected driver rows %T", ErrExecute, dr)
	}

	// DeclTypes hands out the slice Next consults. Blank names match no
	// conversion rule, so Next returns each cell by its storage class.
	decl := rows.DeclTypes()
	for i := range decl {
		decl[i] = ""
	}

	cols := rows.Columns()
	cells := make([]driver.Value, len(cols))
	for row := 0; ; row++ {
		err := rows.Next(cells)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrExecute, err)
		}

		vals := make([]scalar.Value, len(cols))
		for i, cell := range cells {
			v, err := scalar.FromDriver(cell)
			if err != nil {
				return fmt.Errorf("%w: row %d column %q: %w", ErrRowDecode, row, cols[i], err)
			}
			vals[i] = v
		}
		emit(cols, vals)
	}
}

// finish reports a completed operation to the logger and observer.
func (e *Executor) finish(mode, query string, start time.Time, rows int, err error) {
	elapsed := time.Since(start)

	e.hookMu.RLock()
	logger, observer := e.logger, e.observer
	e.hookMu.RUnlock()

	if logger != nil {
		if err != nil {
			logger.Warn("statement failed",
				"mode", mode,
				"sql", query,
				"duration_ms", elapsed.Milliseconds(),
				"error", err,
			)
		} else {
			logger.Debug("statement complete",
				"mode", mode,
				"sql", query,
				"rows", rows,
				"duration_ms", elapsed.Milliseconds(),
			)
		}
	}
	if observer != nil {
		observer.ObserveStatement(mode, elapsed, rows, err)
	}
}
