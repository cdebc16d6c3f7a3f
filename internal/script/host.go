package script

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/nerrad567/sqlbridge/internal/scalar"
	"github.com/nerrad567/sqlbridge/internal/sqlexec"
)

// NotFoundMessage is the value thrown by query_one when nothing matches.
const NotFoundMessage = "Not found"

// Executor is the statement surface the host functions call.
// Implemented by *sqlexec.Executor.
type Executor interface {
	Execute(ctx context.Context, query string, params []scalar.Value) (int64, error)
	QueryRows(ctx context.Context, query string, params []scalar.Value) ([]sqlexec.Record, error)
	QueryTuples(ctx context.Context, query string, params []scalar.Value) ([][]scalar.Value, error)
	QueryOne(ctx context.Context, query string, params []scalar.Value) (sqlexec.Record, error)
	LastInsertID(ctx context.Context) (int64, error)
}

// host owns the native functions installed into one runtime.
type host struct {
	ctx    context.Context
	exec   Executor
	codec  *codec
	caller []byte
}

// Install registers the SQLite global, the db alias object and me() in rt.
//
// ctx bounds every wait for the database session made by the installed
// functions. caller is returned by me() and may be empty.
func Install(ctx context.Context, rt *goja.Runtime, exec Executor, caller []byte) error {
	_, err := install(ctx, rt, exec, caller)
	return err
}

// install is Install returning the host, whose codec holds the runtime's
// builtins as they were before any script ran.
func install(ctx context.Context, rt *goja.Runtime, exec Executor, caller []byte) (*host, error) {
	c, err := newCodec(rt)
	if err != nil {
		return nil, err
	}
	h := &host{
		ctx:    ctx,
		exec:   exec,
		codec:  c,
		caller: append([]byte(nil), caller...),
	}

	sqlite := rt.NewObject()
	fns := map[string]func(goja.FunctionCall) goja.Value{
		"execute":     h.execute,
		"query":       h.query,
		"query_tuple": h.queryTuple,
		"query_one":   h.queryOne,
		"last_id":     h.lastID,
	}
	db := rt.NewObject()
	for _, name := range []string{"execute", "query", "query_tuple", "query_one", "last_id"} {
		fn := rt.ToValue(fns[name])
		if err := sqlite.Set(name, fn); err != nil {
			return nil, fmt.Errorf("registering SQLite.%s: %w", name, err)
		}
		if err := db.Set(name, fn); err != nil {
			return nil, fmt.Errorf("registering db.%s: %w", name, err)
		}
	}

	if err := rt.Set("SQLite", sqlite); err != nil {
		return nil, fmt.Errorf("registering SQLite: %w", err)
	}
	if err := rt.Set("db", db); err != nil {
		return nil, fmt.Errorf("registering db: %w", err)
	}
	if err := rt.Set("me", h.me); err != nil {
		return nil, fmt.Errorf("registering me: %w", err)
	}
	return h, nil
}

// throw raises err as a catchable script exception.
func (h *host) throw(err error) {
	panic(h.codec.rt.NewGoError(err))
}

// bind decodes the call or throws.
func (h *host) bind(call goja.FunctionCall) (string, []scalar.Value) {
	query, params, err := h.codec.bindCall(call.Arguments)
	if err != nil {
		h.throw(err)
	}
	return query, params
}

func (h *host) execute(call goja.FunctionCall) goja.Value {
	query, params := h.bind(call)
	id, err := h.exec.Execute(h.ctx, query, params)
	if err != nil {
		h.throw(err)
	}
	return h.codec.rt.ToValue(id)
}

func (h *host) query(call goja.FunctionCall) goja.Value {
	query, params := h.bind(call)
	recs, err := h.exec.QueryRows(h.ctx, query, params)
	if err != nil {
		h.throw(err)
	}
	return h.codec.records(recs)
}

func (h *host) queryTuple(call goja.FunctionCall) goja.Value {
	query, params := h.bind(call)
	rows, err := h.exec.QueryTuples(h.ctx, query, params)
	if err != nil {
		h.throw(err)
	}
	return h.codec.tuples(rows)
}

func (h *host) queryOne(call goja.FunctionCall) goja.Value {
	query, params := h.bind(call)
	rec, err := h.exec.QueryOne(h.ctx, query, params)
	if errors.Is(err, sqlexec.ErrNotFound) {
		panic(h.codec.rt.ToValue(NotFoundMessage))
	}
	if err != nil {
		h.throw(err)
	}
	return h.codec.record(rec)
}

func (h *host) lastID(goja.FunctionCall) goja.Value {
	id, err := h.exec.LastInsertID(h.ctx)
	if err != nil {
		h.throw(err)
	}
	return h.codec.rt.ToValue(id)
}

func (h *host) me(goja.FunctionCall) goja.Value {
	return h.codec.bytes(h.caller)
}
