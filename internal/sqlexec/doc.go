// Package sqlexec runs parameterised statements against the shared SQLite
// session and returns results as scalar values.
//
// An Executor has three statement modes that differ only after execution:
//
//   - Execute runs a statement for effect and returns the session's
//     last-inserted-row id (whether or not this statement inserted).
//   - QueryRows drains the cursor into keyed Records, columns in
//     declaration order.
//   - QueryTuples drains the cursor into positional rows.
//
// LastInsertID reads the id without running caller SQL.
//
// Every call holds the session gateway from prepare through the last row,
// so two calls never interleave. Once a statement starts it runs to
// completion: the caller's context only bounds the wait for the gateway.
//
// Parameters are bound positionally to ? placeholders. Bind converts the
// owned scalars into one argument list sized to the parameter count; the
// count is limited by Config.MaxParams and exceeding it fails with
// ErrArityExceeded before the session is touched.
package sqlexec
