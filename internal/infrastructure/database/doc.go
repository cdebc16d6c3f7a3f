// Package database provides SQLite connectivity for sqlbridge.
//
// This package manages:
//   - Opening the database file (or an in-memory database) with WAL mode
//     and a busy timeout
//   - Pinning the single session every script shares
//   - Serialising access to that session through a Gateway
//
// # Single Session
//
// last_insert_rowid() and in-memory databases are per-connection, so the
// pool is limited to one connection and the Gateway holds it for the life
// of the process. Every script operation (prepare, bind, execute and, for
// queries, the full row drain) runs inside Gateway.Do.
//
// # Poisoning
//
// A panic inside Gateway.Do is recovered and returned to that caller as
// ErrOperationPanicked. The gateway is then poisoned and every subsequent
// call fails with ErrLockPoisoned instead of touching a session that may
// have been left mid-statement.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	gw, err := database.NewGateway(ctx, db)
//	if err != nil {
//	    return err
//	}
//	defer gw.Close()
//
// Security Considerations:
//   - Scripts only reach the database through parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
package database
