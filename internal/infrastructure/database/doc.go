// Package database provides SQLite connectivity for the instrument hub.
//
// The hub persists instrument snapshots and the metadata users attach to
// instruments. This package owns the connection and the schema; the
// snapshot package owns the queries.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Embedded, versioned schema migrations
//   - Transaction helpers
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Each one runs in its own transaction.
package database
