// Package database provides SQLite connectivity for the VWire device agent.
//
// The device keeps a small local database: configured hardware pins, the
// last known virtual pin values, and anything else that must survive a
// restart. This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Connection pooling and lifecycle management
//   - Health checks for the supervision loop
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(cfg.Store)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// Schema ownership lives with the store package, which versions its tables
// with PRAGMA user_version.
package database
