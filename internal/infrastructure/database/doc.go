// Package database provides SQLite database connectivity for Callpoint Core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded schema migrations (additive-only)
//   - Connection lifecycle and health checks
//
// The token store and provision log are the only mutable shared state in the
// provisioning engine; both live here. SQLite's single-writer model combined
// with compare-and-swap UPDATE statements gives the per-token serialization
// the claim path depends on.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
