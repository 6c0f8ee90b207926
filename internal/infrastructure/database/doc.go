// Package database provides SQLite connectivity for the event journal.
//
// This package manages:
//   - Database connection, file-backed or in memory
//   - Schema migrations from an fs.FS (additive only)
//   - Connection pool settings suited to SQLite's single writer
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Journal.Path, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
package database
