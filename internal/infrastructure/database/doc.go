// Package database provides the agent's SQLite storage: connection setup
// with WAL mode and busy timeout, and versioned schema migrations.
//
// Migrations are plain SQL files embedded by the migrations package and
// applied in version order, each in its own transaction:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
package database
