// Package database provides SQLite connectivity for the telemetry journal.
//
// It opens the database with WAL mode and a busy timeout, limits the pool
// to a single connection (SQLite has one writer), and applies versioned
// migrations from any fs.FS, normally the embedded migrations package:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Migrations are additive: new columns are
// nullable or carry a default.
package database
