// Package database provides SQLite connectivity for the Jeedom bridge.
//
// The bridge keeps two tables of its own:
//   - discovery_cache: the last raw discovery payload per Jeedom device,
//     replayed at start-up so entities exist before the broker redelivers
//   - dispatch_audit: one row per command dispatched to Jeedom
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files live in the top-level migrations package and are named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql.
package database
