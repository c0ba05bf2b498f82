package archive

import (
	"database/sql"

	"codeberg.org/mutker/serverpop/internal/errors"
	"codeberg.org/mutker/serverpop/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS cycles (
	       id             TEXT PRIMARY KEY,
	       timestamp      INTEGER NOT NULL CHECK (typeof(timestamp) = 'integer'),
	       servers        INTEGER NOT NULL CHECK (typeof(servers) = 'integer'),
	       skipped        INTEGER NOT NULL CHECK (typeof(skipped) = 'integer'),
	       failed_queries INTEGER NOT NULL CHECK (typeof(failed_queries) = 'integer'),
	       row_count      INTEGER NOT NULL CHECK (typeof(row_count) = 'integer'),
	       players        INTEGER NOT NULL CHECK (typeof(players) = 'integer'),
	       written        INTEGER NOT NULL CHECK (written IN (0, 1))
	   );
	   CREATE TABLE IF NOT EXISTS measurements (
	       cycle_id    TEXT NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
	       map         TEXT NOT NULL,
	       region      TEXT NOT NULL,
	       max_players INTEGER NOT NULL CHECK (typeof(max_players) = 'integer'),
	       players     INTEGER NOT NULL CHECK (typeof(players) = 'integer'),
	       PRIMARY KEY (cycle_id, map, region, max_players)
	   );
	   CREATE INDEX IF NOT EXISTS idx_cycles_timestamp ON cycles (timestamp);`

	insertCycleSQL = `
    INSERT INTO cycles (
        id, timestamp,
        servers, skipped, failed_queries,
        row_count, players, written
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	insertMeasurementSQL = `
    INSERT INTO measurements (
        cycle_id, map, region, max_players, players
    ) VALUES (?, ?, ?, ?, ?)`

	selectCyclesSQL = `
    SELECT id, timestamp, servers, skipped, failed_queries, row_count, players, written
    FROM cycles
    ORDER BY timestamp DESC, id
    LIMIT ?`

	selectMeasurementsSQL = `
    SELECT m.map, m.region, m.max_players, m.players, c.timestamp
    FROM measurements m
    JOIN cycles c ON c.id = m.cycle_id
    WHERE m.cycle_id = ?
    ORDER BY m.map, m.max_players, m.region`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				// Only log if it's not the "already committed" error
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	log.Debug().Str("sql", createTablesSQL).Msg("Executing SQL statement")
	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
