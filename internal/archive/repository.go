package archive

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/serverpop/internal/errors"
	"codeberg.org/mutker/serverpop/internal/logger"
	"codeberg.org/mutker/serverpop/internal/population"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config
	mu     sync.Mutex
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	backupDir := filepath.Join(filepath.Dir(cfg.DBPath), backupDirName)
	if err := ValidateAndUpdateSchema(db, backupDir, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Debug().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Archive repository initialized")

	return &repository{
		db:     db,
		logger: log,
		cfg:    cfg,
	}, nil
}

// Record stores a cycle and its rows in one transaction.
func (r *repository) Record(ctx context.Context, rec *CycleRecord) error {
	errFactory := errors.New()

	if rec == nil || rec.ID == "" || rec.Batch == nil {
		return errFactory.New(ErrInvalidRecord)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
		}
	}()

	batch := rec.Batch
	if _, err := tx.ExecContext(ctx, insertCycleSQL,
		rec.ID,
		batch.Timestamp.UnixNano(),
		int64(batch.Servers),
		int64(batch.Skipped),
		int64(rec.FailedQueries),
		int64(len(batch.Measurements)),
		int64(batch.Players()),
		int64(boolToInt(rec.Written)),
	); err != nil {
		r.logger.Error().Err(err).Msg("Failed to insert cycle")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertMeasurementSQL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, m := range batch.Measurements {
		if _, err := stmt.ExecContext(ctx,
			rec.ID,
			m.Map,
			string(m.Region),
			int64(m.MaxPlayers),
			int64(m.Players),
		); err != nil {
			r.logger.Error().Err(err).Msg("Failed to execute insert")
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	r.logger.Debug().
		Str("cycle_id", rec.ID).
		Int("rows", len(batch.Measurements)).
		Msg("Archived cycle")

	return nil
}

// Cycles returns the most recent cycles, newest first.
func (r *repository) Cycles(ctx context.Context, limit int) ([]CycleSummary, error) {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, selectCyclesSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var cycles []CycleSummary
	for rows.Next() {
		var (
			c       CycleSummary
			ts      int64
			written int
		)
		if err := rows.Scan(&c.ID, &ts, &c.Servers, &c.Skipped, &c.FailedQueries, &c.Rows, &c.Players, &written); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		c.Timestamp = time.Unix(0, ts).UTC()
		c.Written = written == 1
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return cycles, nil
}

// Measurements returns the rows stored for one cycle.
func (r *repository) Measurements(ctx context.Context, cycleID string) ([]population.Measurement, error) {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, selectMeasurementsSQL, cycleID)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []population.Measurement
	for rows.Next() {
		var (
			m      population.Measurement
			region string
			ts     int64
		)
		if err := rows.Scan(&m.Map, &region, &m.MaxPlayers, &m.Players, &ts); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		m.Region = population.RegionGroup(region)
		m.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Debug().Msg("Archive repository closed")

	return nil
}
