package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database types
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// DefaultSQLitePath is used when no DSN is configured for SQLite
const DefaultSQLitePath = "data/adaptengine.db"

// DB is the global database connection
var DB *sqlx.DB

// Connect establishes a connection to the database and creates the schema
func Connect(dbType, dsn string) error {
	var (
		db  *sqlx.DB
		err error
	)
	switch dbType {
	case "", TypeSQLite:
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		if dsn != ":memory:" {
			// Create data directory if it doesn't exist
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		db, err = sqlx.Connect("sqlite3", dsn)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case TypePostgres:
		if dsn == "" {
			return fmt.Errorf("postgres requires a DSN")
		}
		db, err = sqlx.Connect("postgres", dsn)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
	default:
		return fmt.Errorf("unsupported database type %q", dbType)
	}

	DB = db
	return initializeSchema()
}

// Close closes the database connection
func Close() error {
	if DB != nil {
		err := DB.Close()
		DB = nil
		return err
	}
	return nil
}

// isPostgres reports whether the open connection uses the postgres driver
func isPostgres() bool {
	return DB.DriverName() == "postgres"
}

// initializeSchema creates necessary tables if they don't exist
func initializeSchema() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if isPostgres() {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	tables := []struct {
		name string
		ddl  string
	}{
		{"learning_objectives", `
			CREATE TABLE IF NOT EXISTS learning_objectives (
				id %s,
				name TEXT NOT NULL UNIQUE,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`},
		{"items", `
			CREATE TABLE IF NOT EXISTS items (
				id %s,
				external_id TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL DEFAULT '',
				module INTEGER NOT NULL DEFAULT 0,
				difficulty DOUBLE PRECISION NOT NULL DEFAULT 0,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`},
		{"item_tags", `
			CREATE TABLE IF NOT EXISTS item_tags (
				item_id BIGINT NOT NULL REFERENCES items(id),
				lo_id BIGINT NOT NULL REFERENCES learning_objectives(id),
				relevance DOUBLE PRECISION NOT NULL,
				guess DOUBLE PRECISION,
				slip DOUBLE PRECISION,
				transit DOUBLE PRECISION,
				UNIQUE(item_id, lo_id)
			)`},
		{"prerequisites", `
			CREATE TABLE IF NOT EXISTS prerequisites (
				prerequisite_id BIGINT NOT NULL REFERENCES learning_objectives(id),
				lo_id BIGINT NOT NULL REFERENCES learning_objectives(id),
				weight DOUBLE PRECISION NOT NULL,
				UNIQUE(prerequisite_id, lo_id)
			)`},
		{"learners", `
			CREATE TABLE IF NOT EXISTS learners (
				id %s,
				external_id TEXT NOT NULL UNIQUE,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`},
		{"attempts", `
			CREATE TABLE IF NOT EXISTS attempts (
				id %s,
				learner_id BIGINT NOT NULL REFERENCES learners(id),
				item_id BIGINT NOT NULL REFERENCES items(id),
				score DOUBLE PRECISION NOT NULL,
				attempted_at TIMESTAMP NOT NULL
			)`},
		{"mastery", `
			CREATE TABLE IF NOT EXISTS mastery (
				learner_id BIGINT NOT NULL REFERENCES learners(id),
				lo_id BIGINT NOT NULL REFERENCES learning_objectives(id),
				probability DOUBLE PRECISION NOT NULL,
				exposure DOUBLE PRECISION NOT NULL DEFAULT 0,
				last_seen_item BIGINT REFERENCES items(id),
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(learner_id, lo_id)
			)`},
		{"calibration_runs", `
			CREATE TABLE IF NOT EXISTS calibration_runs (
				id TEXT PRIMARY KEY,
				version INTEGER NOT NULL,
				learners INTEGER NOT NULL,
				degenerate_guess INTEGER NOT NULL DEFAULT 0,
				degenerate_slip INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMP NOT NULL,
				finished_at TIMESTAMP NOT NULL
			)`},
		{"calibrated_parameters", `
			CREATE TABLE IF NOT EXISTS calibrated_parameters (
				run_id TEXT NOT NULL REFERENCES calibration_runs(id),
				item_id BIGINT NOT NULL REFERENCES items(id),
				lo_id BIGINT NOT NULL REFERENCES learning_objectives(id),
				guess DOUBLE PRECISION NOT NULL,
				slip DOUBLE PRECISION NOT NULL,
				transit DOUBLE PRECISION NOT NULL,
				UNIQUE(run_id, item_id, lo_id)
			)`},
		{"calibrated_priors", `
			CREATE TABLE IF NOT EXISTS calibrated_priors (
				run_id TEXT NOT NULL REFERENCES calibration_runs(id),
				lo_id BIGINT NOT NULL REFERENCES learning_objectives(id),
				prior DOUBLE PRECISION NOT NULL,
				UNIQUE(run_id, lo_id)
			)`},
	}

	for _, t := range tables {
		ddl := t.ddl
		if strings.Contains(ddl, "%s") {
			ddl = fmt.Sprintf(ddl, serial)
		}
		if _, err := DB.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
	}

	if _, err := DB.Exec("CREATE INDEX IF NOT EXISTS idx_attempts_time ON attempts(attempted_at, id)"); err != nil {
		return fmt.Errorf("failed to create attempts index: %w", err)
	}
	return nil
}
