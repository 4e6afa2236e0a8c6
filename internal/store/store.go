package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/mtzanidakis/relay/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// dsn applies the pragmas to every pooled connection, not only the first.
// Concurrent step writers wait on the busy timeout instead of failing with
// SQLITE_BUSY. Transactions begin immediate so they never upgrade a read lock.
func dsn(path string) string {
	v := url.Values{}
	v.Add("_pragma", "busy_timeout(5000)")
	v.Add("_pragma", "journal_mode(WAL)")
	v.Add("_pragma", "foreign_keys(1)")
	v.Set("_txlock", "immediate")
	return path + "?" + v.Encode()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Snapshot writes a consistent copy of the database to path, which must not
// exist.
func (s *Store) Snapshot(path string) error {
	if _, err := s.db.Exec(`VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id          TEXT PRIMARY KEY,
			tag         TEXT NOT NULL,
			description TEXT,
			model       TEXT,
			schema      TEXT,
			handoffs    TEXT,
			tools       TEXT,
			entry       BOOLEAN DEFAULT FALSE,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL,
			turn        INTEGER NOT NULL,
			agent       TEXT NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			action      TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id, id)`,
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id              TEXT PRIMARY KEY,
			query           TEXT NOT NULL,
			status          TEXT DEFAULT 'running',
			plan            TEXT NOT NULL,
			started_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at    DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS step_results (
			run_id        TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
			step_id       TEXT NOT NULL,
			agent_type    TEXT NOT NULL,
			action        TEXT NOT NULL,
			status        TEXT NOT NULL,
			success       BOOLEAN DEFAULT FALSE,
			result        TEXT,
			error_message TEXT,
			updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, step_id)
		)`,
		`CREATE TABLE IF NOT EXISTS repair_orders (
			ro_number      TEXT PRIMARY KEY,
			status         TEXT NOT NULL,
			customer_id    TEXT,
			vehicle_id     TEXT,
			customer_email TEXT,
			labor_total    REAL DEFAULT 0,
			created_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at     DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS parts (
			part_number        TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			category           TEXT,
			brand              TEXT,
			unit_price         REAL NOT NULL,
			currency           TEXT DEFAULT 'INR',
			quantity_in_stock  INTEGER NOT NULL DEFAULT 0,
			compatible         TEXT,
			created_at         DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at         DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ro_parts (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ro_number   TEXT NOT NULL REFERENCES repair_orders(ro_number),
			part_number TEXT NOT NULL REFERENCES parts(part_number),
			quantity    INTEGER NOT NULL,
			unit_price  REAL NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ro_parts_ro ON ro_parts(ro_number)`,
		`CREATE TABLE IF NOT EXISTS payment_links (
			link_id        TEXT PRIMARY KEY,
			ro_number      TEXT NOT NULL,
			amount         REAL NOT NULL,
			currency       TEXT NOT NULL,
			customer_email TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'ACTIVE',
			url            TEXT NOT NULL,
			expires_at     DATETIME NOT NULL,
			created_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at     DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_links_expiry ON payment_links(status, expires_at)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT,
			value       BLOB NOT NULL,
			nonce       BLOB NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// sqlTime formats t the way CURRENT_TIMESTAMP does so stored values compare
// correctly in SQL.
func sqlTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
