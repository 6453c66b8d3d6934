package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS requisitions (
	requisition_id  TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	institution_id  TEXT NOT NULL,
	status          TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	account_id      TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	institution_id  TEXT NOT NULL DEFAULT '',
	iban            TEXT NOT NULL DEFAULT '',
	bban            TEXT NOT NULL DEFAULT '',
	owner_name      TEXT NOT NULL DEFAULT '',
	display_name    TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT '',
	currency        TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	transaction_id           TEXT PRIMARY KEY,
	account_id               TEXT NOT NULL REFERENCES accounts(account_id),
	amount                   REAL NOT NULL,
	currency                 TEXT NOT NULL DEFAULT '',
	booking_date             TEXT,
	value_date               TEXT,
	merchant_description     TEXT NOT NULL DEFAULT '',
	proprietary_code         TEXT NOT NULL DEFAULT '',
	movement_kind            TEXT NOT NULL DEFAULT 'other',
	category                 TEXT,
	entry_reference          TEXT NOT NULL DEFAULT '',
	internal_transaction_id  TEXT NOT NULL DEFAULT '',
	additional_information   TEXT NOT NULL DEFAULT '',
	created_at               TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fetch_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id  TEXT NOT NULL REFERENCES accounts(account_id),
	scope       TEXT NOT NULL,
	fetched_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS account_queue (
	account_id       TEXT PRIMARY KEY REFERENCES accounts(account_id),
	user_id          TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	attempts         INTEGER NOT NULL DEFAULT 0,
	next_attempt_at  TEXT NOT NULL,
	processed_at     TEXT,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stats_snapshots (
	user_id       TEXT PRIMARY KEY,
	payload       TEXT NOT NULL,
	last_updated  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_booking ON transactions(booking_date);
CREATE INDEX IF NOT EXISTS idx_fetch_log_window ON fetch_log(account_id, scope, fetched_at);
CREATE INDEX IF NOT EXISTS idx_account_queue_status ON account_queue(status, next_attempt_at);
`

// Store is the keyed persistent store backing accounts, transactions, the
// fetch-rate ledger, the account queue, requisitions and statistics
// snapshots.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and ensures the schema
// is at the current version.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	ver, err := currentSchemaVersion(db)
	if err != nil {
		return err
	}
	if ver >= schemaVersion {
		return nil
	}

	if _, err := db.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := db.Exec("DELETE FROM schema_meta"); err != nil {
		return err
	}
	if _, err := db.Exec("INSERT INTO schema_meta (version) VALUES (?)", schemaVersion); err != nil {
		return err
	}
	return nil
}

func currentSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_meta'",
	).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var ver int
	err = db.QueryRow("SELECT version FROM schema_meta LIMIT 1").Scan(&ver)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}
