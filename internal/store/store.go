package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/assessor/internal/kv"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed document store. The same type serves as the
// remote result/invitation store and, opened on a separate file, as the
// device-scoped key/value store.
type Store struct {
	db *sql.DB
}

var _ kv.KV = (*Store)(nil)

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		test_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		locale TEXT NOT NULL DEFAULT 'en',
		categories TEXT NOT NULL DEFAULT '[]',
		answers TEXT NOT NULL,
		payload TEXT NOT NULL,
		response_times TEXT NOT NULL DEFAULT '{}',
		completed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_results_owner ON results(owner_id, test_id);

	CREATE TABLE IF NOT EXISTS invitations (
		id TEXT PRIMARY KEY,
		result_id TEXT NOT NULL,
		test_id TEXT NOT NULL,
		inviter_email TEXT NOT NULL,
		partner_email TEXT NOT NULL,
		partner_name TEXT NOT NULL DEFAULT '',
		categories TEXT NOT NULL DEFAULT '[]',
		locale TEXT NOT NULL DEFAULT 'en',
		created_at DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		partner_result_id TEXT NOT NULL DEFAULT '',
		status_updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS compatibility_results (
		owner_id TEXT NOT NULL,
		pair_id TEXT NOT NULL,
		first_result_id TEXT NOT NULL,
		second_result_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (owner_id, pair_id)
	);

	CREATE TABLE IF NOT EXISTS bank_questions (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		type TEXT NOT NULL,
		correct TEXT NOT NULL DEFAULT '',
		display_seconds INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_bank_questions_kind ON bank_questions(kind);

	CREATE TABLE IF NOT EXISTS bank_translations (
		question_id TEXT NOT NULL,
		locale TEXT NOT NULL,
		text TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		memorize TEXT NOT NULL DEFAULT '[]',
		explanation TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (question_id, locale),
		FOREIGN KEY (question_id) REFERENCES bank_questions(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the value stored under key.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set upserts a key/value pair.
func (s *Store) Set(key string, value []byte) error {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = ?`,
		key, value, now, value, now,
	)
	return err
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

// Keys lists keys starting with prefix in lexical order.
func (s *Store) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
