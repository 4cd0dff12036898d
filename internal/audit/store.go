package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// Store archives chain entries to a database/sql database. The composition
// root opens it against a local SQLite file; tests use :memory:.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle and ensures the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	const schema = `
	CREATE TABLE IF NOT EXISTS audit_trail (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recorded_at TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		payload TEXT NOT NULL,
		hash TEXT UNIQUE NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_trail_hash ON audit_trail(hash);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Archive persists a batch of chain entries in one transaction.
func (s *Store) Archive(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_trail (recorded_at, previous_hash, payload, hash)
			VALUES (?, ?, ?, ?)
		`, entry.Timestamp, entry.PreviousHash, entry.Payload, entry.Hash)
		if err != nil {
			return fmt.Errorf("failed to archive trail entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trail batch: %w", err)
	}
	return nil
}

// Head returns the hash of the most recently archived entry, or "" when the
// trail is empty. Used to resume the chain across process restarts.
func (s *Store) Head(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT hash FROM audit_trail ORDER BY id DESC LIMIT 1
	`).Scan(&hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to read trail head: %w", err)
	}
	return hash, nil
}

// Load reads the full archived trail in insertion order.
func (s *Store) Load(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recorded_at, previous_hash, payload, hash
		FROM audit_trail
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trail: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.Timestamp, &entry.PreviousHash, &entry.Payload, &entry.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan trail entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
