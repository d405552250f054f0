package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // Registers the sqlite driver
)

const sqliteSchema = `
-- One row per leaf node of the tree. The primary key gives us ordered
-- prefix scans for free.
CREATE TABLE IF NOT EXISTS nodes (
    path  TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// SQLite is a Store persisted in a single SQLite file. Multi-path
// updates run in one transaction, which is what gives card/index
// mutations their all-or-nothing guarantee.
type SQLite struct {
	conn *sql.DB
	n    *notifier
}

// OpenSQLite opens (or creates) the database at dsn and ensures the
// schema is up to date.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{conn: db, n: newNotifier()}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) Get(ctx context.Context, path string) (json.RawMessage, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM nodes WHERE path = ?`, path).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return json.RawMessage(value), nil
}

func (s *SQLite) GetRange(ctx context.Context, parent, startAfter string, limit int) ([]KV, error) {
	low := parent + "/"
	if startAfter != "" {
		low = parent + "/" + startAfter
	}
	// "0" is "/"+1, so this bounds the scan to the parent's subtree.
	high := parent + "0"

	rows, err := s.conn.QueryContext(ctx, `
		SELECT path, value FROM nodes
		WHERE path > ? AND path < ?
		ORDER BY path
	`, low, high)
	if err != nil {
		return nil, fmt.Errorf("failed to range %s: %w", parent, err)
	}
	defer rows.Close()

	var out []KV
	for rows.Next() {
		var path, value string
		if err := rows.Scan(&path, &value); err != nil {
			return nil, fmt.Errorf("failed to scan row under %s: %w", parent, err)
		}
		child, ok := childOf(parent, path)
		if !ok {
			continue
		}
		out = append(out, KV{Key: child, Value: json.RawMessage(value)})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *SQLite) Set(ctx context.Context, path string, value any) error {
	return s.Update(ctx, map[string]any{path: value})
}

func (s *SQLite) Update(ctx context.Context, values map[string]any) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin update: %w", err)
	}
	defer tx.Rollback()

	changed := make([]string, 0, len(values))
	for path, value := range values {
		if value == nil {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM nodes WHERE path = ? OR path LIKE ? || '/%'`, path, path); err != nil {
				return fmt.Errorf("failed to delete %s: %w", path, err)
			}
		} else {
			raw, err := encode(value)
			if err != nil {
				return fmt.Errorf("failed to encode %s: %w", path, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO nodes (path, value) VALUES (?, ?)
				 ON CONFLICT(path) DO UPDATE SET value = excluded.value`, path, string(raw)); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
		}
		changed = append(changed, path)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update: %w", err)
	}
	s.n.notify(changed)
	return nil
}

func (s *SQLite) Remove(ctx context.Context, path string) error {
	return s.Update(ctx, map[string]any{path: nil})
}

func (s *SQLite) Subscribe(path string, onChange func()) (cancel func()) {
	return s.n.subscribe(path, onChange)
}
